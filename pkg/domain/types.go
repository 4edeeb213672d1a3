package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Entity is implemented by every persisted record.
type Entity interface {
	TableName() string
	EntityKey() string
}

const (
	RoleAdmin    = "Admin"
	RoleCustomer = "Customer"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "Pending"
	OrderConfirmed OrderStatus = "Confirmed"
	OrderDelivered OrderStatus = "Delivered"
	OrderCompleted OrderStatus = "Completed"
	OrderCanceled  OrderStatus = "Canceled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCanceled},
	OrderConfirmed: {OrderDelivered, OrderCanceled},
	OrderDelivered: {OrderCompleted},
}

// CanTransitionTo reports whether an order in status s may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseOrderStatus parses a status name case-insensitively.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	for _, s := range []OrderStatus{OrderPending, OrderConfirmed, OrderDelivered, OrderCompleted, OrderCanceled} {
		if strings.EqualFold(strings.TrimSpace(raw), string(s)) {
			return s, true
		}
	}
	return "", false
}

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "CashOnDelivery"
	PaymentBankTransfer   PaymentMethod = "BankTransfer"
	PaymentCard           PaymentMethod = "Card"
	PaymentEWallet        PaymentMethod = "EWallet"
)

// ParsePaymentMethod parses a payment method name case-insensitively.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	for _, m := range []PaymentMethod{PaymentCashOnDelivery, PaymentBankTransfer, PaymentCard, PaymentEWallet} {
		if strings.EqualFold(strings.TrimSpace(raw), string(m)) {
			return m, true
		}
	}
	return "", false
}

type Address struct {
	Street   string `json:"street" validate:"max=255"`
	Ward     string `json:"ward" validate:"max=100"`
	District string `json:"district" validate:"max=100"`
	City     string `json:"city" validate:"max=100"`
}

type Role struct {
	ID   string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name string `gorm:"uniqueIndex;not null;type:varchar(50)" json:"name" validate:"required,max=50"`
}

type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null;type:varchar(255)" json:"email" validate:"required,email,max=255"`
	Username     string    `gorm:"uniqueIndex;not null;type:varchar(50)" json:"username" validate:"required,min=3,max=50"`
	FirstName    string    `gorm:"type:varchar(100)" json:"firstName" validate:"max=100"`
	LastName     string    `gorm:"type:varchar(100)" json:"lastName" validate:"max=100"`
	Phone        string    `gorm:"type:varchar(20)" json:"phone" validate:"max=20"`
	Address      Address   `gorm:"embedded;embeddedPrefix:address_" json:"address"`
	PasswordHash string    `gorm:"not null" json:"-" validate:"required"`
	RoleID       string    `gorm:"not null;index;type:varchar(36)" json:"roleId" validate:"required"`
	Role         *Role     `gorm:"foreignKey:RoleID" json:"role,omitempty" validate:"-"`
	IsDeleted    bool      `gorm:"not null;default:false;index" json:"isDeleted"`
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user's loaded role is Admin.
func (u User) IsAdmin() bool {
	return u.Role != nil && u.Role.Name == RoleAdmin
}

type Category struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string    `gorm:"not null;type:varchar(150)" json:"name" validate:"required,max=150"`
	Description string    `gorm:"type:text" json:"description" validate:"max=2000"`
	IsDeleted   bool      `gorm:"not null;default:false;index" json:"isDeleted"`
	CreatedAt   time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Author struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FullName  string    `gorm:"not null;type:varchar(150)" json:"fullName" validate:"required,max=150"`
	Bio       string    `gorm:"type:text" json:"bio" validate:"max=5000"`
	ImageURL  string    `gorm:"type:varchar(500)" json:"imageUrl" validate:"omitempty,url,max=500"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Book struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title       string          `gorm:"not null;type:varchar(255);index" json:"title" validate:"required,max=255"`
	CategoryID  string          `gorm:"not null;index;type:varchar(36)" json:"categoryId" validate:"required"`
	Category    *Category       `gorm:"foreignKey:CategoryID" json:"category,omitempty" validate:"-"`
	AuthorID    string          `gorm:"not null;index;type:varchar(36)" json:"authorId" validate:"required"`
	Author      *Author         `gorm:"foreignKey:AuthorID" json:"author,omitempty" validate:"-"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Quantity    int             `gorm:"not null;default:0" json:"quantity" validate:"gte=0"`
	BuyCount    int             `gorm:"not null;default:0;index" json:"buyCount" validate:"gte=0"`
	ImageURL    string          `gorm:"type:varchar(500)" json:"imageUrl" validate:"omitempty,url,max=500"`
	Description string          `gorm:"type:text" json:"description"`
	IsDeleted   bool            `gorm:"not null;default:false;index" json:"isDeleted"`
	CreatedAt   time.Time       `gorm:"not null" json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Validate checks rules the struct tags cannot express.
func (b Book) Validate() []FieldFailure {
	if b.Price.IsNegative() {
		return []FieldFailure{{Field: "Price", Message: "must not be negative"}}
	}
	return nil
}

type Order struct {
	ID              string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CustomerID      string                      `gorm:"not null;index;type:varchar(36)" json:"customerId" validate:"required"`
	Customer        *User                       `gorm:"foreignKey:CustomerID" json:"customer,omitempty" validate:"-"`
	Date            time.Time                   `gorm:"not null;index" json:"date"`
	Status          OrderStatus                 `gorm:"not null;type:varchar(20);index" json:"status" validate:"required,oneof=Pending Confirmed Delivered Completed Canceled"`
	PaymentMethod   PaymentMethod               `gorm:"not null;type:varchar(20)" json:"paymentMethod" validate:"required,oneof=CashOnDelivery BankTransfer Card EWallet"`
	ShippingFee     decimal.Decimal             `gorm:"type:decimal(12,2);not null" json:"shippingFee"`
	Note            string                      `gorm:"type:text" json:"note" validate:"max=1000"`
	ShippingAddress datatypes.JSONType[Address] `json:"shippingAddress" validate:"-"`
	Items           []OrderItem                 `gorm:"foreignKey:OrderID" json:"items,omitempty" validate:"-"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
}

func (o Order) Validate() []FieldFailure {
	if o.ShippingFee.IsNegative() {
		return []FieldFailure{{Field: "ShippingFee", Message: "must not be negative"}}
	}
	return nil
}

type OrderItem struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID      string          `gorm:"not null;index;type:varchar(36)" json:"orderId" validate:"required"`
	BookID       string          `gorm:"not null;index;type:varchar(36)" json:"bookId" validate:"required"`
	Book         *Book           `gorm:"foreignKey:BookID" json:"book,omitempty" validate:"-"`
	Quantity     int             `gorm:"not null" json:"quantity" validate:"gt=0"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unitPrice"`
	BookTitle    string          `gorm:"type:varchar(255)" json:"bookTitle"`
	AuthorName   string          `gorm:"type:varchar(150)" json:"authorName"`
	CategoryName string          `gorm:"type:varchar(150)" json:"categoryName"`
}

// LineTotal is quantity times the unit price captured at order time.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Rating struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_rating_user_book;type:varchar(36)" json:"userId" validate:"required"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty" validate:"-"`
	BookID    string    `gorm:"not null;uniqueIndex:idx_rating_user_book;index;type:varchar(36)" json:"bookId" validate:"required"`
	Book      *Book     `gorm:"foreignKey:BookID" json:"book,omitempty" validate:"-"`
	Value     int       `gorm:"not null" json:"value" validate:"min=1,max=5"`
	Comment   string    `gorm:"type:text" json:"comment" validate:"max=2000"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

type RefreshToken struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TokenHash string    `gorm:"uniqueIndex;not null;type:varchar(64)" json:"-" validate:"required,len=64"`
	UserID    string    `gorm:"not null;index;type:varchar(36)" json:"userId" validate:"required"`
	ExpiresAt time.Time `gorm:"not null" json:"expiresAt"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

// IsExpired is true once now reaches the stored expiry.
func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// FieldFailure names one failing property of an entity.
type FieldFailure struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (Role) TableName() string         { return "roles" }
func (User) TableName() string         { return "users" }
func (Category) TableName() string     { return "categories" }
func (Author) TableName() string       { return "authors" }
func (Book) TableName() string         { return "books" }
func (Order) TableName() string        { return "orders" }
func (OrderItem) TableName() string    { return "order_items" }
func (Rating) TableName() string       { return "ratings" }
func (RefreshToken) TableName() string { return "refresh_tokens" }

func (r Role) EntityKey() string         { return r.ID }
func (u User) EntityKey() string         { return u.ID }
func (c Category) EntityKey() string     { return c.ID }
func (a Author) EntityKey() string       { return a.ID }
func (b Book) EntityKey() string         { return b.ID }
func (o Order) EntityKey() string        { return o.ID }
func (i OrderItem) EntityKey() string    { return i.ID }
func (r Rating) EntityKey() string       { return r.ID }
func (t RefreshToken) EntityKey() string { return t.ID }
