package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/events"
	"bookstore/pkg/store"
)

// OrderLine asks for quantity copies of one book.
type OrderLine struct {
	BookID   string `json:"bookId"`
	Quantity int    `json:"quantity"`
}

// OrderInput is a checkout request. ShippingAddress defaults to the customer's address.
type OrderInput struct {
	Items           []OrderLine     `json:"items"`
	PaymentMethod   string          `json:"paymentMethod"`
	ShippingFee     decimal.Decimal `json:"shippingFee"`
	Note            string          `json:"note"`
	ShippingAddress *domain.Address `json:"shippingAddress"`
}

// OrderQuery filters the admin order listing.
type OrderQuery struct {
	Keyword  string
	Status   string
	Page     int
	PageSize int
}

type orderPlacedPayload struct {
	OrderID       string          `json:"orderId"`
	CustomerID    string          `json:"customerId"`
	PaymentMethod string          `json:"paymentMethod"`
	Total         decimal.Decimal `json:"total"`
	Items         []OrderLine     `json:"items"`
}

type orderStatusPayload struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// PlaceOrder creates a pending order for userID. Lines for the same book are merged,
// prices and names are captured from the current catalog, and stock moves in the
// same commit as the order. The decrement is conditional on the stored quantity,
// so a concurrent order that took the stock first fails the commit.
func (a *App) PlaceOrder(ctx context.Context, userID string, in OrderInput) (domain.Order, error) {
	method, ok := domain.ParsePaymentMethod(in.PaymentMethod)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, in.PaymentMethod)
	}
	lines, err := mergeLines(in.Items)
	if err != nil {
		return domain.Order{}, err
	}

	uow := a.begin()
	defer uow.Close()
	customer, err := liveUser(ctx, uow, userID)
	if err != nil {
		return domain.Order{}, err
	}
	ids := lo.Map(lines, func(l OrderLine, _ int) string { return l.BookID })
	found, err := uow.Books().Get(ctx, store.Where("books.id IN ?", ids), store.Include("Category", "Author"))
	if err != nil {
		return domain.Order{}, err
	}
	books := lo.KeyBy(found, func(b domain.Book) string { return b.ID })

	now := a.now()
	address := customer.Address
	if in.ShippingAddress != nil {
		address = *in.ShippingAddress
	}
	order := domain.Order{
		ID:              util.NewID(),
		CustomerID:      customer.ID,
		Date:            now,
		Status:          domain.OrderPending,
		PaymentMethod:   method,
		ShippingFee:     in.ShippingFee,
		Note:            strings.TrimSpace(in.Note),
		ShippingAddress: datatypes.NewJSONType(address),
		UpdatedAt:       now,
	}
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		book, ok := books[line.BookID]
		if !ok || book.IsDeleted {
			return domain.Order{}, fmt.Errorf("%w: book %s", ErrNotFound, line.BookID)
		}
		if book.Quantity < line.Quantity {
			return domain.Order{}, fmt.Errorf("%w: %q has %d left, %d requested",
				ErrInsufficientStock, book.Title, book.Quantity, line.Quantity)
		}
		item := domain.OrderItem{
			ID:        util.NewID(),
			OrderID:   order.ID,
			BookID:    book.ID,
			Quantity:  line.Quantity,
			UnitPrice: book.Price,
			BookTitle: book.Title,
		}
		if book.Author != nil {
			item.AuthorName = book.Author.FullName
		}
		if book.Category != nil {
			item.CategoryName = book.Category.Name
		}
		items = append(items, item)
	}

	if err := uow.Orders().Insert(&order); err != nil {
		return domain.Order{}, err
	}
	if err := uow.OrderItems().AddRange(items); err != nil {
		return domain.Order{}, err
	}
	for _, line := range lines {
		if err := uow.Books().Patch(line.BookID, map[string]any{
			"quantity":   store.Expr("quantity - ?", line.Quantity),
			"buy_count":  store.Expr("buy_count + ?", line.Quantity),
			"updated_at": now,
		}, "quantity >= ? AND is_deleted = ?", line.Quantity, false); err != nil {
			return domain.Order{}, err
		}
	}
	if _, err := uow.Save(ctx); err != nil {
		if errors.Is(err, store.ErrPatchNotApplied) {
			return domain.Order{}, fmt.Errorf("%w: stock changed while the order was placed", ErrInsufficientStock)
		}
		return domain.Order{}, fmt.Errorf("save order: %w", err)
	}
	order.Items = items

	a.observer.OrderPlaced()
	a.publish(ctx, events.TypeOrderPlaced, orderPlacedPayload{
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		PaymentMethod: string(order.PaymentMethod),
		Total:         OrderTotal(order),
		Items:         lines,
	})
	return order, nil
}

// GetOrder returns an order with its items. Customers only see their own orders;
// anyone else's order reads as not found.
func (a *App) GetOrder(ctx context.Context, viewer domain.User, id string) (domain.Order, error) {
	uow := a.begin()
	defer uow.Close()
	order, ok, err := uow.Orders().GetByID(ctx, id, "Items", "Customer")
	if err != nil {
		return domain.Order{}, err
	}
	if !ok || (!viewer.IsAdmin() && order.CustomerID != viewer.ID) {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return order, nil
}

// ListOrdersByUser pages through one customer's orders, newest first.
func (a *App) ListOrdersByUser(ctx context.Context, userID string, page, pageSize int) (store.PageResult[domain.Order], error) {
	uow := a.begin()
	defer uow.Close()
	return uow.Orders().GetPage(ctx, page, pageSize,
		store.Where("customer_id = ?", userID),
		store.Include("Items"),
		store.OrderBy("date DESC"),
	)
}

// ListOrders pages through every order. Keyword matches the order id or the
// customer's username or email.
func (a *App) ListOrders(ctx context.Context, q OrderQuery) (store.PageResult[domain.Order], error) {
	opts := []store.QueryOption{
		store.Include("Items", "Customer"),
		store.OrderBy("orders.date DESC"),
	}
	if raw := strings.TrimSpace(q.Status); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return store.PageResult[domain.Order]{}, fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, raw)
		}
		opts = append(opts, store.Where("orders.status = ?", status))
	}
	if strings.TrimSpace(q.Keyword) != "" {
		p := likePattern(q.Keyword)
		opts = append(opts, store.Where(
			"(LOWER(orders.id) LIKE ? OR EXISTS (SELECT 1 FROM users u WHERE u.id = orders.customer_id AND (LOWER(u.username) LIKE ? OR LOWER(u.email) LIKE ?)))",
			p, p, p,
		))
	}
	uow := a.begin()
	defer uow.Close()
	return uow.Orders().GetPage(ctx, q.Page, q.PageSize, opts...)
}

// UpdateOrderStatus moves an order along its lifecycle. Canceling puts the stock back.
func (a *App) UpdateOrderStatus(ctx context.Context, id, status string) (domain.Order, error) {
	next, ok := domain.ParseOrderStatus(status)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, status)
	}
	uow := a.begin()
	defer uow.Close()
	order, ok, err := uow.Orders().GetByID(ctx, id, "Items")
	if err != nil {
		return domain.Order{}, err
	}
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	prev := order.Status
	if !prev.CanTransitionTo(next) {
		return domain.Order{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, prev, next)
	}

	now := a.now()
	if next == domain.OrderCanceled {
		if err := restock(uow, order.Items, now); err != nil {
			return domain.Order{}, err
		}
	}
	order.Status = next
	order.UpdatedAt = now
	if err := uow.Orders().Update(&order); err != nil {
		return domain.Order{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("save order status: %w", err)
	}

	a.observer.OrderStatusChanged(string(next))
	a.publish(ctx, events.TypeOrderStatusChanged, orderStatusPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		From:       string(prev),
		To:         string(next),
	})
	return order, nil
}

// OrderTotal is the sum of line totals plus shipping.
func OrderTotal(order domain.Order) decimal.Decimal {
	return lo.Reduce(order.Items, func(sum decimal.Decimal, item domain.OrderItem, _ int) decimal.Decimal {
		return sum.Add(item.LineTotal())
	}, order.ShippingFee)
}

func restock(uow *store.UnitOfWork, items []domain.OrderItem, now time.Time) error {
	returned := lo.Reduce(items, func(acc map[string]int, item domain.OrderItem, _ int) map[string]int {
		acc[item.BookID] += item.Quantity
		return acc
	}, map[string]int{})
	ids := lo.Uniq(lo.Map(items, func(item domain.OrderItem, _ int) string { return item.BookID }))
	for _, id := range ids {
		n := returned[id]
		if err := uow.Books().Patch(id, map[string]any{
			"quantity":   store.Expr("quantity + ?", n),
			"buy_count":  store.Expr("CASE WHEN buy_count > ? THEN buy_count - ? ELSE 0 END", n, n),
			"updated_at": now,
		}, ""); err != nil {
			return err
		}
	}
	return nil
}

// mergeLines sums quantities per book, keeping first-seen order.
func mergeLines(lines []OrderLine) ([]OrderLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: an order needs at least one item", ErrInvalidInput)
	}
	for _, l := range lines {
		if strings.TrimSpace(l.BookID) == "" || l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: every item needs a book and a positive quantity", ErrInvalidInput)
		}
	}
	totals := lo.Reduce(lines, func(acc map[string]int, l OrderLine, _ int) map[string]int {
		acc[strings.TrimSpace(l.BookID)] += l.Quantity
		return acc
	}, map[string]int{})
	ids := lo.Uniq(lo.Map(lines, func(l OrderLine, _ int) string { return strings.TrimSpace(l.BookID) }))
	return lo.Map(ids, func(id string, _ int) OrderLine {
		return OrderLine{BookID: id, Quantity: totals[id]}
	}), nil
}
