package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"bookstore/internal/util"
	"bookstore/pkg/events"
	"bookstore/pkg/storage"
	"bookstore/pkg/store"
)

// Observer receives business counters. *metrics.Metrics satisfies it.
type Observer interface {
	OrderPlaced()
	OrderStatusChanged(status string)
	EventPublishFailed(eventType string)
}

type nopObserver struct{}

func (nopObserver) OrderPlaced()              {}
func (nopObserver) OrderStatusChanged(string) {}
func (nopObserver) EventPublishFailed(string) {}

// Config holds runtime configuration for the core application. DB, Signer,
// Objects and Events are built from the connection settings when left nil.
type Config struct {
	DatabaseURL         string
	RedisAddr           string
	RedisPassword       string
	SessionTTL          time.Duration
	RefreshTTL          time.Duration
	JWTPrivateKeyPath   string
	JWTPublicKeyPath    string
	JWTKeyID            string
	JWTVerifyPublicKeys map[string]string
	JWTIssuer           string
	JWTAudience         string
	JWTLeeway           time.Duration
	MinioEndpoint       string
	MinioAccessKey      string
	MinioSecretKey      string
	MinioBucket         string
	MinioUseSSL         bool
	MinioPublicURL      string
	RabbitMQURL         string

	DB       *gorm.DB
	Signer   *store.JWTSigner
	Objects  storage.ObjectStore
	Events   events.Publisher
	Observer Observer
}

// App implements the bookstore use cases. Every call runs in its own unit of work.
type App struct {
	db         *gorm.DB
	signer     *store.JWTSigner
	objects    storage.ObjectStore
	events     events.Publisher
	observer   Observer
	refreshTTL time.Duration
	now        func() time.Time
	closers    []func() error
}

// New constructs the application, connecting to whatever Config leaves unset.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	a := &App{
		db:         cfg.DB,
		signer:     cfg.Signer,
		objects:    cfg.Objects,
		events:     cfg.Events,
		observer:   cfg.Observer,
		refreshTTL: cfg.RefreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if a.observer == nil {
		a.observer = nopObserver{}
	}

	if a.db == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}

	if a.signer == nil {
		if strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" {
			a.Close()
			return nil, fmt.Errorf("jwtPrivateKeyPath is required")
		}
		revoker, err := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init token revoker: %w", err)
		}
		a.closers = append(a.closers, revoker.Close)
		signer, err := store.NewJWTSignerFromPEM(
			cfg.JWTPrivateKeyPath,
			cfg.JWTPublicKeyPath,
			cfg.JWTKeyID,
			cfg.JWTVerifyPublicKeys,
			cfg.SessionTTL,
			revoker,
			store.JWTOptions{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience, Leeway: cfg.JWTLeeway},
		)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		a.signer = signer
	}

	if a.objects == nil && cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioBucket, cfg.MinioUseSSL, cfg.MinioPublicURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		a.objects = objects
	}

	if a.events == nil {
		if cfg.RabbitMQURL == "" {
			a.events = events.Nop{}
		} else {
			publisher, err := events.NewRabbitPublisher(cfg.RabbitMQURL, slog.Default())
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("init event publisher: %w", err)
			}
			a.events = publisher
			a.closers = append(a.closers, publisher.Close)
		}
	}
	return a, nil
}

// Close releases connections the app opened itself.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Ping checks database connectivity.
func (a *App) Ping(ctx context.Context) error {
	return store.Ping(ctx, a.db)
}

// JWKS returns the public keys access tokens are verified with.
func (a *App) JWKS() []store.JWK {
	return a.signer.JWKS()
}

// SessionTTL is the access token lifetime.
func (a *App) SessionTTL() time.Duration {
	return a.signer.TTL()
}

// RefreshTTL is the refresh token lifetime.
func (a *App) RefreshTTL() time.Duration {
	return a.refreshTTL
}

func (a *App) begin() *store.UnitOfWork {
	return store.NewUnitOfWork(a.db)
}

func (a *App) publish(ctx context.Context, eventType string, payload any) {
	log := util.LoggerFromContext(ctx)
	event, err := events.New(eventType, util.RequestIDFromContext(ctx), payload)
	if err != nil {
		log.Error("build event failed", "event_type", eventType, "err", err)
		a.observer.EventPublishFailed(eventType)
		return
	}
	if err := a.events.Publish(ctx, event); err != nil {
		log.Error("publish event failed", "event_type", eventType, "event_id", event.EventID, "err", err)
		a.observer.EventPublishFailed(eventType)
	}
}

func (a *App) requireObjects() error {
	if a.objects == nil {
		return ErrStorageUnavailable
	}
	return nil
}

// likePattern lower-cases keyword and wraps it for a LIKE match.
func likePattern(keyword string) string {
	return "%" + strings.ToLower(strings.TrimSpace(keyword)) + "%"
}

func containsFold(column, keyword string) store.QueryOption {
	if strings.TrimSpace(keyword) == "" {
		return nil
	}
	return store.Where("LOWER("+column+") LIKE ?", likePattern(keyword))
}
