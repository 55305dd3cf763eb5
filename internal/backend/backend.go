// Package backend opens the stores selected by configuration.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"

	"github.com/tendant/simple-idm-stepflow/internal/config"
	"github.com/tendant/simple-idm-stepflow/internal/notification"
	"github.com/tendant/simple-idm-stepflow/pkg/auth"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/repository"
	"github.com/tendant/simple-idm-stepflow/pkg/sessions"
	"github.com/tendant/simple-idm-stepflow/pkg/settings"
	boltstore "github.com/tendant/simple-idm-stepflow/pkg/storage/bolt"
	"github.com/tendant/simple-idm-stepflow/pkg/storage/memory"
	redisstore "github.com/tendant/simple-idm-stepflow/pkg/storage/redis"
)

// Profiles stores and reads onboarding profiles.
type Profiles interface {
	Save(ctx context.Context, profile *domain.StoredProfile) error
	GetByUsername(ctx context.Context, username string) (*domain.StoredProfile, error)
}

// Backends holds the opened stores.
type Backends struct {
	Users    auth.UserStore
	Settings settings.Repository
	Profiles Profiles
	Sessions sessions.Store

	closers []func() error
}

// Close releases every opened resource in reverse order.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Open opens the data store and the session store named by cfg. On error
// anything already opened is closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backends, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backends{}
	if err := b.open(ctx, cfg, logger); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) open(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var bolt *boltstore.Store
	openBolt := func() (*boltstore.Store, error) {
		if bolt != nil {
			return bolt, nil
		}
		s, err := boltstore.Open(cfg.BoltPath, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		logger.Info("opened bbolt store", "path", cfg.BoltPath)
		bolt = s
		return s, nil
	}

	switch cfg.StoreBackend {
	case config.StoreMemory:
		users := memory.NewUserStore()
		if cfg.DemoUsers {
			if err := users.Seed(memory.DemoUsers...); err != nil {
				return fmt.Errorf("seed demo users: %w", err)
			}
			logger.Warn("demo users enabled", "count", len(memory.DemoUsers))
		}
		b.Users = users
		b.Settings = memory.NewSettingsStore()
		b.Profiles = memory.NewProfileStore()

	case config.StorePostgres:
		db, err := repository.NewDB(ctx, cfg.DatabaseURL())
		if err != nil {
			return err
		}
		b.closers = append(b.closers, db.Close)
		if err := repository.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("connected to database", "host", cfg.DBHost, "name", cfg.DBName)
		b.usePostgres(db)

	case config.StoreBolt:
		s, err := openBolt()
		if err != nil {
			return err
		}
		b.Users = s.Users()
		b.Settings = s.Settings()
		b.Profiles = s.Profiles()

	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	switch cfg.SessionBackend {
	case config.SessionMemory:
		b.Sessions = memory.NewSessionStore()

	case config.SessionRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.closers = append(b.closers, client.Close)
		store := redisstore.NewSessionStore(client, cfg.RedisPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return err
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
		b.Sessions = store

	case config.SessionBolt:
		s, err := openBolt()
		if err != nil {
			return err
		}
		b.Sessions = s.Sessions()

	default:
		return fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
	return nil
}

func (b *Backends) usePostgres(db *sql.DB) {
	b.Users = repository.NewUsersRepository(db)
	b.Settings = repository.NewSettingsRepository(db)
	b.Profiles = repository.NewProfilesRepository(db)
}

// Deliverer returns the one-time code deliverer named by cfg.CodeDelivery.
func Deliverer(cfg *config.Config, users auth.UserLookup, logger *slog.Logger) (auth.Deliverer, error) {
	switch cfg.CodeDelivery {
	case config.DeliveryLog:
		logger.Warn("one-time codes are written to the log; use CODE_DELIVERY=email in production")
		return notification.NewLogDeliverer(logger), nil
	case config.DeliveryEmail:
		email := notification.NewEmailService(notification.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		logger.Info("email code delivery enabled", "host", cfg.SMTP.Host)
		return notification.NewEmailDeliverer(email, users, logger), nil
	default:
		return nil, fmt.Errorf("unknown code delivery %q", cfg.CodeDelivery)
	}
}

// EmailRules converts the validation settings.
func EmailRules(cfg *config.Config) auth.EmailRules {
	return auth.EmailRules{
		Strict:          cfg.Validation.StrictEmailValidation,
		BlockDisposable: cfg.Validation.BlockDisposableEmail,
	}
}
