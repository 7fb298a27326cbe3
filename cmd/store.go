package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	checkoutgrpc "github.com/vibast-solutions/ms-go-checkout/app/grpc"
	"github.com/vibast-solutions/ms-go-checkout/app/repository"
	"github.com/vibast-solutions/ms-go-checkout/app/repository/postgres"
	"github.com/vibast-solutions/ms-go-checkout/app/service"
	"github.com/vibast-solutions/ms-go-checkout/config"
	"github.com/vibast-solutions/ms-go-checkout/migrations"
	_ "modernc.org/sqlite"
)

type orderStore interface {
	CreateBatch(ctx context.Context, orders []*entity.Order) error
	FindFirstByPaymentID(ctx context.Context, paymentID string) (*entity.Order, error)
	ListByPaymentID(ctx context.Context, paymentID string) ([]*entity.Order, error)
	ApplyPaymentStatus(ctx context.Context, update *repository.PaymentStatusUpdate) (int64, error)
	ListStalePendingPaymentIDs(ctx context.Context, cutoff time.Time, limit int32) ([]string, error)
	ExpirePending(ctx context.Context, paymentID string, now time.Time) (int64, error)
}

type settlementStore interface {
	FindByPaymentID(ctx context.Context, paymentID string) (*entity.Settlement, error)
	ListDueDispatch(ctx context.Context, now time.Time, limit int32) ([]*entity.Settlement, error)
	Update(ctx context.Context, settlement *entity.Settlement) error
}

// store is one connection to the order database, whichever driver backs it.
type store struct {
	orders      orderStore
	settlements settlementStore
	ping        func(ctx context.Context) error
	migrate     func(ctx context.Context) error
	close       func()
}

func openStore(ctx context.Context, cfg config.StoreConfig, dsn string) (*store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}

		return &store{
			orders:      postgres.NewOrderRepository(pool),
			settlements: postgres.NewSettlementRepository(pool),
			ping:        pool.Ping,
			migrate:     func(ctx context.Context) error { return migrations.ApplyPostgres(ctx, pool) },
			close:       pool.Close,
		}, nil

	case config.DriverMySQL, config.DriverSQLite:
		db, err := sql.Open(cfg.Driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
		}

		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		if cfg.Driver == config.DriverSQLite {
			// one long-lived connection; an in-memory database dies with it
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
			db.SetConnMaxLifetime(0)
		}

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
		}

		driver := cfg.Driver
		return &store{
			orders:      repository.NewOrderRepository(db),
			settlements: repository.NewSettlementRepository(db),
			ping:        db.PingContext,
			migrate:     func(ctx context.Context) error { return migrations.Apply(ctx, db, driver) },
			close: func() {
				if err := db.Close(); err != nil {
					logrus.WithError(err).Warn("Failed to close database")
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// stores holds the restricted connection used on behalf of storefront users
// and the elevated one used by the webhook, internal lookups and jobs. When
// both DSNs are equal a single connection serves both.
type stores struct {
	restricted *store
	elevated   *store
}

func (s *stores) pings() []checkoutgrpc.PingFunc {
	if s.restricted == s.elevated {
		return []checkoutgrpc.PingFunc{s.elevated.ping}
	}
	return []checkoutgrpc.PingFunc{s.restricted.ping, s.elevated.ping}
}

func (s *stores) close() {
	s.elevated.close()
	if s.restricted != s.elevated {
		s.restricted.close()
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := factory.ConfigureLogging(cfg.Log.Level, cfg.Log.Format); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	return cfg
}

func mustOpenStores(ctx context.Context, cfg *config.Config) *stores {
	elevated, err := openStore(ctx, cfg.Store, cfg.Store.ElevatedDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to elevated order store")
	}
	if cfg.Store.ElevatedDSN == cfg.Store.DSN {
		return &stores{restricted: elevated, elevated: elevated}
	}

	restricted, err := openStore(ctx, cfg.Store, cfg.Store.DSN)
	if err != nil {
		elevated.close()
		logrus.WithError(err).Fatal("Failed to connect to order store")
	}
	return &stores{restricted: restricted, elevated: elevated}
}

func mustCreateJobService() (*config.Config, *service.JobService, func()) {
	cfg := mustLoadConfig()
	db := mustOpenStores(context.Background(), cfg)

	jobService := service.NewJobService(db.elevated.orders, db.elevated.settlements, cfg.Orders, cfg.App.APIKey)
	return cfg, jobService, db.close
}
