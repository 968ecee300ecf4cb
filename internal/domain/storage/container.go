package storage

import (
	"context"
	"fmt"

	"linkwave/internal/domain/customers"
	"linkwave/internal/domain/invoices"
	"linkwave/internal/domain/notifylog"
	"linkwave/internal/domain/orders"
	"linkwave/internal/domain/outbox"
	"linkwave/internal/domain/paymentsrepo"
	"linkwave/internal/domain/receivables"
	"linkwave/internal/domain/services"
	"linkwave/internal/domain/webhooks"
	"linkwave/internal/domain/zohosync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Container struct {
	pool         *pgxpool.Pool // required by WithBillingTx
	Customers    customers.Store
	Orders       orders.Store
	Invoices     invoices.Store
	Webhooks     webhooks.Store
	Transactions paymentsrepo.Store
	PayLogs      paymentsrepo.LogsStore
	MonitorLogs  paymentsrepo.MonitorLogStore
	Outbox       outbox.Store
	NotifyLog    notifylog.Store
	ZohoSync     zohosync.Store
	Receivables  receivables.Store
	Services     services.Store
}

func NewContainer(db *pgxpool.Pool) *Container {
	logs := paymentsrepo.NewLogsRepository(db)
	return &Container{
		pool:         db,
		Customers:    customers.NewRepository(db),
		Orders:       orders.NewRepository(db),
		Invoices:     invoices.NewRepository(db),
		Webhooks:     webhooks.NewRepository(db),
		Transactions: paymentsrepo.NewRepository(db),
		PayLogs:      logs,
		MonitorLogs:  logs,
		Outbox:       outbox.NewRepository(db),
		NotifyLog:    notifylog.NewRepository(db),
		ZohoSync:     zohosync.NewRepository(db),
		Receivables:  receivables.NewRepository(db),
		Services:     services.NewRepository(db),
	}
}

// BillingTx is a tx-scoped set of repos for one payment state transition.
type BillingTx struct {
	Orders       orders.Store
	Invoices     invoices.Store
	Webhooks     webhooks.Store
	Transactions paymentsrepo.Store
	PayLogs      paymentsrepo.LogsStore
	Outbox       outbox.Store
	NotifyLog    notifylog.Store
}

// WithBillingTx runs fn atomically. Outbox rows written through the tx
// become visible to the dispatcher only on commit.
func (c *Container) WithBillingTx(ctx context.Context, fn func(tx *BillingTx) error) error {
	if c.pool == nil {
		return fmt.Errorf("storage container pool is nil")
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin billing tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	b := &BillingTx{
		Orders:       orders.NewRepository(tx),
		Invoices:     invoices.NewRepository(tx),
		Webhooks:     webhooks.NewRepository(tx),
		Transactions: paymentsrepo.NewRepository(tx),
		PayLogs:      paymentsrepo.NewLogsRepository(tx),
		Outbox:       outbox.NewRepository(tx),
		NotifyLog:    notifylog.NewRepository(tx),
	}

	if err := fn(b); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (c *Container) Ping(ctx context.Context) error {
	if c.pool == nil {
		return fmt.Errorf("storage container pool is nil")
	}
	return c.pool.Ping(ctx)
}
