package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lmdrive/drive-backend/internal/catalog"
	"github.com/lmdrive/drive-backend/internal/orders"
	"github.com/lmdrive/drive-backend/internal/payments"
	"github.com/lmdrive/drive-backend/internal/reconcile"
	"github.com/lmdrive/drive-backend/internal/stock"
	"github.com/lmdrive/drive-backend/pkg/enums"
	"github.com/lmdrive/drive-backend/pkg/metrics"
	"github.com/lmdrive/drive-backend/pkg/outbox"
)

// Domain is the order, stock and payment core shared by the api and the
// cron worker.
type Domain struct {
	Currency    enums.Currency
	Catalog     *catalog.Service
	Stock       *stock.Service
	Orders      *orders.Service
	Attempts    payments.Repository
	Outbox      *outbox.Repository
	Coordinator *reconcile.Coordinator
}

// NewDomain wires the domain services on rt's database. Reconcile metrics are
// registered on reg.
func NewDomain(rt *Runtime, reg prometheus.Registerer) (*Domain, error) {
	currency, err := enums.ParseCurrency(rt.Config.Reconcile.Currency)
	if err != nil {
		return nil, fmt.Errorf("reconcile currency: %w", err)
	}

	gdb := rt.DB.DB()
	d := &Domain{
		Currency: currency,
		Attempts: payments.NewRepository(gdb),
		Outbox:   outbox.NewRepository(gdb),
	}

	if d.Catalog, err = catalog.NewService(catalog.NewRepository(gdb)); err != nil {
		return nil, fmt.Errorf("catalog service: %w", err)
	}
	if d.Stock, err = stock.NewService(stock.NewRepository(gdb), rt.Logger); err != nil {
		return nil, fmt.Errorf("stock service: %w", err)
	}
	if d.Orders, err = orders.NewService(orders.NewRepository(gdb), rt.DB, d.Catalog, d.Stock, rt.Logger); err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	d.Coordinator, err = reconcile.NewCoordinator(
		rt.DB,
		d.Orders,
		d.Stock,
		d.Attempts,
		outbox.NewService(d.Outbox, rt.Logger),
		rt.Logger,
		reconcile.Options{
			Timeout:  rt.Config.Reconcile.Timeout,
			Currency: currency,
			Metrics:  metrics.NewReconcileMetrics(reg),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("reconciliation coordinator: %w", err)
	}
	return d, nil
}
