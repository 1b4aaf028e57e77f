package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Dispatcher sends notifications in the background: fire-and-forget, rate
// limited, bounded by a per-send timeout.
type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithRate(perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Inf, 0),
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) IncidentCreated(n IncidentNotice) {
	d.dispatch("incident_created", func(ctx context.Context) error {
		return d.sender.IncidentCreated(ctx, n)
	})
}

func (d *Dispatcher) RiskMaterialized(n MaterializationNotice) {
	d.dispatch("risk_materialized", func(ctx context.Context) error {
		return d.sender.RiskMaterialized(ctx, n)
	})
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(kind string, send func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := d.limiter.Wait(ctx)
		if err == nil {
			err = safeSend(ctx, send)
		}
		if err != nil {
			d.logger.Warn("notification failed", "err", &NotificationDeliveryError{Kind: kind, Err: err})
		}
	}()
}

func safeSend(ctx context.Context, send func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return send(ctx)
}
