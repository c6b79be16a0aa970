// Package handlers turns a resolved crash into user-visible action. Handlers
// are tried in priority order and the first one to claim a crash ends the
// dispatch.
package handlers

import (
	"context"

	"github.com/yairfalse/dumptruck/pkg/domain"
	"github.com/yairfalse/dumptruck/pkg/metadata"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Outcome of offering a crash to a handler
type Outcome int

const (
	Declined Outcome = iota
	Claimed
)

func (o Outcome) String() string {
	if o == Claimed {
		return "claimed"
	}
	return "declined"
}

// Crash is a record together with what the resolver concluded about it
type Crash struct {
	Record     *domain.Record
	Resolution metadata.Resolution
}

// Handler acts on a crash or declines it
type Handler interface {
	Name() string
	Handle(ctx context.Context, crash *Crash) (Outcome, error)
}

// Resolver is the part of metadata.Resolver the chain needs
type Resolver interface {
	Resolve(ctx context.Context, record *domain.Record) metadata.Resolution
}

// Result reports how a dispatch ended
type Result struct {
	Resolution metadata.Resolution
	// Handler is the name of the claiming handler, "" when none claimed
	Handler string
}

// Chain resolves a crash once and offers it to each handler in order
type Chain struct {
	resolver Resolver
	handlers []Handler
	logger   *zap.Logger

	dispatches metric.Int64Counter
}

// NewChain creates a chain over handlers, highest priority first
func NewChain(resolver Resolver, logger *zap.Logger, handlers ...Handler) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("chain")

	dispatches, err := otel.Meter("dumptruck/handlers").Int64Counter(
		"handlers_dispatch_total",
		metric.WithDescription("Crashes offered to handlers by outcome"),
	)
	if err != nil {
		logger.Warn("Failed to create dispatch counter", zap.Error(err))
	}

	return &Chain{
		resolver:   resolver,
		handlers:   handlers,
		logger:     logger,
		dispatches: dispatches,
	}
}

// Dispatch resolves record and hands it to the first handler that claims it.
// A crash that was already picked up reaches no handler.
func (c *Chain) Dispatch(ctx context.Context, record *domain.Record) Result {
	crash := &Crash{
		Record:     record,
		Resolution: c.resolver.Resolve(ctx, record),
	}
	result := Result{Resolution: crash.Resolution}

	if crash.Resolution.Decision == metadata.AlreadyHandled {
		c.logger.Info("Crash already picked up",
			zap.String("exe", record.Exe),
			zap.Int("pid", record.PID),
			zap.String("path", crash.Resolution.Path))
		c.record(ctx, "", "already_handled")
		return result
	}

	for _, h := range c.handlers {
		if ctx.Err() != nil {
			c.logger.Warn("Dispatch cancelled", zap.Error(ctx.Err()))
			return result
		}

		outcome, err := h.Handle(ctx, crash)
		if err != nil {
			c.logger.Warn("Handler failed",
				zap.String("handler", h.Name()),
				zap.Error(err))
			outcome = Declined
		}
		c.record(ctx, h.Name(), outcome.String())

		if outcome == Claimed {
			c.logger.Debug("Crash claimed",
				zap.String("handler", h.Name()),
				zap.String("exe", record.Exe),
				zap.Int("pid", record.PID))
			result.Handler = h.Name()
			return result
		}
	}

	c.logger.Warn("Nothing handled the crash",
		zap.String("exe", record.Exe),
		zap.Int("pid", record.PID),
		zap.String("reason", crash.Resolution.Reason))
	return result
}

func (c *Chain) record(ctx context.Context, handler, outcome string) {
	if c.dispatches == nil {
		return
	}
	c.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("handler", handler),
		attribute.String("outcome", outcome),
	))
}
