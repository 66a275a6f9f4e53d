// Package failover runs completions against a primary model with
// bounded retries and an ordered list of fallback models.
package failover

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/llm"
	"github.com/opencopilot/copilot/internal/metrics"
)

const (
	DefaultAttempts = 2
	DefaultBackoff  = 500 * time.Millisecond
)

type Option func(*Controller)

// WithRetry sets attempts per model and the initial backoff, doubled
// after each failed attempt.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Controller) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

type Controller struct {
	registry  *llm.Registry
	primary   llm.ModelRef
	fallbacks []llm.ModelRef
	attempts  int
	backoff   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    zerolog.Logger
}

func NewController(registry *llm.Registry, primary llm.ModelRef, fallbacks []llm.ModelRef, opts ...Option) *Controller {
	c := &Controller{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		attempts:  DefaultAttempts,
		backoff:   DefaultBackoff,
		sleep:     sleepCtx,
		logger:    xlog.WithComponent("failover"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete sends req to the primary model, then to each fallback in
// order. The request's Model field is overwritten per attempt on a copy.
func (c *Controller) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := otel.Tracer("copilot/failover").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.messages", len(req.Messages)))

	models := append([]llm.ModelRef{c.primary}, c.fallbacks...)
	attempted := make([]string, 0, len(models))
	var lastErr error

	for i, m := range models {
		if containsRef(attempted, m.String()) {
			continue
		}
		attempted = append(attempted, m.String())

		resp, err := c.tryModel(ctx, m, req)
		if err == nil {
			span.SetAttributes(attribute.String("llm.model", m.String()))
			return resp, nil
		}
		lastErr = err

		if !shouldFallback(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if i < len(models)-1 {
			metrics.CompletionFallbacks.WithLabelValues(m.String()).Inc()
			c.logger.Warn().Err(err).Str(xlog.FieldModel, m.String()).Msg("model failed, trying fallback")
		}
	}

	err := &AllExhaustedError{Attempted: attempted, Last: lastErr}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func (c *Controller) tryModel(ctx context.Context, model llm.ModelRef, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p, err := c.registry.GetForModel(model)
	if err != nil {
		return nil, err
	}

	r := *req
	r.Model = model.Model()

	wait := c.backoff
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			wait *= 2
		}

		start := time.Now()
		resp, err := p.Complete(ctx, &r)
		metrics.ObserveCompletion(model.String(), time.Since(start), err)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		c.logger.Debug().Err(err).
			Str(xlog.FieldModel, model.String()).
			Int("attempt", attempt+1).
			Msg("completion attempt failed")
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func containsRef(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
