package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/shortsforge/shortsforge/pkg/config"
	"github.com/shortsforge/shortsforge/pkg/errkind"
)

// Observer receives call outcomes and breaker transitions, typically backed
// by prometheus collectors. All methods must be cheap and non-blocking.
type Observer interface {
	CallObserved(service string, class OperationClass, latency time.Duration, kind errkind.Kind)
	BreakerTransition(service string, class OperationClass, from, to string)
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) CallObserved(string, OperationClass, time.Duration, errkind.Kind) {}
func (NopObserver) BreakerTransition(string, OperationClass, string, string)         {}

// CallSpec identifies one mediated call.
type CallSpec struct {
	Service string
	Class   OperationClass

	// IdempotencyKey is forwarded to providers that support dedupe
	// headers. Derived from (item_id, stage, attempt-stable seed).
	IdempotencyKey string

	// MaxAttempts caps tries including the first. Zero means 1.
	MaxAttempts int
}

// Caller is the resilient call layer. One instance serves the whole process.
type Caller struct {
	cfg      config.ResilienceConfig
	observer Observer

	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker // key: service|class
	bulkheads map[string]*semaphore.Weighted       // key: service
	forced    map[string]time.Time                 // breaker key → forced-open until (restored state)
}

// NewCaller creates the call layer.
func NewCaller(cfg config.ResilienceConfig, observer Observer) *Caller {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Caller{
		cfg:       cfg,
		observer:  observer,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		bulkheads: make(map[string]*semaphore.Weighted),
		forced:    make(map[string]time.Time),
	}
}

type idemKeyCtx struct{}

// IdempotencyKeyFrom returns the key placed on ctx by Do, or "".
func IdempotencyKeyFrom(ctx context.Context) string {
	if v, ok := ctx.Value(idemKeyCtx{}).(string); ok {
		return v
	}
	return ""
}

// Do runs fn under the full resilience stack: bulkhead, breaker, per-class
// deadline, retry with jittered exponential backoff. fn receives a context
// carrying the deadline and the idempotency key; it must classify provider
// failures with errkind before returning them.
func (c *Caller) Do(ctx context.Context, spec CallSpec, fn func(ctx context.Context) error) error {
	if !spec.Class.Valid() {
		return errkind.Newf(errkind.Unexpected, "unknown operation class %q", spec.Class)
	}

	// Bulkhead: bounded wait for an in-flight slot.
	sem := c.bulkhead(spec.Service)
	acquireCtx, cancel := context.WithTimeout(ctx, c.cfg.BulkheadQueueTimeout)
	err := sem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return errkind.New(errkind.Timeout, ctx.Err()).WithService(spec.Service)
		}
		return errkind.Newf(errkind.Transient, "bulkhead queue timeout for %s", spec.Service).
			WithService(spec.Service)
	}
	defer sem.Release(1)

	attempts := spec.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 1 // full jitter
	bo.MaxInterval = c.cfg.RetryCap
	bo.MaxElapsedTime = 0 // bounded by attempt count and ctx

	attempt := 0
	operation := func() error {
		attempt++
		err := c.doOnce(ctx, spec, attempt, fn)
		if err == nil {
			return nil
		}
		kind := errkind.KindOf(err)
		// Circuit-open is surfaced immediately: the cool-down is far longer
		// than any in-call backoff, so the item is requeued instead.
		if !kind.Retryable() || kind == errkind.CircuitOpen {
			return backoff.Permanent(err)
		}
		return err
	}

	err = backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if ctx.Err() != nil && errkind.KindOf(err) == errkind.Unexpected {
			return errkind.New(errkind.Timeout, ctx.Err()).WithService(spec.Service)
		}
		return err
	}
	return nil
}

// doOnce performs a single attempt through the breaker with the class
// deadline applied.
func (c *Caller) doOnce(ctx context.Context, spec CallSpec, attempt int, fn func(ctx context.Context) error) error {
	key := breakerKey(spec.Service, spec.Class)

	if until, forced := c.forcedOpenUntil(key); forced {
		return errkind.Newf(errkind.CircuitOpen,
			"%s circuit restored open until %s", spec.Service, until.Format(time.RFC3339)).
			WithService(spec.Service)
	}

	cb := c.breaker(spec.Service, spec.Class)

	start := time.Now()
	_, err := cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, spec.Class.OverallTimeout())
		defer cancel()
		if spec.IdempotencyKey != "" {
			callCtx = context.WithValue(callCtx, idemKeyCtx{}, spec.IdempotencyKey)
		}
		if err := fn(callCtx); err != nil {
			// Normalize deadline expiry so classification is uniform.
			if callCtx.Err() != nil && errkind.KindOf(err) == errkind.Unexpected {
				return nil, errkind.New(errkind.Timeout, err).WithService(spec.Service)
			}
			return nil, err
		}
		return nil, nil
	})
	latency := time.Since(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = errkind.Newf(errkind.CircuitOpen, "%s circuit open", spec.Service).
			WithService(spec.Service)
	}

	kind := errkind.KindOf(err)
	c.observer.CallObserved(spec.Service, spec.Class, latency, kind)
	logCall(spec, attempt, latency, err, kind)
	return err
}

func logCall(spec CallSpec, attempt int, latency time.Duration, err error, kind errkind.Kind) {
	log := slog.With(
		"service", spec.Service,
		"operation_class", string(spec.Class),
		"latency_ms", latency.Milliseconds(),
		"attempt", attempt,
	)
	if err == nil {
		log.Debug("External call succeeded")
		return
	}
	log.Warn("External call failed", "kind", string(kind), "error", err)
}

func breakerKey(service string, class OperationClass) string {
	return service + "|" + string(class)
}

func (c *Caller) breaker(service string, class OperationClass) *gobreaker.CircuitBreaker {
	key := breakerKey(service, class)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[key]; ok {
		return cb
	}
	threshold := uint32(c.cfg.BreakerFailureThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1, // single half-open probe
		Interval:    c.cfg.BreakerWindow,
		Timeout:     c.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			c.observer.BreakerTransition(service, class, from.String(), to.String())
		},
	})
	c.breakers[key] = cb
	return cb
}

func (c *Caller) bulkhead(service string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sem, ok := c.bulkheads[service]; ok {
		return sem
	}
	sem := semaphore.NewWeighted(int64(c.cfg.BulkheadFor(service)))
	c.bulkheads[service] = sem
	return sem
}

func (c *Caller) forcedOpenUntil(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.forced[key]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().After(until) {
		delete(c.forced, key)
		return time.Time{}, false
	}
	return until, true
}

// BreakerStates returns a snapshot of breaker states keyed "service|class".
func (c *Caller) BreakerStates() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.breakers))
	for key, cb := range c.breakers {
		out[key] = cb.State().String()
	}
	for key, until := range c.forced {
		if time.Now().Before(until) {
			out[key] = gobreaker.StateOpen.String()
		}
	}
	return out
}

// String formats a spec for errors.
func (s CallSpec) String() string {
	return fmt.Sprintf("%s/%s", s.Service, s.Class)
}
