// Package resilience runs engine operations against the primary store and
// decides what happens when it misbehaves: heal a drifted schema and retry
// once, fall back to the in-memory store, or surface the outage.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

const DefaultProbeTimeout = 2 * time.Second

// Healer brings the primary store's schema back to the expected shape.
type Healer interface {
	Ensure(ctx context.Context) error
}

// Policy is what an operation does while the primary store is unavailable.
type Policy int

const (
	// PolicyDegrade serves the operation from the fallback store.
	PolicyDegrade Policy = iota
	// PolicySurface fails with StoreUnavailable.
	PolicySurface
)

type Config struct {
	ProbeTimeout time.Duration
	// HealOnDrift heals the schema and retries once when a request hits
	// drift. When false, drift is reported as unavailability.
	HealOnDrift bool
}

type Layer struct {
	primary  *workflow.Engine
	fallback *workflow.Engine
	prober   Prober
	healer   Healer
	config   Config
	logger   ectologger.Logger

	healMu sync.Mutex
}

// NewLayer wires the engines. fallback, prober and healer may be nil: without
// a fallback every outage surfaces, without a prober only real failures are
// detected, without a healer drift is never repaired.
func NewLayer(primary, fallback *workflow.Engine, prober Prober, healer Healer, config Config, logger ectologger.Logger) *Layer {
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	return &Layer{
		primary:  primary,
		fallback: fallback,
		prober:   prober,
		healer:   healer,
		config:   config,
		logger:   logger,
	}
}

// Fallback returns the stand-in engine, or nil.
func (l *Layer) Fallback() *workflow.Engine {
	return l.fallback
}

// Op is an engine operation. degraded is true when it runs on the fallback.
type Op[T any] func(ctx context.Context, engine *workflow.Engine, degraded bool) (T, error)

// Execute runs op on the primary engine and applies the resilience rules. The
// returned bool is true when the result came from the fallback store and is
// not durable.
func Execute[T any](ctx context.Context, l *Layer, name string, policy Policy, op Op[T]) (T, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "resilience."+name)
	defer span.End()

	start := time.Now()
	result, degraded, err := l.execute(ctx, name, policy, func(ctx context.Context, engine *workflow.Engine, degraded bool) (any, error) {
		return op(ctx, engine, degraded)
	})

	outcome := "ok"
	switch {
	case err != nil:
		outcome = string(kindOrInternal(err))
	case degraded:
		outcome = "degraded"
	}
	metrics.RecordOperation(name, outcome, time.Since(start).Seconds())

	if err != nil {
		var zero T
		return zero, degraded, err
	}
	typed, _ := result.(T)
	return typed, degraded, nil
}

func (l *Layer) execute(ctx context.Context, name string, policy Policy, op Op[any]) (any, bool, error) {
	if err := l.probe(ctx); err != nil {
		return l.unavailable(ctx, name, policy, op, err)
	}

	result, err := op(ctx, l.primary, false)
	if err == nil {
		return result, false, nil
	}

	classified := Classify(err)
	if isDomain(classified) {
		return nil, false, classified
	}

	if apperrors.IsKind(classified, apperrors.KindSchemaDrift) {
		if !l.config.HealOnDrift || l.healer == nil {
			l.logger.WithContext(ctx).WithError(err).WithField("operation", name).Error("store schema drift detected")
			return l.unavailable(ctx, name, policy, op, err)
		}
		if healErr := l.heal(ctx, "request"); healErr != nil {
			return l.unavailable(ctx, name, policy, op, healErr)
		}

		result, err = op(ctx, l.primary, false)
		if err == nil {
			return result, false, nil
		}
		classified = Classify(err)
		if isDomain(classified) {
			return nil, false, classified
		}
	}

	return l.unavailable(ctx, name, policy, op, err)
}

func (l *Layer) probe(ctx context.Context) error {
	if l.prober == nil {
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, l.config.ProbeTimeout)
	defer cancel()

	if err := l.prober.Probe(probeCtx); err != nil {
		metrics.RecordProbeFailure()
		return err
	}
	return nil
}

func (l *Layer) unavailable(ctx context.Context, name string, policy Policy, op Op[any], cause error) (any, bool, error) {
	logger := l.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"operation": name,
		"reason":    Reason(cause),
	})

	if policy == PolicySurface || l.fallback == nil {
		logger.Warn("primary store unavailable, surfacing")
		return nil, false, apperrors.StoreUnavailable(cause)
	}

	logger.Warn("primary store unavailable, serving from fallback")
	result, err := op(ctx, l.fallback, true)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		// the fallback only knows rows written during outages; the row may
		// still exist in the primary store
		logger.WithField("fallback_error", err.Error()).Warn("row unknown to fallback store, surfacing")
		return nil, true, apperrors.StoreUnavailable(cause).AddMeta("degraded", true)
	}
	if err != nil {
		return nil, true, err
	}
	return result, true, nil
}

// EnsureSchema runs the healer outside of any request, at startup.
func (l *Layer) EnsureSchema(ctx context.Context) error {
	if l.healer == nil {
		return nil
	}
	return l.heal(ctx, "startup")
}

// heal serializes concurrent heals; the healer itself is idempotent.
func (l *Layer) heal(ctx context.Context, trigger string) error {
	l.healMu.Lock()
	defer l.healMu.Unlock()

	if err := l.healer.Ensure(ctx); err != nil {
		metrics.RecordSchemaHeal(trigger, "failed")
		l.logger.WithContext(ctx).WithError(err).WithField("trigger", trigger).Error("schema heal failed")
		return err
	}
	metrics.RecordSchemaHeal(trigger, "healed")
	l.logger.WithContext(ctx).WithField("trigger", trigger).Info("Schema healed")
	return nil
}

func kindOrInternal(err error) apperrors.Kind {
	if kind, ok := apperrors.KindOf(err); ok {
		return kind
	}
	return "internal"
}
