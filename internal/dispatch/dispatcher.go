// Package dispatch coordinates risk evaluations across the two backends.
//
// The Dispatcher is the single entry point for producing a Verdict: it
// validates the target, tries the model backend first, and falls back to
// the deterministic rule engine when the model path fails. The rule
// engine attempt strictly follows the model attempt, never runs in
// parallel with it. Successful verdicts are the only writes into the
// recency cache and the audit store.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethersentinel/sentinel/internal/cache"
	"github.com/ethersentinel/sentinel/internal/idgen"
	"github.com/ethersentinel/sentinel/internal/metrics"
	"github.com/ethersentinel/sentinel/internal/risk"
)

// Backend evaluates a single target. Both the inference client and the
// rule engine satisfy this.
type Backend interface {
	Evaluate(ctx context.Context, target risk.Target, opts risk.EvaluationOptions) (*risk.Verdict, error)
}

// errModelDisabled marks the model path skipped by request, carried as
// the model cause when the rule path then fails too.
var errModelDisabled = errors.New("model path disabled by options")

// Dispatcher turns targets into verdicts with model-to-rules fallback.
type Dispatcher struct {
	model Backend
	rules Backend
	store risk.Store
	cache *cache.VerdictCache
	log   *slog.Logger

	concurrency      int
	perTargetTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBatchConcurrency bounds simultaneous batch evaluations.
func WithBatchConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithPerTargetTimeout bounds each batch target evaluation.
func WithPerTargetTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.perTargetTimeout = t
		}
	}
}

// New creates a Dispatcher. rules must be non-nil (it is the always
// available path); model and store may be nil.
func New(model, rules Backend, store risk.Store, vc *cache.VerdictCache, log *slog.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		model:            model,
		rules:            rules,
		store:            store,
		cache:            vc,
		log:              log,
		concurrency:      DefaultBatchConcurrency,
		perTargetTimeout: DefaultPerTargetTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Evaluate produces a verdict for one target.
//
// The model backend is attempted first unless opts.UseModel is false.
// On model failure the rule engine is tried; if both fail the caller
// gets a both_paths_failed error and neither the cache nor the audit
// store is touched.
func (d *Dispatcher) Evaluate(ctx context.Context, target risk.Target, opts risk.EvaluationOptions) (*risk.Verdict, error) {
	if err := target.Validate(); err != nil {
		metrics.EvaluationErrorsTotal.WithLabelValues(string(risk.ErrorInvalidTarget)).Inc()
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	modelErr := errModelDisabled
	if opts.UseModel && d.model != nil {
		v, err := d.model.Evaluate(ctx, target, opts)
		if err == nil {
			return d.finish(ctx, v, start), nil
		}
		modelErr = err
		metrics.FallbacksTotal.WithLabelValues(fallbackReason(err)).Inc()
		d.log.Warn("model path failed, falling back to rules",
			"target", target.String(),
			"error", err)
	}

	v, ruleErr := d.rules.Evaluate(ctx, target, opts)
	if ruleErr != nil {
		err := risk.BothPathsFailedError(modelErr, ruleErr)
		metrics.EvaluationErrorsTotal.WithLabelValues(string(risk.ErrorBothPathsFailed)).Inc()
		d.log.Error("both evaluation paths failed",
			"target", target.String(),
			"model_error", modelErr,
			"rule_error", ruleErr)
		return nil, err
	}
	return d.finish(ctx, v, start), nil
}

// finish stamps, records, and counts a successful verdict.
func (d *Dispatcher) finish(ctx context.Context, v *risk.Verdict, start time.Time) *risk.Verdict {
	v.ID = idgen.WithPrefix("vrd")

	if d.cache != nil {
		d.cache.Record(v)
		metrics.VerdictCacheSize.Set(float64(d.cache.Size()))
	}
	if d.store != nil {
		// Audit persistence is best effort: the verdict is already
		// produced and the caller should not fail on a storage hiccup.
		if err := d.store.Record(ctx, v); err != nil {
			d.log.Warn("verdict audit write failed", "verdict_id", v.ID, "error", err)
		}
	}

	metrics.EvaluationsTotal.WithLabelValues(string(v.Method), string(v.Target.Kind)).Inc()
	metrics.EvaluationDuration.WithLabelValues(string(v.Method)).Observe(time.Since(start).Seconds())
	return v
}

// fallbackReason buckets a model error for the fallback counter.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case risk.IsKind(err, risk.ErrorTimeout):
		return "timeout"
	default:
		return "model_error"
	}
}
