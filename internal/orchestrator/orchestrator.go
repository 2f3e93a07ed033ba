// Package orchestrator implements the adaptive multi-tier transcription
// fallback engine.
//
// An [Orchestrator] runs each transcription request against a configured
// primary backend and, when that attempt fails outright or misses the
// real-time-factor / memory acceptance thresholds, walks an ordered chain of
// alternative backend configs until one produces an acceptable result, the
// chain is exhausted, or the primary's own (threshold-missing) result is
// returned as a graceful degradation.
//
// Backends are constructed lazily and cached per identity key ([Cache]), each
// attempt is wrapped in a background memory sampler ([Monitor]), rejection
// reasons are classified by an [Evaluator], and every fallback try is recorded
// into a [history.History] from which the chain can be re-ranked.
//
// All exported types are safe for concurrent use. Chain traversal within one
// request is strictly sequential; fallbacks are never attempted in parallel.
package orchestrator

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicekit-labs/cascade/internal/history"
	"github.com/voicekit-labs/cascade/internal/observe"
	"github.com/voicekit-labs/cascade/pkg/backend"
)

// fallbackNamePrefix decorates the reported backend name of an accepted
// fallback result so dashboards can tell recovery paths from primary serving.
const fallbackNamePrefix = "fallback-"

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithSink registers a durable sink that receives a copy of every fallback
// attempt record. Sink failures never disturb the request path; wrap the sink
// in a [history.Guard] unless it is already non-fatal.
func WithSink(sink history.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithMetrics sets the metrics instance used for attempt instrumentation.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClassifier replaces the default substring-based error classifier.
func WithClassifier(c ErrorClassifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithAttemptTimeout bounds each individual backend call with a deadline.
// Zero (the default) applies no per-attempt deadline beyond what the caller's
// context carries.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.attemptTimeout = d }
}

// withMonitorFactory substitutes the resource monitor constructor. Test hook.
func withMonitorFactory(f func() (*Monitor, error)) Option {
	return func(o *Orchestrator) { o.newMonitor = f }
}

// Orchestrator owns the primary config, the ordered fallback chain, the
// backend cache, and the attempt history. It exposes one request-path
// operation, [Orchestrator.TranscribeWithFallback].
//
// There is no package-level default instance: construct one with [New] and
// inject it where needed.
type Orchestrator struct {
	primary backend.Config
	cache   *Cache
	hist    *history.History
	eval    *Evaluator

	sink           history.Sink
	metrics        *observe.Metrics
	classifier     ErrorClassifier
	attemptTimeout time.Duration
	newMonitor     func() (*Monitor, error)

	// mu guards the fallback chain, which can be swapped at runtime via
	// SetChain / ApplyRanking or a config reload.
	mu    sync.RWMutex
	chain []backend.Config
}

// New creates an Orchestrator that resolves backends through registry.
// The chain slice is copied; later mutations by the caller have no effect.
func New(primary backend.Config, chain []backend.Config, thresholds Thresholds, registry *backend.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		primary:    primary,
		chain:      append([]backend.Config(nil), chain...),
		hist:       history.New(),
		newMonitor: NewMonitor,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.cache = NewCache(registry, o.metrics)
	o.eval = NewEvaluator(thresholds, o.classifier)
	return o
}

// Primary returns the configured primary backend config.
func (o *Orchestrator) Primary() backend.Config {
	return o.primary
}

// Chain returns a copy of the current fallback chain in traversal order.
func (o *Orchestrator) Chain() []backend.Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]backend.Config(nil), o.chain...)
}

// SetChain replaces the fallback chain. Requests already traversing the old
// chain finish on the snapshot they took; new requests see the new order.
func (o *Orchestrator) SetChain(chain []backend.Config) {
	o.mu.Lock()
	o.chain = append([]backend.Config(nil), chain...)
	o.mu.Unlock()
	slog.Info("fallback chain replaced", "entries", len(chain))
}

// TranscribeWithFallback runs one transcription request. audioRef is an
// opaque handle passed through to the backend capability; audioDuration is
// the pre-measured clip length used for the real-time-factor check.
//
// The returned Result is always terminal: an accepted primary or fallback
// result, the primary's own result tagged degraded when only thresholds were
// missed, or a failed result when nothing ever produced text. Intermediate
// attempt errors are never propagated.
func (o *Orchestrator) TranscribeWithFallback(ctx context.Context, audioRef string, audioDuration time.Duration) Result {
	ctx, span := observe.StartSpan(ctx, "TranscribeWithFallback",
		trace.WithAttributes(attribute.String("primary", o.primary.Key())))
	defer span.End()

	primaryResult := o.attempt(ctx, o.primary, audioRef, audioDuration)
	primaryResult.Tag = TagPrimary
	if o.eval.Accepts(primaryResult) {
		return primaryResult
	}

	trigger := o.eval.ClassifyTrigger(primaryResult)
	o.metrics.Fallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", string(trigger))))
	slog.Warn("primary backend rejected, entering fallback chain",
		"backend", o.primary.Name(),
		"trigger", trigger,
		"rtf", primaryResult.RTF,
		"memory_delta_mb", primaryResult.MemoryDeltaMB,
		"error", primaryResult.ErrorMessage,
	)

	chain := o.Chain()
	for i, cfg := range chain {
		res := o.attempt(ctx, cfg, audioRef, audioDuration)
		accepted := o.eval.Accepts(res)

		attempt := history.Attempt{
			Trigger:        trigger,
			FromConfig:     o.primary,
			ToConfig:       cfg,
			Succeeded:      accepted,
			ProcessingTime: res.ProcessingTime,
			ErrorMessage:   res.ErrorMessage,
		}
		o.hist.Record(attempt)
		if o.sink != nil {
			_ = o.sink.Insert(ctx, attempt)
		}

		if accepted {
			res.Tag = TagFallback
			res.BackendName = fallbackNamePrefix + cfg.Name()
			slog.Info("fallback backend accepted",
				"backend", res.BackendName,
				"position", i,
				"rtf", res.RTF,
			)
			return res
		}
		slog.Warn("fallback backend rejected, trying next",
			"backend", cfg.Name(),
			"position", i,
			"trigger", o.eval.ClassifyTrigger(res),
			"error", res.ErrorMessage,
		)
	}

	// Chain exhausted. A primary that succeeded but missed thresholds is
	// still the best text we have.
	if primaryResult.Success {
		degraded := primaryResult
		degraded.Tag = TagDegraded
		slog.Warn("all fallbacks rejected, returning degraded primary result",
			"backend", degraded.BackendName, "rtf", degraded.RTF)
		return degraded
	}

	slog.Error("all transcription attempts failed",
		"primary", o.primary.Name(), "fallbacks_tried", len(chain))
	return Result{
		Success:      false,
		RTF:          math.Inf(1),
		ConfigUsed:   o.primary,
		BackendName:  o.primary.Name(),
		Tag:          TagFailed,
		ErrorMessage: "all transcription attempts failed",
	}
}

// attempt runs one inference call against cfg with resource monitoring and
// builds its Result. Backend construction failures are folded into a failed
// Result rather than propagated.
func (o *Orchestrator) attempt(ctx context.Context, cfg backend.Config, audioRef string, audioDuration time.Duration) Result {
	res := Result{
		ConfigUsed:  cfg,
		BackendName: cfg.Name(),
		RTF:         math.Inf(1),
	}

	tr, err := o.cache.GetOrCreate(cfg)
	if err != nil {
		res.ErrorMessage = err.Error()
		o.metrics.RecordAttempt(ctx, cfg.Name(), "construction_failed", 0)
		return res
	}

	mon, monErr := o.newMonitor()
	if monErr != nil {
		// Memory data is advisory; run the attempt without it.
		slog.Warn("resource monitor unavailable for attempt",
			"backend", cfg.Name(), "error", monErr)
	} else if err := mon.Start(); err != nil {
		slog.Warn("resource monitor failed to start",
			"backend", cfg.Name(), "error", err)
		mon = nil
	}

	callCtx := ctx
	if o.attemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.attemptTimeout)
		defer cancel()
	}

	start := time.Now()
	text, callErr := tr.Transcribe(callCtx, audioRef, cfg)
	res.ProcessingTime = time.Since(start)

	if mon != nil {
		res.MemoryDeltaMB = mon.Stop()
	}

	outcome := "ok"
	if callErr != nil {
		res.ErrorMessage = callErr.Error()
		outcome = "error"
	} else {
		res.Text = text
		res.Success = true
		res.RTF = computeRTF(res.ProcessingTime, audioDuration)
		o.metrics.RTF.Record(ctx, res.RTF,
			metric.WithAttributes(attribute.String("backend", cfg.Name())))
	}

	o.metrics.RecordAttempt(ctx, cfg.Name(), outcome, res.ProcessingTime.Seconds())
	o.metrics.MemoryDelta.Record(ctx, res.MemoryDeltaMB,
		metric.WithAttributes(attribute.String("backend", cfg.Name())))

	return res
}

// Statistics returns a read-only aggregation over the recorded fallback
// attempts.
func (o *Orchestrator) Statistics() history.Statistics {
	return o.hist.Statistics()
}

// OptimizeChain ranks backend configs from historical outcomes. The ranking
// is a report; chain order only changes through [Orchestrator.ApplyRanking]
// or [Orchestrator.SetChain].
func (o *Orchestrator) OptimizeChain() history.Ranking {
	return o.hist.OptimizeChain()
}

// ApplyRanking reorders the fallback chain according to a ranking produced by
// [Orchestrator.OptimizeChain]: ranked configs first in score order, then the
// unranked remainder in their previous relative order. A ranking with
// insufficient data leaves the chain untouched.
func (o *Orchestrator) ApplyRanking(r history.Ranking) {
	if !r.Sufficient {
		slog.Info("chain ranking skipped: insufficient data",
			"attempts_seen", r.AttemptsSeen)
		return
	}

	position := make(map[string]int, len(r.Configs))
	for i, rc := range r.Configs {
		position[rc.Key] = i
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	ranked := make([]backend.Config, 0, len(o.chain))
	var unranked []backend.Config
	for _, cfg := range o.chain {
		if _, ok := position[cfg.Key()]; ok {
			ranked = append(ranked, cfg)
		} else {
			unranked = append(unranked, cfg)
		}
	}
	// Stable by construction: entries with equal scores keep chain order.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && position[ranked[j-1].Key()] > position[ranked[j].Key()]; j-- {
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
		}
	}
	o.chain = append(ranked, unranked...)

	slog.Info("fallback chain re-ranked",
		"ranked", len(ranked), "unranked", len(unranked))
}

// History exposes the attempt history for observability consumers.
func (o *Orchestrator) History() *history.History {
	return o.hist
}

// ClearCache releases every cached backend's resources and empties the cache.
// Callers must quiesce in-flight requests first.
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
}
