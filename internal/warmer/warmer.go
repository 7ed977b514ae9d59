package warmer

import (
	"context"
	"sync"
	"time"

	"github.com/fairwaylabs/coachvoice/internal/connectivity"
	"github.com/fairwaylabs/coachvoice/internal/observability"
	"github.com/fairwaylabs/coachvoice/internal/phrase"
	"github.com/fairwaylabs/coachvoice/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Synthesizer is the single-shot synthesis dependency
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Options tunes a Warmer
type Options struct {
	// TTL is the maximum cache age before a refresh is due
	TTL time.Duration

	// ForceRefresh treats the cache as stale until the next full commit
	ForceRefresh bool

	// Concurrency caps the number of in-flight synthesis requests per
	// warm cycle
	Concurrency int
}

// Warmer decides when the phrase cache needs refreshing, fans out
// concurrent synthesis calls, stages results, and commits atomically only
// when every phrase in the cycle's snapshot succeeded. A failed cycle
// leaves the previous cache untouched.
type Warmer struct {
	registry *phrase.Registry
	store    *store.Store
	synth    Synthesizer
	gate     connectivity.Gate
	opts     Options
	logger   zerolog.Logger

	mu         sync.Mutex
	warming    bool
	completed  int
	total      int
	force      bool
	pendingSub connectivity.Subscription
	listeners  []func(Progress)
}

// New creates a Warmer. Concurrency below 1 is treated as 1.
func New(registry *phrase.Registry, st *store.Store, synth Synthesizer, gate connectivity.Gate, opts Options) *Warmer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Warmer{
		registry: registry,
		store:    st,
		synth:    synth,
		gate:     gate,
		opts:     opts,
		force:    opts.ForceRefresh,
		logger:   observability.ComponentLogger("warmer"),
	}
}

// IsWarming reports whether a warm cycle is currently running
func (w *Warmer) IsWarming() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.warming
}

// CurrentProgress returns the fraction of the running cycle that has
// completed, or 1 when no cycle is running
func (w *Warmer) CurrentProgress() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.warming || w.total == 0 {
		return 1
	}
	return float64(w.completed) / float64(w.total)
}

// Subscribe registers a progress listener. Listeners are invoked inline on
// every completion and must not block.
func (w *Warmer) Subscribe(fn func(Progress)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.listeners = append(w.listeners, fn)
}

// ShouldRefresh reports whether a warm cycle is due: no metadata, a forced
// refresh, an expired TTL, or metadata referencing missing files
func (w *Warmer) ShouldRefresh() bool {
	w.mu.Lock()
	force := w.force
	w.mu.Unlock()
	if force {
		return true
	}

	meta := w.store.Metadata()
	if meta == nil {
		return true
	}
	if time.Since(meta.LastRefresh) > w.opts.TTL {
		return true
	}
	if len(w.store.Validate()) > 0 {
		// Self-healing: an inconsistent cache is treated as stale, not
		// surfaced as an error.
		return true
	}

	return false
}

// WarmIfNeeded runs a warm cycle only when ShouldRefresh is true
func (w *Warmer) WarmIfNeeded(ctx context.Context) Status {
	if !w.ShouldRefresh() {
		return StatusFresh
	}
	return w.Warm(ctx)
}

// Warm runs one warm cycle. It never blocks beyond the cycle itself:
// re-entrant calls while warming are no-ops, and calls while disconnected
// register a single pending restoration callback and return immediately
// without touching the live store.
func (w *Warmer) Warm(ctx context.Context) Status {
	w.mu.Lock()
	if w.warming {
		w.mu.Unlock()
		observability.RecordWarmSkipped()
		return StatusSkipped
	}

	if !w.gate.Connected() {
		if w.pendingSub == nil {
			w.pendingSub = w.gate.OnRestored(func() {
				w.mu.Lock()
				w.pendingSub = nil
				w.mu.Unlock()
				w.Warm(context.Background())
			})
			w.logger.Info().Msg("Offline, warm deferred until connectivity is restored")
		}
		w.mu.Unlock()
		observability.RecordWarmDeferred()
		return StatusDeferred
	}

	// A deferred warm that was requested while offline is superseded by
	// this cycle.
	if w.pendingSub != nil {
		w.pendingSub.Cancel()
		w.pendingSub = nil
	}

	snapshot := w.registry.All()
	cycleID := observability.NewCycleID()
	w.warming = true
	w.completed = 0
	w.total = len(snapshot)
	w.mu.Unlock()

	status := w.runCycle(ctx, cycleID, snapshot)

	w.mu.Lock()
	w.warming = false
	if status == StatusFull {
		w.force = false
	}
	w.mu.Unlock()

	return status
}

// CachedAudio resolves text to its phrase and returns the cached audio
// bytes. Pure lookup: a miss never triggers synthesis.
func (w *Warmer) CachedAudio(text string) ([]byte, error) {
	p, ok := w.registry.Lookup(text)
	if !ok {
		observability.RecordCacheRead(false)
		return nil, store.ErrCacheMiss
	}

	data, err := w.store.GetAudio(p.Hash)
	observability.RecordCacheRead(err == nil)
	return data, err
}

// Clear deletes the entire cache
func (w *Warmer) Clear() error {
	if err := w.store.Clear(); err != nil {
		return err
	}
	observability.SetCachedPhrases(0)
	return nil
}

func (w *Warmer) runCycle(ctx context.Context, cycleID string, snapshot []phrase.Phrase) Status {
	logger := w.logger.With().Str("cycle_id", cycleID).Logger()
	start := time.Now()
	total := len(snapshot)

	// An empty registry warms trivially: nothing to fetch, nothing to
	// commit, and the existing cache is left alone.
	if total == 0 {
		logger.Debug().Msg("Registry empty, nothing to warm")
		w.publish(Progress{CycleID: cycleID, Warming: false, Completed: 0, Total: 0, Fraction: 1, Status: StatusFull})
		observability.RecordWarmCycle(string(StatusFull), time.Since(start))
		return StatusFull
	}

	logger.Info().Int("phrases", total).Msg("Warm cycle started")

	if err := w.store.ClearStaging(); err != nil {
		logger.Error().Err(err).Msg("Failed to clear staging area")
		observability.RecordError("file_io", "warmer")
		observability.RecordWarmCycle(string(StatusFailed), time.Since(start))
		return StatusFailed
	}

	w.publish(Progress{CycleID: cycleID, Warming: true, Completed: 0, Total: total, Fraction: 0})

	var (
		resultMu sync.Mutex
		staged   []store.StagedPhrase
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)

	for _, p := range snapshot {
		p := p
		g.Go(func() error {
			audio, err := w.synth.Synthesize(gctx, p.Text)
			if err == nil {
				if stageErr := w.store.Stage(p.Hash, audio); stageErr != nil {
					logger.Warn().Err(stageErr).Str("phrase", p.ID).Msg("Failed to stage audio")
					observability.RecordError("file_io", "warmer")
					err = stageErr
				}
			} else {
				logger.Warn().Err(err).Str("phrase", p.ID).Msg("Phrase synthesis failed")
			}

			// Completion order is network-driven and non-deterministic;
			// only the completed count is guaranteed monotone.
			w.mu.Lock()
			w.completed++
			completed := w.completed
			w.mu.Unlock()

			if err == nil {
				resultMu.Lock()
				staged = append(staged, store.StagedPhrase{
					Hash:      p.Hash,
					Text:      p.Text,
					SizeBytes: int64(len(audio)),
				})
				resultMu.Unlock()
			}

			w.publish(Progress{
				CycleID:   cycleID,
				Warming:   true,
				Completed: completed,
				Total:     total,
				Fraction:  float64(completed) / float64(total),
			})
			return nil
		})
	}

	// Per-phrase failures are counted, never returned, so Wait only joins
	// the group.
	_ = g.Wait()

	status := w.finishCycle(logger, cycleID, staged, total)
	observability.RecordWarmCycle(string(status), time.Since(start))

	logger.Info().
		Str("status", string(status)).
		Int("succeeded", len(staged)).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Warm cycle finished")

	return status
}

func (w *Warmer) finishCycle(logger zerolog.Logger, cycleID string, staged []store.StagedPhrase, total int) Status {
	defer func() {
		if err := w.store.ClearStaging(); err != nil {
			logger.Warn().Err(err).Msg("Failed to clear staging area after cycle")
		}
	}()

	var status Status
	switch {
	case len(staged) == total:
		if err := w.store.Commit(staged, time.Now().UTC()); err != nil {
			logger.Error().Err(err).Msg("Cache commit failed, previous cache preserved")
			observability.RecordError("file_io", "warmer")
			status = StatusFailed
		} else {
			observability.SetCachedPhrases(total)
			status = StatusFull
		}
	case len(staged) > 0:
		status = StatusPartial
	default:
		status = StatusFailed
	}

	w.publish(Progress{
		CycleID:   cycleID,
		Warming:   false,
		Completed: total,
		Total:     total,
		Fraction:  1,
		Status:    status,
	})

	return status
}

func (w *Warmer) publish(p Progress) {
	w.mu.Lock()
	listeners := make([]func(Progress), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	observability.SetWarmProgress(p.Fraction)
	for _, fn := range listeners {
		fn(p)
	}
}
