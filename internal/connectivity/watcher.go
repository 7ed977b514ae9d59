package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fairwaylabs/coachvoice/internal/config"
	"github.com/fairwaylabs/coachvoice/internal/observability"
	"github.com/rs/zerolog"
)

// Watcher is a probe-based Gate implementation. It issues a lightweight
// HEAD request against a target URL on a fixed interval and fires pending
// restoration callbacks on every offline-to-online transition.
type Watcher struct {
	target   string
	interval time.Duration

	httpClient *http.Client
	logger     zerolog.Logger

	mu        sync.Mutex
	connected bool
	probed    bool
	subs      map[uint64]func()
	nextID    uint64
}

// NewWatcher creates a connectivity watcher from configuration
func NewWatcher(cfg *config.Config) *Watcher {
	return &Watcher{
		target:   cfg.ProbeTarget(),
		interval: time.Duration(cfg.ProbeIntervalSeconds) * time.Second,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.ProbeTimeoutSeconds) * time.Second,
		},
		logger: observability.ComponentLogger("connectivity"),
		subs:   make(map[uint64]func()),
	}
}

// Run probes until the context is cancelled. It probes once immediately so
// Connected is meaningful as soon as Run has started.
func (w *Watcher) Run(ctx context.Context) {
	w.probe(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

// Connected reports the result of the most recent probe. Before the first
// probe completes the watcher reports disconnected, which only defers work.
func (w *Watcher) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.probed && w.connected
}

// OnRestored registers a one-shot callback fired on the next
// offline-to-online transition
func (w *Watcher) OnRestored(fn func()) Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.subs[id] = fn

	return &subscription{watcher: w, id: id}
}

func (w *Watcher) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.target, nil)
	if err != nil {
		w.setConnected(false)
		return
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.setConnected(false)
		return
	}
	resp.Body.Close()

	// Any response at all means the network path is up; the endpoint may
	// still reject HEAD with a 4xx/5xx.
	w.setConnected(true)
}

func (w *Watcher) setConnected(connected bool) {
	w.mu.Lock()

	wasConnected := w.connected
	wasProbed := w.probed
	w.connected = connected
	w.probed = true

	// The initial state counts as offline: a warm deferred before the
	// first probe must still run once the endpoint turns out reachable.
	var fired []func()
	if connected && !wasConnected {
		for _, fn := range w.subs {
			fired = append(fired, fn)
		}
		w.subs = make(map[uint64]func())
	}
	w.mu.Unlock()

	if wasProbed && connected != wasConnected {
		w.logger.Info().Bool("connected", connected).Msg("Connectivity changed")
		if !connected {
			observability.RecordError("offline", "connectivity")
		}
	}

	// Callbacks run on their own goroutines so a slow subscriber can
	// never stall the probe loop.
	for _, fn := range fired {
		go fn()
	}
}

type subscription struct {
	watcher *Watcher
	id      uint64
}

func (s *subscription) Cancel() {
	s.watcher.mu.Lock()
	defer s.watcher.mu.Unlock()

	delete(s.watcher.subs, s.id)
}
