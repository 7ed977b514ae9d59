package warmer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fairwaylabs/coachvoice/internal/connectivity"
	"github.com/fairwaylabs/coachvoice/internal/phrase"
	"github.com/fairwaylabs/coachvoice/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGate is a test double for the connectivity gate. Restore fires
// pending callbacks synchronously so tests stay deterministic.
type fakeGate struct {
	mu        sync.Mutex
	connected bool
	subs      map[int]func()
	nextID    int
}

func newFakeGate(connected bool) *fakeGate {
	return &fakeGate{connected: connected, subs: make(map[int]func())}
}

func (g *fakeGate) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGate) OnRestored(fn func()) connectivity.Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID
	g.nextID++
	g.subs[id] = fn
	return &fakeSub{gate: g, id: id}
}

func (g *fakeGate) pendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

func (g *fakeGate) restore() {
	g.mu.Lock()
	g.connected = true
	fired := make([]func(), 0, len(g.subs))
	for _, fn := range g.subs {
		fired = append(fired, fn)
	}
	g.subs = make(map[int]func())
	g.mu.Unlock()

	for _, fn := range fired {
		fn()
	}
}

type fakeSub struct {
	gate *fakeGate
	id   int
}

func (s *fakeSub) Cancel() {
	s.gate.mu.Lock()
	defer s.gate.mu.Unlock()
	delete(s.gate.subs, s.id)
}

// synthFunc adapts a function to the Synthesizer interface
type synthFunc func(ctx context.Context, text string) ([]byte, error)

func (f synthFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

func okSynth(calls *atomic.Int32) synthFunc {
	return func(ctx context.Context, text string) ([]byte, error) {
		if calls != nil {
			calls.Add(1)
		}
		return []byte("audio:" + text), nil
	}
}

func failSynthFor(failText string) synthFunc {
	return func(ctx context.Context, text string) ([]byte, error) {
		if text == failText {
			return nil, errors.New("synthesis failed")
		}
		return []byte("audio:" + text), nil
	}
}

const weekTTL = 7 * 24 * time.Hour

func removeAudioFile(st *store.Store, hash string) error {
	return os.Remove(filepath.Join(st.Dir(), "audio", hash+".mp3"))
}

func testSetup(t *testing.T, synth Synthesizer, gate connectivity.Gate, opts Options) (*Warmer, *phrase.Registry, *store.Store) {
	t.Helper()

	registry := phrase.NewRegistry(zerolog.Nop())
	st, err := store.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	if opts.TTL == 0 {
		opts.TTL = weekTTL
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 4
	}

	return New(registry, st, synth, gate, opts), registry, st
}

var scriptThree = []string{"Begin your swing.", "Great shot!", "Keep your head down."}

func TestWarm_FullSuccess(t *testing.T) {
	// Concurrency 1 makes the progress sequence deterministic
	w, registry, st := testSetup(t, okSynth(nil), newFakeGate(true), Options{Concurrency: 1})
	registry.Register(phrase.CategoryStatic, scriptThree...)

	var (
		progressMu sync.Mutex
		progress   []Progress
	)
	w.Subscribe(func(p Progress) {
		progressMu.Lock()
		progress = append(progress, p)
		progressMu.Unlock()
	})

	status := w.Warm(context.Background())

	assert.Equal(t, StatusFull, status)
	assert.False(t, w.IsWarming())
	assert.Equal(t, 3, st.PhraseCount())

	// Every text resolves through the read path
	for _, text := range scriptThree {
		data, err := w.CachedAudio(text)
		require.NoError(t, err)
		assert.Equal(t, []byte("audio:"+text), data)
	}

	// Completed count is monotone and the terminal update reports 1.0
	last := 0
	for _, p := range progress {
		assert.GreaterOrEqual(t, p.Completed, last)
		last = p.Completed
	}
	final := progress[len(progress)-1]
	assert.Equal(t, 1.0, final.Fraction)
	assert.Equal(t, StatusFull, final.Status)
	assert.False(t, final.Warming)
}

func TestWarm_PartialFailureLeavesStoreUntouched(t *testing.T) {
	w, registry, st := testSetup(t, failSynthFor("Great shot!"), newFakeGate(true), Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)

	status := w.Warm(context.Background())

	assert.Equal(t, StatusPartial, status)
	assert.Equal(t, 0, st.PhraseCount())

	for _, text := range scriptThree {
		_, err := w.CachedAudio(text)
		assert.ErrorIs(t, err, store.ErrCacheMiss)
	}
}

func TestWarm_PartialFailurePreservesPreviousCache(t *testing.T) {
	gate := newFakeGate(true)
	registry := phrase.NewRegistry(zerolog.Nop())
	st, err := store.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	registry.Register(phrase.CategoryStatic, scriptThree...)

	// First cycle succeeds and populates the cache
	w := New(registry, st, okSynth(nil), gate, Options{TTL: weekTTL, Concurrency: 2})
	require.Equal(t, StatusFull, w.Warm(context.Background()))
	before := st.Metadata()
	require.NotNil(t, before)

	// Second cycle fails on one phrase; the store must be byte-identical
	w2 := New(registry, st, failSynthFor("Great shot!"), gate, Options{TTL: weekTTL, Concurrency: 2})
	assert.Equal(t, StatusPartial, w2.Warm(context.Background()))

	after := st.Metadata()
	require.NotNil(t, after)
	assert.True(t, before.LastRefresh.Equal(after.LastRefresh))
	assert.Equal(t, before.Phrases, after.Phrases)

	data, err := w2.CachedAudio("Great shot!")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio:Great shot!"), data)
}

func TestWarm_CommitReplacesWholeSnapshot(t *testing.T) {
	w, registry, st := testSetup(t, okSynth(nil), newFakeGate(true), Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)
	require.Equal(t, StatusFull, w.Warm(context.Background()))
	require.Equal(t, 3, st.PhraseCount())

	// A fourth phrase arrives; the next commit carries all four, not the delta
	registry.Register(phrase.CategoryDynamic, "Slow down your backswing.")

	assert.Equal(t, StatusFull, w.Warm(context.Background()))
	assert.Equal(t, 4, st.PhraseCount())

	data, err := w.CachedAudio("Slow down your backswing.")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio:Slow down your backswing."), data)
}

func TestWarm_AllFailures(t *testing.T) {
	synth := synthFunc(func(ctx context.Context, text string) ([]byte, error) {
		return nil, errors.New("endpoint down")
	})
	w, registry, st := testSetup(t, synth, newFakeGate(true), Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)

	assert.Equal(t, StatusFailed, w.Warm(context.Background()))
	assert.Equal(t, 0, st.PhraseCount())
}

func TestWarm_EmptyRegistry(t *testing.T) {
	w, _, st := testSetup(t, okSynth(nil), newFakeGate(true), Options{})

	assert.Equal(t, StatusFull, w.Warm(context.Background()))
	assert.False(t, w.IsWarming())
	assert.Nil(t, st.Metadata(), "trivial cycle must not touch the store")
}

func TestWarm_ReentrantCallsAreNoOps(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 3)
	synth := synthFunc(func(ctx context.Context, text string) ([]byte, error) {
		started <- struct{}{}
		<-release
		return []byte("audio"), nil
	})

	w, registry, _ := testSetup(t, synth, newFakeGate(true), Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)

	done := make(chan Status, 1)
	go func() { done <- w.Warm(context.Background()) }()

	<-started
	require.True(t, w.IsWarming())

	assert.Equal(t, StatusSkipped, w.Warm(context.Background()))

	close(release)
	assert.Equal(t, StatusFull, <-done)
	assert.False(t, w.IsWarming())
}

func TestWarm_OfflineDefersWithoutNetworkCalls(t *testing.T) {
	var calls atomic.Int32
	gate := newFakeGate(false)
	w, registry, st := testSetup(t, okSynth(&calls), gate, Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)

	status := w.Warm(context.Background())

	assert.Equal(t, StatusDeferred, status)
	assert.False(t, w.IsWarming())
	assert.Equal(t, int32(0), calls.Load())
	assert.Nil(t, st.Metadata())
	assert.Equal(t, 1, gate.pendingCount())

	// A second offline call must not register another callback
	assert.Equal(t, StatusDeferred, w.Warm(context.Background()))
	assert.Equal(t, 1, gate.pendingCount())
}

func TestWarm_RunsAfterConnectivityRestored(t *testing.T) {
	gate := newFakeGate(false)
	w, registry, st := testSetup(t, okSynth(nil), gate, Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)

	require.Equal(t, StatusDeferred, w.Warm(context.Background()))

	// The fake fires restoration callbacks synchronously
	gate.restore()

	assert.Equal(t, 3, st.PhraseCount())
	assert.Equal(t, 0, gate.pendingCount())
}

func TestShouldRefresh(t *testing.T) {
	w, registry, st := testSetup(t, okSynth(nil), newFakeGate(true), Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)

	// No metadata yet
	assert.True(t, w.ShouldRefresh())

	require.Equal(t, StatusFull, w.Warm(context.Background()))
	assert.False(t, w.ShouldRefresh())

	// Expired TTL
	meta := st.Metadata()
	require.NotNil(t, meta)
	staged := make([]store.StagedPhrase, 0, len(meta.Phrases))
	for hash, pm := range meta.Phrases {
		data, err := st.GetAudio(hash)
		require.NoError(t, err)
		require.NoError(t, st.Stage(hash, data))
		staged = append(staged, store.StagedPhrase{Hash: hash, Text: pm.Text, SizeBytes: pm.SizeBytes})
	}
	require.NoError(t, st.Commit(staged, time.Now().Add(-8*24*time.Hour)))
	assert.True(t, w.ShouldRefresh())
}

func TestShouldRefresh_ForceConsumedByFullWarm(t *testing.T) {
	w, registry, _ := testSetup(t, okSynth(nil), newFakeGate(true), Options{ForceRefresh: true})
	registry.Register(phrase.CategoryStatic, scriptThree...)

	assert.True(t, w.ShouldRefresh())
	require.Equal(t, StatusFull, w.Warm(context.Background()))
	assert.False(t, w.ShouldRefresh())
}

func TestShouldRefresh_SelfHealsMissingFile(t *testing.T) {
	w, registry, st := testSetup(t, okSynth(nil), newFakeGate(true), Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)
	require.Equal(t, StatusFull, w.Warm(context.Background()))
	require.False(t, w.ShouldRefresh())

	// Delete one referenced audio file behind the store's back
	missing := phrase.HashText("Great shot!")
	require.NoError(t, removeAudioFile(st, missing))
	require.NotEmpty(t, st.Validate())

	assert.True(t, w.ShouldRefresh())

	// The next successful warm repopulates it
	require.Equal(t, StatusFull, w.Warm(context.Background()))
	data, err := w.CachedAudio("Great shot!")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio:Great shot!"), data)
	assert.Empty(t, st.Validate())
}

func TestWarmIfNeeded(t *testing.T) {
	w, registry, _ := testSetup(t, okSynth(nil), newFakeGate(true), Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)

	assert.Equal(t, StatusFull, w.WarmIfNeeded(context.Background()))
	assert.Equal(t, StatusFresh, w.WarmIfNeeded(context.Background()))
}

func TestCachedAudio_UnregisteredText(t *testing.T) {
	w, _, _ := testSetup(t, okSynth(nil), newFakeGate(true), Options{})

	_, err := w.CachedAudio("Never registered")
	assert.ErrorIs(t, err, store.ErrCacheMiss)
}

func TestCachedAudio_ReadIdempotence(t *testing.T) {
	w, registry, _ := testSetup(t, okSynth(nil), newFakeGate(true), Options{})
	registry.Register(phrase.CategoryStatic, "Great shot!")
	require.Equal(t, StatusFull, w.Warm(context.Background()))

	first, err := w.CachedAudio("Great shot!")
	require.NoError(t, err)
	second, err := w.CachedAudio("Great shot!")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClear(t *testing.T) {
	w, registry, st := testSetup(t, okSynth(nil), newFakeGate(true), Options{})
	registry.Register(phrase.CategoryStatic, scriptThree...)
	require.Equal(t, StatusFull, w.Warm(context.Background()))

	require.NoError(t, w.Clear())
	assert.Equal(t, 0, st.PhraseCount())

	_, err := w.CachedAudio("Great shot!")
	assert.ErrorIs(t, err, store.ErrCacheMiss)
}
