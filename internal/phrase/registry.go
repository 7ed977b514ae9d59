package phrase

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry is the deterministic catalogue of cacheable phrases.
// Phrases are only ever added, never mutated or removed, and are
// deduplicated by content hash. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byHash map[string]Phrase
	byText map[string]Phrase // keyed by normalized text
	order  []string          // hashes in registration order, for stable snapshots
	logger zerolog.Logger
}

// NewRegistry creates an empty phrase registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byHash: make(map[string]Phrase),
		byText: make(map[string]Phrase),
		logger: logger,
	}
}

// Register adds phrases for the given texts, skipping any already present.
// It is idempotent: registering the same text twice (in any whitespace or
// case variation) leaves a single entry. Returns the number of phrases added.
func (r *Registry) Register(category Category, texts ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, text := range texts {
		if Normalize(text) == "" {
			continue
		}

		p := New(text, category)
		if _, ok := r.byHash[p.Hash]; ok {
			continue
		}

		r.byHash[p.Hash] = p
		r.byText[Normalize(text)] = p
		r.order = append(r.order, p.Hash)
		added++
	}

	if added > 0 {
		r.logger.Debug().
			Int("added", added).
			Int("total", len(r.order)).
			Str("category", string(category)).
			Msg("Phrases registered")
	}

	return added
}

// All returns an immutable snapshot of every registered phrase in
// registration order
func (r *Registry) All() []Phrase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]Phrase, 0, len(r.order))
	for _, hash := range r.order {
		snapshot = append(snapshot, r.byHash[hash])
	}
	return snapshot
}

// Lookup returns the phrase for the given text, matching on the
// normalized form
func (r *Registry) Lookup(text string) (Phrase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byText[Normalize(text)]
	return p, ok
}

// LookupHash returns the phrase with the given content hash
func (r *Registry) LookupHash(hash string) (Phrase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byHash[hash]
	return p, ok
}

// Len returns the number of registered phrases
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
