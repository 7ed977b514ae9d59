package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PhraseMeta is the metadata record for one cached phrase
type PhraseMeta struct {
	Text      string `json:"text"`
	SizeBytes int64  `json:"size_bytes"`
}

// Metadata is the persisted root record of the cache. It is the single
// source of truth for what is readable: every hash in Phrases must have a
// backing audio file on disk.
type Metadata struct {
	LastRefresh time.Time             `json:"last_refresh"`
	Phrases     map[string]PhraseMeta `json:"phrases"`
}

// StagedPhrase describes one phrase staged for commit
type StagedPhrase struct {
	Hash      string
	Text      string
	SizeBytes int64
}

const (
	audioDirName   = "audio"
	stagingDirName = "staging"
	metadataFile   = "metadata.json"
	audioExt       = ".mp3"
)

// Store is the durable on-disk mapping from content hash to audio bytes.
// Live audio and metadata are only ever mutated by Commit and Clear, both
// of which hold the write lock, so concurrent readers always observe a
// fully-old or fully-new cache state.
type Store struct {
	dir        string
	audioDir   string
	stagingDir string
	metaPath   string

	mu     sync.RWMutex
	logger zerolog.Logger
}

// New creates a store rooted at dir, creating the audio and staging
// directories if needed
func New(dir string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		dir:        dir,
		audioDir:   filepath.Join(dir, audioDirName),
		stagingDir: filepath.Join(dir, stagingDirName),
		metaPath:   filepath.Join(dir, metadataFile),
		logger:     logger,
	}

	for _, d := range []string{s.audioDir, s.stagingDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", d, err)
		}
	}

	return s, nil
}

// Metadata returns the persisted metadata record, or nil when none exists.
// A corrupt metadata file is treated as absent so the next warm cycle
// rebuilds the cache instead of failing the caller.
func (s *Store) Metadata() *Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readMetadata()
}

// GetAudio returns the cached audio bytes for a hash, or ErrCacheMiss.
// Only hashes claimed by metadata are readable.
func (s *Store) GetAudio(hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta := s.readMetadata()
	if meta == nil {
		return nil, ErrCacheMiss
	}
	if _, ok := meta.Phrases[hash]; !ok {
		return nil, ErrCacheMiss
	}

	data, err := os.ReadFile(s.audioPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			// Metadata claims an entry with no backing file; validation
			// will pick this up and force a refresh.
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cached audio: %w", err)
	}

	return data, nil
}

// Stage writes audio bytes for a hash into the staging area, invisible to
// readers until Commit moves it live
func (s *Store) Stage(hash string, data []byte) error {
	if err := os.WriteFile(s.stagingPath(hash), data, 0o644); err != nil {
		return fmt.Errorf("failed to stage audio for %s: %w", hash, err)
	}
	return nil
}

// Commit moves every staged file into the live audio area and replaces the
// metadata record wholesale. All-or-nothing: if any move fails, the commit
// aborts before the metadata write and the previous cache stays
// authoritative. Audio files no longer referenced by the new metadata are
// removed afterwards, best effort.
func (s *Store) Commit(staged []StagedPhrase, refreshedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	phrases := make(map[string]PhraseMeta, len(staged))
	for _, sp := range staged {
		if err := os.Rename(s.stagingPath(sp.Hash), s.audioPath(sp.Hash)); err != nil {
			return fmt.Errorf("failed to move staged audio for %s: %w", sp.Hash, err)
		}
		phrases[sp.Hash] = PhraseMeta{Text: sp.Text, SizeBytes: sp.SizeBytes}
	}

	meta := &Metadata{LastRefresh: refreshedAt, Phrases: phrases}
	if err := s.writeMetadata(meta); err != nil {
		return err
	}

	s.pruneOrphans(phrases)

	s.logger.Info().
		Int("phrases", len(phrases)).
		Time("last_refresh", refreshedAt).
		Msg("Cache committed")

	return nil
}

// Validate cross-checks metadata entries against files on disk and returns
// the hashes whose audio file is missing
func (s *Store) Validate() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta := s.readMetadata()
	if meta == nil {
		return nil
	}

	var missing []string
	for hash := range meta.Phrases {
		if _, err := os.Stat(s.audioPath(hash)); err != nil {
			missing = append(missing, hash)
		}
	}
	sort.Strings(missing)

	if len(missing) > 0 {
		s.logger.Warn().
			Int("missing", len(missing)).
			Msg("Cache metadata references missing audio files")
	}

	return missing
}

// Clear deletes all audio files and the metadata record
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache metadata: %w", err)
	}

	if err := removeDirContents(s.audioDir); err != nil {
		return fmt.Errorf("failed to clear audio directory: %w", err)
	}

	s.logger.Info().Msg("Cache cleared")
	return nil
}

// ClearStaging empties the staging area. Called at the start and end of
// every warm cycle.
func (s *Store) ClearStaging() error {
	if err := removeDirContents(s.stagingDir); err != nil {
		return fmt.Errorf("failed to clear staging directory: %w", err)
	}
	return nil
}

// PhraseCount returns the number of phrases claimed by metadata
func (s *Store) PhraseCount() int {
	meta := s.Metadata()
	if meta == nil {
		return 0
	}
	return len(meta.Phrases)
}

// Dir returns the store's root directory
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) audioPath(hash string) string {
	return filepath.Join(s.audioDir, hash+audioExt)
}

func (s *Store) stagingPath(hash string) string {
	return filepath.Join(s.stagingDir, hash+audioExt)
}

func (s *Store) readMetadata() *Metadata {
	data, err := os.ReadFile(s.metaPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Msg("Failed to read cache metadata")
		}
		return nil
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn().Err(err).Msg("Cache metadata is corrupt, treating as absent")
		return nil
	}
	if meta.Phrases == nil {
		meta.Phrases = make(map[string]PhraseMeta)
	}

	return &meta
}

// writeMetadata persists metadata via temp file and rename so readers never
// observe a partially written record
func (s *Store) writeMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache metadata: %w", err)
	}

	tempPath := s.metaPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}
	if err := os.Rename(tempPath, s.metaPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace cache metadata: %w", err)
	}

	return nil
}

// pruneOrphans removes audio files not referenced by the given phrase set
func (s *Store) pruneOrphans(phrases map[string]PhraseMeta) {
	entries, err := os.ReadDir(s.audioDir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to scan audio directory for orphans")
		return
	}

	for _, entry := range entries {
		hash := trimExt(entry.Name())
		if _, ok := phrases[hash]; !ok {
			if err := os.Remove(filepath.Join(s.audioDir, entry.Name())); err != nil {
				s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to remove orphaned audio file")
			}
		}
	}
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func removeDirContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
