package phrase

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Category classifies a phrase by its origin
type Category string

const (
	// CategoryStatic marks phrases from the built-in coaching script
	CategoryStatic Category = "static"

	// CategoryDynamic marks phrases generated from analysis results
	CategoryDynamic Category = "dynamic"
)

// Phrase is a unit of coaching text eligible for pre-synthesis and caching.
// Hash is a pure function of the normalized text, so identical text always
// maps to the same cache key and file name across process restarts.
type Phrase struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Hash     string   `json:"hash"`
	Filename string   `json:"filename"`
	Category Category `json:"category"`
}

// Normalize canonicalizes phrase text before hashing: surrounding
// whitespace is trimmed and the text is case-folded.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// HashText returns the hex-encoded SHA-256 of the normalized text
func HashText(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// New builds a Phrase from raw text. The original text is preserved for
// display and synthesis; only the hash is derived from the normalized form.
func New(text string, category Category) Phrase {
	hash := HashText(text)
	return Phrase{
		ID:       hash[:12],
		Text:     strings.TrimSpace(text),
		Hash:     hash,
		Filename: hash + ".mp3",
		Category: category,
	}
}
