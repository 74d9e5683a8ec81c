package translator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Backend translates many strings in one atomic call.
// The result has the same length and order as texts.
type Backend interface {
	TranslateMany(ctx context.Context, texts []string, targetLanguage string) ([]string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, texts []string, targetLanguage string) ([]string, error)

func (f BackendFunc) TranslateMany(ctx context.Context, texts []string, targetLanguage string) ([]string, error) {
	return f(ctx, texts, targetLanguage)
}

// Translator is what the pipeline depends on.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string, targetLanguage string) ([]string, error)
}

// CacheKey is the stable cache key of a (text, language) pair.
func CacheKey(text, targetLanguage string) string {
	sum := sha256.Sum256([]byte(targetLanguage + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
