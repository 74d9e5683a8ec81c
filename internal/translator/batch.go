package translator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MimeLyc/subrelay/internal/apperr"
	"github.com/MimeLyc/subrelay/internal/cache"
	"github.com/MimeLyc/subrelay/internal/metrics"
	"github.com/MimeLyc/subrelay/pkg/log"
)

const (
	DefaultCombineThreshold = 10
	DefaultMaxConcurrency   = 5
)

// CachedBatchTranslator resolves cache hits, then sends the remaining unique texts to the
// backend either as one numbered request or as bounded concurrent single-item requests.
// Results are written back by input index, so output order always matches input order.
type CachedBatchTranslator struct {
	backend          Backend
	cache            cache.Cache
	combineThreshold int
	maxConcurrency   int
	// sem caps in-flight backend calls across every TranslateBatch call.
	sem *semaphore.Weighted
}

type Option func(*CachedBatchTranslator)

// WithCombineThreshold sets the largest miss count sent as one combined request.
func WithCombineThreshold(n int) Option {
	return func(t *CachedBatchTranslator) {
		if n > 0 {
			t.combineThreshold = n
		}
	}
}

// WithMaxConcurrency sets the global cap on in-flight backend calls.
func WithMaxConcurrency(n int) Option {
	return func(t *CachedBatchTranslator) {
		if n > 0 {
			t.maxConcurrency = n
		}
	}
}

func NewCachedBatchTranslator(backend Backend, c cache.Cache, opts ...Option) *CachedBatchTranslator {
	t := &CachedBatchTranslator{
		backend:          backend,
		cache:            c,
		combineThreshold: DefaultCombineThreshold,
		maxConcurrency:   DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.sem = semaphore.NewWeighted(int64(t.maxConcurrency))
	return t
}

// TranslateBatch returns one translation per text, in input order. It either succeeds for
// every text or returns an error; new translations are cached before returning.
func (t *CachedBatchTranslator) TranslateBatch(ctx context.Context, texts []string, targetLanguage string) ([]string, error) {
	out := make([]string, len(texts))

	// Unique uncached texts in first-seen order, and every index each one fills.
	var misses []string
	positions := make(map[string][]int)

	hits := 0
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i] = text
			continue
		}
		if v, ok := t.cache.Get(ctx, CacheKey(text, targetLanguage)); ok {
			out[i] = v
			hits++
			continue
		}
		if _, seen := positions[text]; !seen {
			misses = append(misses, text)
		}
		positions[text] = append(positions[text], i)
	}

	if len(misses) == 0 {
		log.Debug("Translation batch of %d served from cache", len(texts))
		return out, nil
	}

	var (
		results []string
		fresh   []bool
		err     error
	)
	if len(misses) <= t.combineThreshold {
		results, fresh, err = t.translateCombined(ctx, misses, targetLanguage)
	} else {
		results, err = t.translateEach(ctx, misses, targetLanguage)
		fresh = make([]bool, len(results))
		for i := range fresh {
			fresh[i] = true
		}
	}
	if err != nil {
		return nil, translationError(err)
	}

	for j, text := range misses {
		for _, i := range positions[text] {
			out[i] = results[j]
		}
		if fresh[j] {
			t.cache.Set(ctx, CacheKey(text, targetLanguage), results[j])
		}
	}

	log.Debug("Translated batch of %d: %d cached, %d sent to backend", len(texts), hits, len(misses))
	return out, nil
}

// translateCombined sends one numbered list. fresh[i] is false when the response had no
// line for item i and the source text was used instead.
func (t *CachedBatchTranslator) translateCombined(ctx context.Context, texts []string, targetLanguage string) ([]string, []bool, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer t.sem.Release(1)

	metrics.BackendRequestsTotal.WithLabelValues("combined").Inc()
	resp, err := t.backend.TranslateMany(ctx, []string{numberLines(texts)}, targetLanguage)
	if err != nil {
		return nil, nil, err
	}
	if len(resp) != 1 {
		return nil, nil, fmt.Errorf("combined request returned %d results, want 1", len(resp))
	}

	results, fresh := parseNumbered(resp[0], texts)
	if missing := countFalse(fresh); missing > 0 {
		log.Warn("Combined translation missed %d of %d lines, keeping source text for them", missing, len(texts))
	}
	return results, fresh, nil
}

// translateEach issues one single-item request per text; any failure cancels the rest.
func (t *CachedBatchTranslator) translateEach(ctx context.Context, texts []string, targetLanguage string) ([]string, error) {
	results := make([]string, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.maxConcurrency)

	for j, text := range texts {
		g.Go(func() error {
			if err := t.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer t.sem.Release(1)

			metrics.BackendRequestsTotal.WithLabelValues("single").Inc()
			resp, err := t.backend.TranslateMany(gctx, []string{text}, targetLanguage)
			if err != nil {
				return err
			}
			if len(resp) != 1 {
				return fmt.Errorf("single request returned %d results, want 1", len(resp))
			}
			results[j] = resp[0]
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func numberLines(texts []string) string {
	var b strings.Builder
	for i, text := range texts {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(strings.ReplaceAll(text, "\n", " "))
	}
	return b.String()
}

var numberedLine = regexp.MustCompile(`^\s*(\d+)[.)]\s?(.*)$`)

// parseNumbered maps "N. text" lines back to positions. Unnumbered lines continue the
// previous item; missing numbers keep the source text. A number seen again is dropped
// along with its continuation lines.
func parseNumbered(resp string, sources []string) ([]string, []bool) {
	results := make([]string, len(sources))
	fresh := make([]bool, len(sources))

	current := -1
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n >= 1 && n <= len(sources) {
				if fresh[n-1] {
					current = -1
					continue
				}
				current = n - 1
				results[current] = strings.TrimSpace(m[2])
				fresh[current] = true
				continue
			}
		}
		if current >= 0 {
			results[current] = strings.TrimSpace(results[current] + " " + line)
		}
	}

	for i := range sources {
		if !fresh[i] || results[i] == "" {
			results[i] = sources[i]
			fresh[i] = false
		}
	}
	return results, fresh
}

func countFalse(flags []bool) int {
	n := 0
	for _, f := range flags {
		if !f {
			n++
		}
	}
	return n
}

// translationError classifies err under the Translation kind unless it already is one.
func translationError(err error) error {
	if apperr.IsKind(err, apperr.KindTranslation) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(err, apperr.KindTranslation, apperr.CodeTimeout, "translation timed out")
	}
	return apperr.Wrap(err, apperr.KindTranslation, apperr.CodeTranslationFailed, "translation backend failed")
}
