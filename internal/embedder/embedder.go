// Package embedder turns text into fixed-dimension vectors via an external HTTP host,
// caching results in a bounded in-process LRU and guarding against silent model drift.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/memoryd/memoryd/internal/store"
)

// CacheStats reports the embedding cache's hit/miss counts alongside its size and
// configured capacity.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Size     int
	Capacity int
}

// Embedder calls an external embedding host, caching exact-text hits in a bounded LRU.
// Transient errors and host absence mark the service unavailable; Embed never returns an
// error that a caller is expected to surface to the user — degraded callers simply drop
// the vector signal.
type Embedder struct {
	host   string
	model  string
	dim    int
	client *http.Client
	log    *slog.Logger
	st     *store.Store

	cache    *lru.Cache[string, []float32]
	capacity int

	mu            sync.Mutex
	hits, misses  int64
	available     bool
	modelMismatch bool
	warnedOnce    bool
}

// New constructs an Embedder. host is the embedding HTTP endpoint (e.g.
// "http://127.0.0.1:8431/embed"); model is this process's configured model identifier,
// compared against the store's previously recorded identifier on first use.
func New(st *store.Store, host, model string, dim, cacheCapacity int, log *slog.Logger) (*Embedder, error) {
	if log == nil {
		log = slog.Default()
	}
	if cacheCapacity <= 0 {
		cacheCapacity = 2048
	}
	cache, err := lru.New[string, []float32](cacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{
		host:      host,
		model:     model,
		dim:       dim,
		client:    &http.Client{Timeout: 5 * time.Second},
		log:       log,
		st:        st,
		cache:     cache,
		capacity:  cacheCapacity,
		available: host != "",
	}, nil
}

// Available reports whether the embedding host is configured and currently reachable.
func (e *Embedder) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// ModelMismatch reports whether the store's recorded embedding_model differs from this
// process's configured model.
func (e *Embedder) ModelMismatch() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modelMismatch
}

// Embed returns the embedding for text, using the cache on an exact match and the
// external host on a miss. A nil, nil result (never an error to the caller) signals the
// vector signal should be omitted — Recall treats that as "embeddings unavailable".
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		e.mu.Lock()
		e.hits++
		e.mu.Unlock()
		return v, nil
	}

	e.mu.Lock()
	e.misses++
	e.mu.Unlock()

	if !e.Available() {
		return nil, nil
	}

	if err := e.checkModelGuard(ctx); err != nil {
		e.log.Warn("embedding model guard check failed", "error", err)
	}

	vec, err := e.callHost(ctx, text)
	if err != nil {
		e.mu.Lock()
		e.available = false
		e.mu.Unlock()
		e.log.Warn("embedding host unavailable, degrading vector signal", "error", err)
		return nil, nil
	}

	e.cache.Add(text, vec)
	return vec, nil
}

// EmbedSync behaves identically to Embed; the distinction is in the caller's dispatch
// model, not this function's blocking behavior, since this engine's API is synchronous
// throughout.
func (e *Embedder) EmbedSync(ctx context.Context, text string) ([]float32, error) {
	return e.Embed(ctx, text)
}

func (e *Embedder) checkModelGuard(ctx context.Context) error {
	e.mu.Lock()
	already := e.warnedOnce
	e.mu.Unlock()
	if already {
		return nil
	}

	stored, err := e.st.MetaGet(ctx, "embedding_model")
	if err != nil {
		return err
	}
	if stored == "" {
		return e.st.MetaSet(ctx, "embedding_model", e.model)
	}
	if stored != e.model {
		e.mu.Lock()
		e.modelMismatch = true
		e.warnedOnce = true
		e.mu.Unlock()
		e.log.Warn("embedding model mismatch: stored vectors were produced by a different model",
			"stored_model", stored, "configured_model", e.model)
	}
	return nil
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *Embedder) callHost(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding host returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if e.dim > 0 && len(out.Embedding) != e.dim {
		return nil, fmt.Errorf("embedding host returned dim %d, expected %d", len(out.Embedding), e.dim)
	}
	return out.Embedding, nil
}

// Stats returns cache hit/miss/size/capacity counters.
func (e *Embedder) Stats() CacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return CacheStats{
		Hits:     e.hits,
		Misses:   e.misses,
		Size:     e.cache.Len(),
		Capacity: e.cacheCapacity(),
	}
}

func (e *Embedder) cacheCapacity() int {
	// golang-lru/v2 does not expose capacity directly; it was supplied at construction
	// and is tracked here for the stats surface.
	return e.capacity
}
