package devproxy

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

const (
	probeTimeout   = 2 * time.Second
	statusCacheTTL = 10 * time.Second
)

// Status is the liveness of one provider.
type Status struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Available bool   `json:"available"`
	// LatencyMS is nil when the probe failed before any response.
	LatencyMS *int64 `json:"latency"`
}

// Prober checks provider base URLs with HEAD requests. Results are cached
// briefly per base URL.
type Prober struct {
	registry   *Registry
	httpClient *http.Client
	cache      *expirable.LRU[string, Status]
}

// NewProber creates a Prober for the providers in registry.
func NewProber(registry *Registry) *Prober {
	return &Prober{
		registry:   registry,
		httpClient: &http.Client{Timeout: probeTimeout},
		cache:      expirable.NewLRU[string, Status](256, nil, statusCacheTTL),
	}
}

// Status probes every provider concurrently. A failed probe marks that
// provider unavailable; it never fails the whole call.
func (p *Prober) Status(ctx context.Context) ([]Status, error) {
	list, err := p.registry.List()
	if err != nil {
		return nil, err
	}

	results := make([]Status, len(list))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, prov := range list {
		g.Go(func() error {
			results[i] = p.probe(gCtx, prov)
			return nil
		})
	}
	g.Wait()
	return results, nil
}

func (p *Prober) probe(ctx context.Context, prov Provider) Status {
	key := prov.ID + " " + prov.BaseURL
	if st, ok := p.cache.Get(key); ok {
		return st
	}

	st := Status{ID: prov.ID, Label: prov.Label}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, prov.BaseURL, nil)
	if err != nil {
		p.registry.logger.Debug("building probe request failed", "provider", prov.ID, "error", err)
		return st
	}
	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.registry.logger.Debug("provider probe failed", "provider", prov.ID, "error", err)
		p.cache.Add(key, st)
		return st
	}
	resp.Body.Close()

	latency := time.Since(start).Milliseconds()
	st.Available = resp.StatusCode >= 200 && resp.StatusCode < 300
	st.LatencyMS = &latency
	p.cache.Add(key, st)
	return st
}
