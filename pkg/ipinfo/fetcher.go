// Package ipinfo resolves the device's public IP and geolocation by
// querying a prioritized list of HTTP providers, normalizing their
// heterogeneous response shapes into one result type behind a TTL
// cache. Every provider failure falls through to the next; total
// failure prefers a stale cached result over nothing.
package ipinfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL keeps a result long enough to stay under provider
	// rate limits.
	DefaultTTL = 5 * time.Minute

	// DefaultProviderTimeout bounds each individual provider attempt.
	DefaultProviderTimeout = 5 * time.Second

	// maxBodyBytes caps provider responses; these payloads are tiny.
	maxBodyBytes = 1 << 20

	userAgent = "tailview/1.0"
)

// ErrAllProvidersUnavailable is returned when every provider failed
// and no cached result exists to fall back on.
var ErrAllProvidersUnavailable = errors.New("all public IP providers unavailable")

// Info is the normalized public-IP lookup result. Values are never
// mutated after creation; a new fetch produces a new Info.
type Info struct {
	IP      string `json:"ip"`
	Org     string `json:"org,omitempty"`
	ASN     string `json:"asn,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
	Loc     string `json:"loc,omitempty"`

	// Provider names the endpoint that produced this result.
	Provider string `json:"provider"`

	// FetchedAt is when the result was obtained.
	FetchedAt time.Time `json:"fetched_at"`

	// Stale marks a result served past its TTL because every provider
	// failed on refresh. Stale-but-labeled beats nothing.
	Stale bool `json:"stale,omitempty"`
}

// cacheEntry is the single global cache slot: there is only one
// subject (this device's public IP), so one entry suffices.
type cacheEntry struct {
	info      *Info
	expiresAt time.Time
}

// Fetcher queries providers in priority order with a TTL cache in
// front. Safe for concurrent use; concurrent fetches coalesce onto one
// network round-trip.
type Fetcher struct {
	providers []Provider
	client    *http.Client
	ttl       time.Duration
	timeout   time.Duration

	mu    sync.RWMutex
	cache *cacheEntry

	group singleflight.Group

	// now is swappable for tests.
	now func() time.Time
}

// FetcherOptions configures a Fetcher. Zero values select defaults.
type FetcherOptions struct {
	Providers       []Provider
	TTL             time.Duration
	ProviderTimeout time.Duration
	HTTPClient      *http.Client
}

// NewFetcher builds a Fetcher with the given options.
func NewFetcher(opts FetcherOptions) *Fetcher {
	providers := opts.Providers
	if len(providers) == 0 {
		providers = DefaultProviders()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	timeout := opts.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		providers: providers,
		client:    client,
		ttl:       ttl,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Cached returns the current cache entry regardless of expiry, or nil.
// Display code uses it to keep showing the last known value while a
// refresh runs.
func (f *Fetcher) Cached() *Info {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.cache == nil {
		return nil
	}
	return f.cache.info
}

// Fetch resolves the public IP. With force false a non-expired cache
// entry is returned without any network access, even while another
// fetch is in flight. Otherwise providers are tried in order; the
// first structurally valid response wins and refreshes the cache. If
// every provider fails, the previous cache entry is returned marked
// stale when one exists, else ErrAllProvidersUnavailable.
//
// Callers needing non-blocking behavior run Fetch off the interactive
// thread; concurrent callers attach to the in-flight lookup instead of
// issuing duplicate round-trips.
func (f *Fetcher) Fetch(ctx context.Context, force bool) (*Info, error) {
	if !force {
		if info := f.fresh(); info != nil {
			return info, nil
		}
	}

	v, err, _ := f.group.Do("public-ip", func() (interface{}, error) {
		// Re-check under the flight: a just-completed fetch may have
		// refreshed the cache while this caller waited.
		if !force {
			if info := f.fresh(); info != nil {
				return info, nil
			}
		}
		return f.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Info), nil
}

// fresh returns the cached value when it is within TTL, else nil.
func (f *Fetcher) fresh() *Info {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.cache != nil && f.now().Before(f.cache.expiresAt) {
		return f.cache.info
	}
	return nil
}

// refresh walks the provider chain and updates the cache on success.
func (f *Fetcher) refresh(ctx context.Context) (*Info, error) {
	for _, p := range f.providers {
		info, err := f.query(ctx, p)
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.cache = &cacheEntry{info: info, expiresAt: f.now().Add(f.ttl)}
		f.mu.Unlock()
		return info, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cache != nil {
		stale := *f.cache.info
		stale.Stale = true
		return &stale, nil
	}
	return nil, ErrAllProvidersUnavailable
}

// query performs one provider attempt with its own short timeout.
func (f *Fetcher) query(ctx context.Context, p Provider) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", p.Name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	info, err := p.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", p.Name, err)
	}
	info.Provider = p.Name
	info.FetchedAt = f.now()
	return info, nil
}
