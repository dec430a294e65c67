package ipinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingServer wraps an httptest server and counts requests.
type countingServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newCountingServer(status int, body string, delay time.Duration) *countingServer {
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	return cs
}

func testProvider(name string, srv *countingServer) Provider {
	return Provider{Name: name, URL: srv.URL, Decode: decodeIPInfo}
}

const goodBody = `{"ip": "203.0.113.7", "org": "AS64500 Example Org", "city": "Warsaw", "country": "PL"}`

func TestFetchCachesWithinTTL(t *testing.T) {
	srv := newCountingServer(http.StatusOK, goodBody, 0)
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Providers: []Provider{testProvider("primary", srv)},
		TTL:       time.Minute,
	})

	first, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), srv.hits.Load(), "second fetch within TTL must not hit the network")
	assert.Same(t, first, second)
}

func TestFetchForceBypassesCache(t *testing.T) {
	srv := newCountingServer(http.StatusOK, goodBody, 0)
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Providers: []Provider{testProvider("primary", srv)},
		TTL:       time.Minute,
	})

	_, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, int64(2), srv.hits.Load())
}

func TestFetchFallsThroughToNextProvider(t *testing.T) {
	failing := newCountingServer(http.StatusInternalServerError, "", 0)
	defer failing.Close()
	garbage := newCountingServer(http.StatusOK, `{"org": "no ip field"}`, 0)
	defer garbage.Close()
	working := newCountingServer(http.StatusOK, goodBody, 0)
	defer working.Close()

	f := NewFetcher(FetcherOptions{
		Providers: []Provider{
			testProvider("failing", failing),
			testProvider("garbage", garbage),
			testProvider("working", working),
		},
	})

	info, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "working", info.Provider)
	assert.Equal(t, "203.0.113.7", info.IP)
	assert.Equal(t, int64(1), failing.hits.Load())
	assert.Equal(t, int64(1), garbage.hits.Load())
}

func TestFetchAllProvidersDownNoCache(t *testing.T) {
	failing := newCountingServer(http.StatusServiceUnavailable, "", 0)
	defer failing.Close()

	f := NewFetcher(FetcherOptions{
		Providers: []Provider{testProvider("failing", failing)},
	})

	_, err := f.Fetch(context.Background(), false)
	require.ErrorIs(t, err, ErrAllProvidersUnavailable)
}

func TestFetchReturnsStaleCacheWhenAllProvidersFail(t *testing.T) {
	srv := newCountingServer(http.StatusOK, goodBody, 0)
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Providers: []Provider{testProvider("primary", srv)},
		TTL:       time.Minute,
	})

	_, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	// Expire the cache and break the provider.
	srv.Close()
	base := time.Now()
	f.now = func() time.Time { return base.Add(2 * time.Minute) }

	info, err := f.Fetch(context.Background(), false)
	require.NoError(t, err, "stale-but-labeled beats nothing")
	assert.True(t, info.Stale)
	assert.Equal(t, "203.0.113.7", info.IP)
}

func TestFetchCoalescesConcurrentCallers(t *testing.T) {
	srv := newCountingServer(http.StatusOK, goodBody, 100*time.Millisecond)
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Providers: []Provider{testProvider("slow", srv)},
		TTL:       time.Minute,
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := f.Fetch(context.Background(), true)
			assert.NoError(t, err)
			assert.Equal(t, "203.0.113.7", info.IP)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), srv.hits.Load(), "concurrent callers attach to the in-flight fetch")
}

func TestFetchRespectsProviderTimeout(t *testing.T) {
	slow := newCountingServer(http.StatusOK, goodBody, 500*time.Millisecond)
	defer slow.Close()
	fast := newCountingServer(http.StatusOK, goodBody, 0)
	defer fast.Close()

	f := NewFetcher(FetcherOptions{
		Providers: []Provider{
			testProvider("slow", slow),
			testProvider("fast", fast),
		},
		ProviderTimeout: 50 * time.Millisecond,
	})

	info, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "fast", info.Provider, "timed-out provider falls through to the next")
}

func TestCachedReturnsLastValueRegardlessOfExpiry(t *testing.T) {
	srv := newCountingServer(http.StatusOK, goodBody, 0)
	defer srv.Close()

	f := NewFetcher(FetcherOptions{
		Providers: []Provider{testProvider("primary", srv)},
		TTL:       time.Minute,
	})

	assert.Nil(t, f.Cached())
	_, err := f.Fetch(context.Background(), false)
	require.NoError(t, err)

	base := time.Now()
	f.now = func() time.Time { return base.Add(time.Hour) }
	require.NotNil(t, f.Cached())
}
