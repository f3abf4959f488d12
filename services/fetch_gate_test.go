package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate-harvester/metrics"
	"estate-harvester/scraper"
	"estate-harvester/utils"
)

func fastRetry(attempts int) utils.RetryConfig {
	return utils.RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestFetchGateRetriesTransientFailures(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	var calls atomic.Int32
	base := scraper.FetcherFunc(func(_ context.Context, url string) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, &scraper.FetchError{URL: url, StatusCode: http.StatusServiceUnavailable}
		}
		return []byte("ok"), nil
	})

	g := NewFetchGate(base, FetchGateConfig{Source: "demo", Retry: fastRetry(4), Metrics: m})
	body, err := g.Fetch(context.Background(), "https://reality.example/1")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(m.FetchTotal.WithLabelValues("demo", metrics.FetchRetry)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchTotal.WithLabelValues("demo", metrics.FetchOK)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.FetchInFlight), 0)
}

func TestFetchGateDoesNotRetryPermanentFailures(t *testing.T) {
	var calls atomic.Int32
	base := scraper.FetcherFunc(func(_ context.Context, url string) ([]byte, error) {
		calls.Add(1)
		return nil, &scraper.FetchError{URL: url, StatusCode: http.StatusNotFound}
	})

	g := NewFetchGate(base, FetchGateConfig{Source: "demo", Retry: fastRetry(4)})
	_, err := g.Fetch(context.Background(), "https://reality.example/gone")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "fetch", scraper.ErrorClass(err))
}

func TestFetchGateWrapsForeignErrors(t *testing.T) {
	base := scraper.FetcherFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("boom")
	})
	g := NewFetchGate(base, FetchGateConfig{Source: "demo", Retry: fastRetry(1)})
	_, err := g.Fetch(context.Background(), "https://reality.example/x")

	var fe *scraper.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "https://reality.example/x", fe.URL)
}

func TestFetchGateAppliesTimeoutPerAttempt(t *testing.T) {
	var calls atomic.Int32
	base := scraper.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, &scraper.FetchError{URL: url, Err: ctx.Err()}
	})

	g := NewFetchGate(base, FetchGateConfig{Source: "demo", Retry: fastRetry(2), Timeout: 10 * time.Millisecond})
	start := time.Now()
	_, err := g.Fetch(context.Background(), "https://reality.example/slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(2), calls.Load(), "a timed-out attempt is retried")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchGateStopsOnCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	base := scraper.FetcherFunc(func(_ context.Context, url string) ([]byte, error) {
		calls.Add(1)
		cancel()
		return nil, &scraper.FetchError{URL: url, StatusCode: http.StatusTooManyRequests}
	})

	g := NewFetchGate(base, FetchGateConfig{
		Source: "demo",
		Retry:  utils.RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour},
	})
	_, err := g.Fetch(ctx, "https://reality.example/1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchGateEnforcesNestedCeilings(t *testing.T) {
	const (
		globalLimit    = 3
		perSourceLimit = 2
		sources        = 3
		perSource      = 10
	)
	global := utils.NewLimiter(globalLimit, 0)

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
		mu          sync.Mutex
		perSrcNow   = map[string]int{}
		perSrcMax   = map[string]int{}
	)
	base := func(source string) scraper.Fetcher {
		return scraper.FetcherFunc(func(context.Context, string) ([]byte, error) {
			n := inFlight.Add(1)
			for {
				old := maxInFlight.Load()
				if n <= old || maxInFlight.CompareAndSwap(old, n) {
					break
				}
			}
			mu.Lock()
			perSrcNow[source]++
			if perSrcNow[source] > perSrcMax[source] {
				perSrcMax[source] = perSrcNow[source]
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			perSrcNow[source]--
			mu.Unlock()
			inFlight.Add(-1)
			return []byte("ok"), nil
		})
	}

	var wg sync.WaitGroup
	for s := 0; s < sources; s++ {
		code := fmt.Sprintf("src-%d", s)
		g := NewFetchGate(base(code), FetchGateConfig{
			Source:    code,
			PerSource: utils.NewLimiter(perSourceLimit, 0),
			Global:    global,
			Retry:     fastRetry(1),
		})
		for i := 0; i < perSource; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := g.Fetch(context.Background(), "https://reality.example/x")
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxInFlight.Load()), globalLimit)
	for code, peak := range perSrcMax {
		assert.LessOrEqual(t, peak, perSourceLimit, code)
	}
}
