package ecommerce

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/woosync/internal/domain/integration"
	"github.com/erp/woosync/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type recordedBackoff struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedBackoff) backoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	d := ExponentialBackoff(min, max, attemptNum, resp)
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return d
}

func newTestClient(t *testing.T, serverURL string, opts ...ClientOption) *WooCommerceClient {
	t.Helper()
	cfg := NewWooCommerceConfig(serverURL, "ck_test", "cs_test")
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 20 * time.Millisecond
	cfg.Timeout = 2 * time.Second
	client, err := NewWooCommerceClient(cfg, opts...)
	require.NoError(t, err)
	return client
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestWooCommerceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *WooCommerceConfig
		wantErr error
	}{
		{
			name:    "valid config",
			config:  &WooCommerceConfig{SiteURL: "https://shop.example.com", ConsumerKey: "ck", ConsumerSecret: "cs"},
			wantErr: nil,
		},
		{
			name:    "missing site url",
			config:  &WooCommerceConfig{ConsumerKey: "ck", ConsumerSecret: "cs"},
			wantErr: ErrWooConfigMissingSiteURL,
		},
		{
			name:    "site url without scheme",
			config:  &WooCommerceConfig{SiteURL: "shop.example.com", ConsumerKey: "ck", ConsumerSecret: "cs"},
			wantErr: ErrWooConfigInvalidSiteURL,
		},
		{
			name:    "missing consumer key",
			config:  &WooCommerceConfig{SiteURL: "https://shop.example.com", ConsumerSecret: "cs"},
			wantErr: ErrWooConfigMissingConsumerKey,
		},
		{
			name:    "missing consumer secret",
			config:  &WooCommerceConfig{SiteURL: "https://shop.example.com", ConsumerKey: "ck"},
			wantErr: ErrWooConfigMissingConsumerSecret,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultWooTimeout, tt.config.Timeout)
			assert.Equal(t, defaultWooMaxAttempts, tt.config.MaxAttempts)
			assert.Equal(t, defaultWooRetryWaitMin, tt.config.RetryWaitMin)
			assert.Equal(t, defaultWooRetryWaitMax, tt.config.RetryWaitMax)
		})
	}
}

func TestWooCommerceConfig_BaseURL(t *testing.T) {
	cfg := NewWooCommerceConfig("https://shop.example.com/", "ck", "cs")
	assert.Equal(t, "https://shop.example.com/wp-json/wc/v3/", cfg.BaseURL())
}

func TestNewWooCommerceClient_NilConfig(t *testing.T) {
	_, err := NewWooCommerceClient(nil)
	assert.ErrorIs(t, err, integration.ErrPlatformNotConfigured)
}

// ---------------------------------------------------------------------------
// Execute Tests
// ---------------------------------------------------------------------------

func TestWooCommerceClient_Execute_Success(t *testing.T) {
	var gotPath, gotQuery, gotUA, gotContentType, gotBody string
	var gotUser, gotPass string
	var gotAuth bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		gotContentType = r.Header.Get("Content-Type")
		gotUser, gotPass, gotAuth = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Execute(context.Background(), integration.APIRequest{
		Method: http.MethodPost,
		Path:   "/products",
		Body:   map[string]any{"name": "Shirt"},
	})
	require.NoError(t, err)

	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, resp.Decode(&created))
	assert.Equal(t, int64(42), created.ID)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, "/wp-json/wc/v3/products", gotPath)
	assert.Empty(t, gotQuery)
	assert.True(t, gotAuth)
	assert.Equal(t, "ck_test", gotUser)
	assert.Equal(t, "cs_test", gotPass)
	assert.Contains(t, gotUA, "Chrome/")
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"name":"Shirt"}`, gotBody)
}

func TestWooCommerceClient_Execute_FixedUserAgent(t *testing.T) {
	var agents []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	cfg := NewWooCommerceConfig(server.URL, "ck", "cs")
	cfg.UserAgent = "woosync-test/1.0"
	client, err := NewWooCommerceClient(cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := client.Execute(context.Background(), integration.APIRequest{Method: http.MethodGet, Path: "products"})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"woosync-test/1.0", "woosync-test/1.0", "woosync-test/1.0"}, agents)
}

func TestWooCommerceClient_Execute_Query(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Execute(context.Background(), integration.APIRequest{
		Method: http.MethodGet,
		Path:   "customers",
		Query:  map[string][]string{"email": {"a@example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "email=a%40example.com", gotQuery)
}

func TestWooCommerceClient_Execute_RetryCeiling(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"unavailable","message":"try later"}`))
	}))
	defer server.Close()

	rec := &recordedBackoff{}
	metrics := telemetry.NewSyncMetrics()
	client := newTestClient(t, server.URL, WithBackoff(rec.backoff), WithClientMetrics(metrics))

	_, err := client.Execute(context.Background(), integration.APIRequest{Method: http.MethodGet, Path: "products"})
	require.Error(t, err)

	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.ErrorIs(t, err, integration.ErrPlatformUnavailable)
	assert.Equal(t, integration.ErrorClassRetriable, integration.ClassifyError(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, 5, apiErr.Attempts)
	assert.Equal(t, "try later", apiErr.Message)
	assert.True(t, apiErr.Retriable())

	require.Len(t, rec.delays, 4)
	for i := 1; i < len(rec.delays); i++ {
		assert.GreaterOrEqual(t, rec.delays[i], rec.delays[i-1])
	}
}

func TestWooCommerceClient_Execute_RateLimitedThenSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Execute(context.Background(), integration.APIRequest{Method: http.MethodPut, Path: "products/7", Body: map[string]int{"stock_quantity": 1}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWooCommerceClient_Execute_FatalStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  error
		wantClass integration.ErrorClass
		wantMsg   string
	}{
		{
			name:      "not found",
			status:    http.StatusNotFound,
			body:      `{"code":"woocommerce_rest_product_invalid_id","message":"Invalid ID.","data":{"status":404}}`,
			wantKind:  integration.ErrPlatformRequestFailed,
			wantClass: integration.ErrorClassFatalRemote,
			wantMsg:   "Invalid ID.",
		},
		{
			name:      "unauthorized",
			status:    http.StatusUnauthorized,
			body:      `{"code":"woocommerce_rest_cannot_view","message":"Sorry, you cannot list resources."}`,
			wantKind:  integration.ErrPlatformAuthFailed,
			wantClass: integration.ErrorClassFatalRemote,
			wantMsg:   "Sorry, you cannot list resources.",
		},
		{
			name:      "plain text body",
			status:    http.StatusBadRequest,
			body:      `bad request`,
			wantKind:  integration.ErrPlatformRequestFailed,
			wantClass: integration.ErrorClassFatalRemote,
			wantMsg:   "bad request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			_, err := client.Execute(context.Background(), integration.APIRequest{Method: http.MethodGet, Path: "products/1"})
			require.Error(t, err)

			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantClass, integration.ClassifyError(err))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.False(t, apiErr.Retriable())
		})
	}
}

func TestWooCommerceClient_Execute_TimeoutIsRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	cfg := NewWooCommerceConfig(server.URL, "ck", "cs")
	cfg.Timeout = 50 * time.Millisecond
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	client, err := NewWooCommerceClient(cfg)
	require.NoError(t, err)

	resp, err := client.Execute(context.Background(), integration.APIRequest{Method: http.MethodGet, Path: "orders/1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWooCommerceClient_Execute_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Execute(ctx, integration.APIRequest{Method: http.MethodGet, Path: "products"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWooCommerceClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wc/v3/", r.URL.Path)
		_, _ = w.Write([]byte(`{"namespace":"wc/v3"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	assert.NoError(t, client.Ping(context.Background()))
}

// ---------------------------------------------------------------------------
// Backoff Tests
// ---------------------------------------------------------------------------

func TestExponentialBackoff(t *testing.T) {
	min, max := 2*time.Second, 60*time.Second
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, 60 * time.Second}
	for attempt, expected := range want {
		assert.Equal(t, expected, ExponentialBackoff(min, max, attempt, nil), "attempt %d", attempt)
	}
}

func TestIsRetriableStatus(t *testing.T) {
	for status, want := range map[int]bool{
		200: false, 400: false, 401: false, 404: false,
		429: true, 500: true, 502: true, 503: true, 599: true,
	} {
		assert.Equal(t, want, IsRetriableStatus(status), "status %d", status)
	}
}

// ---------------------------------------------------------------------------
// User Agent Tests
// ---------------------------------------------------------------------------

func TestUserAgentSource(t *testing.T) {
	fixed := NewUserAgentSource("custom/1.0")
	assert.Equal(t, "custom/1.0", fixed.Next())

	rotating := NewUserAgentSource("")
	for i := 0; i < 20; i++ {
		ua := rotating.Next()
		assert.Contains(t, ua, "Mozilla/5.0")
		assert.Contains(t, ua, "Chrome/")
	}
}
