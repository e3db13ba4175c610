package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingcalc/internal/calculator"
	"fundingcalc/internal/config"
	"fundingcalc/internal/service"
	"fundingcalc/internal/storage"
)

type stubCalculator struct {
	resp    service.Response
	err     error
	got     service.Request
	records []storage.CalculationRecord
	histErr error
	limit   int
}

func (s *stubCalculator) Calculate(_ context.Context, req service.Request) (service.Response, error) {
	s.got = req
	return s.resp, s.err
}

func (s *stubCalculator) RecentCalculations(_ context.Context, limit int) ([]storage.CalculationRecord, error) {
	s.limit = limit
	return s.records, s.histErr
}

func newTestServer(calc *stubCalculator) *Server {
	return NewServer(config.ServerConfig{Mode: gin.TestMode}, 20, calc, zerolog.Nop())
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestCalculateSuccess(t *testing.T) {
	calc := &stubCalculator{resp: service.Response{
		Result:              calculator.ByQuantity(nil, decimal.NewFromInt(5)),
		ServedFromCacheOnly: true,
		EventCount:          0,
	}}
	srv := newTestServer(calc)

	w := do(t, srv, http.MethodPost, "/api/calculate",
		`{"symbol":"BTCUSDT","inputType":"quantity","inputValue":5,"startDate":"2024-01-01","endDate":"2024-01-31"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	assert.Equal(t, "BTCUSDT", calc.got.Symbol)
	assert.Equal(t, "quantity", calc.got.SizingMode)
	assert.True(t, calc.got.SizingValue.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "2024-01-31", calc.got.EndDate)

	var body struct {
		Success             bool            `json:"success"`
		Data                json.RawMessage `json:"data"`
		DataCount           int             `json:"dataCount"`
		ServedFromCacheOnly bool            `json:"servedFromCacheOnly"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, body.ServedFromCacheOnly)
	assert.Contains(t, string(body.Data), `"daily":[]`)
	assert.Contains(t, string(body.Data), `"quantity":"5"`)
}

func TestCalculateAcceptsQuotedValue(t *testing.T) {
	calc := &stubCalculator{}
	srv := newTestServer(calc)

	w := do(t, srv, http.MethodPost, "/api/calculate",
		`{"symbol":"ETHUSDT","inputType":"amount","inputValue":"1000.50","startDate":"2024-01-01"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1000.5", calc.got.SizingValue.String())
}

func TestCalculateErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"validation", &service.ValidationError{Field: "startDate", Reason: "is required"}, http.StatusBadRequest, "invalid startDate: is required"},
		{"empty", calculator.ErrEmptyInput, http.StatusNotFound, "no data found"},
		{"wrapped empty", fmt.Errorf("%w: zero entry price", calculator.ErrEmptyInput), http.StatusNotFound, "no data found"},
		{"upstream", service.ErrUpstreamUnavailable, http.StatusBadGateway, "upstream unavailable"},
		{"deadline", fmt.Errorf("fetch coverage: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "calculation timed out"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "calculation failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&stubCalculator{err: tc.err})
			w := do(t, srv, http.MethodPost, "/api/calculate",
				`{"symbol":"BTCUSDT","inputType":"quantity","inputValue":1,"startDate":"2024-01-01"}`)

			assert.Equal(t, tc.status, w.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tc.reason, body.Error)
		})
	}
}

func TestCalculateCancelledRequest(t *testing.T) {
	srv := newTestServer(&stubCalculator{err: fmt.Errorf("fetch coverage: %w", context.Canceled)})
	w := do(t, srv, http.MethodPost, "/api/calculate",
		`{"symbol":"BTCUSDT","inputType":"quantity","inputValue":1,"startDate":"2024-01-01"}`)
	assert.Equal(t, 499, w.Code)
}

func TestCalculateMalformedBody(t *testing.T) {
	srv := newTestServer(&stubCalculator{})
	w := do(t, srv, http.MethodPost, "/api/calculate", `{"symbol":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestHistoryEndpoint(t *testing.T) {
	calc := &stubCalculator{records: []storage.CalculationRecord{{Symbol: "BTCUSDT", SizingMode: "quantity"}}}
	srv := newTestServer(calc)

	w := do(t, srv, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, calc.limit)
	assert.Contains(t, w.Body.String(), `"symbol":"BTCUSDT"`)

	w = do(t, srv, http.MethodGet, "/api/history?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, calc.limit)

	w = do(t, srv, http.MethodGet, "/api/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryNotConfigured(t *testing.T) {
	srv := newTestServer(&stubCalculator{histErr: storage.ErrNotConfigured})
	w := do(t, srv, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSymbolsHealthAndMetrics(t *testing.T) {
	srv := newTestServer(&stubCalculator{})

	w := do(t, srv, http.MethodGet, "/api/symbols", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "XAGUSDT")
	assert.Contains(t, w.Body.String(), `"key":"365d"`)

	w = do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fundingcalc_http_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := newTestServer(&stubCalculator{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv := newTestServer(&stubCalculator{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
