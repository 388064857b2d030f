package ops

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"descbot/pkg/logx"
)

func newTestService(t *testing.T, health error) (*Service, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "descbot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)
	svc := New(Config{}, Sources{
		Gatherer: reg,
		Health:   func() error { return health },
		Status:   func() any { return map[string]any{"paused": true, "index": 2} },
	}, logx.Nop())
	return svc, reg
}

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestEndpoints(t *testing.T) {
	svc, _ := newTestService(t, nil)
	h := svc.Handler(Config{})

	code, body := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "descbot_test_total 3")

	code, body = get(t, h, "/status", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"paused": true, "index": 2}`, body)

	code, _ = get(t, h, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthFailure(t *testing.T) {
	svc, _ := newTestService(t, errors.New("scheduler stopped"))
	code, body := get(t, svc.Handler(Config{}), "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "scheduler stopped")
}

func TestPprofEnabled(t *testing.T) {
	svc, _ := newTestService(t, nil)
	code, body := get(t, svc.Handler(Config{Pprof: true}), "/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "goroutine")
}

func TestAuth(t *testing.T) {
	svc, _ := newTestService(t, nil)
	h := svc.Handler(Config{Token: "s3cret"})

	tests := []struct {
		name string
		path string
		hdr  map[string]string
		want int
	}{
		{"missing", "/healthz", nil, http.StatusUnauthorized},
		{"wrong bearer", "/healthz", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/healthz", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"query", "/metrics?token=s3cret", nil, http.StatusOK},
		{"wrong query wins over header", "/status?token=x", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := get(t, h, tt.path, tt.hdr)
			assert.Equal(t, tt.want, code)
		})
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestStartStop(t *testing.T) {
	svc, _ := newTestService(t, nil)
	addr := freeAddr(t)
	ctx := context.Background()

	svc.Reconfigure(ctx, Config{Enabled: true, Addr: addr})
	require.NotNil(t, svc.Supervisor())

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 3*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	svc.Reconfigure(stopCtx, Config{Enabled: false, Addr: addr})
	assert.Nil(t, svc.Supervisor())
}

func TestRefusesInsecureBind(t *testing.T) {
	svc, _ := newTestService(t, nil)
	svc.cfg = Config{Enabled: true, Addr: "0.0.0.0:0"}
	err := svc.serveOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure")
}
