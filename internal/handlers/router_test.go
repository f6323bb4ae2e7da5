package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestNewRouterProbesAndFallbacks(t *testing.T) {
	now := time.Date(2026, 2, 14, 4, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	cases := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantErr  string
	}{
		{name: "liveness", method: http.MethodGet, path: "/healthz", wantCode: http.StatusOK},
		{name: "readiness", method: http.MethodGet, path: "/readyz", wantCode: http.StatusOK},
		{name: "unwired catalog", method: http.MethodPost, path: "/api/v1/catalog/bottles:identify", wantCode: http.StatusServiceUnavailable, wantErr: "routes_unavailable"},
		{name: "unwired carts", method: http.MethodGet, path: "/api/v1/carts/cart-1/fulfillment", wantCode: http.StatusServiceUnavailable, wantErr: "routes_unavailable"},
		{name: "unknown path", method: http.MethodGet, path: "/api/v2/carts", wantCode: http.StatusNotFound, wantErr: "route_not_found"},
		{name: "probe method", method: http.MethodPost, path: "/healthz", wantCode: http.StatusMethodNotAllowed, wantErr: "method_not_allowed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rr.Code, rr.Body.String())
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("expected JSON response, got %q", ct)
			}
			if tc.wantErr != "" {
				if got := decodeErrorCode(t, rr); got != tc.wantErr {
					t.Fatalf("expected error %s, got %s", tc.wantErr, got)
				}
			}
		})
	}
}

func TestNewRouterMountsCartRegistrar(t *testing.T) {
	router := NewRouter(WithCartRoutes(func(r chi.Router) {
		r.Get("/{cartID}/fulfillment", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "cartID") != "GG-1042" {
				t.Errorf("expected cartID param, got %q", chi.URLParam(r, "cartID"))
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/carts/GG-1042/fulfillment", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestNewRouterGroupMiddlewareIsScoped(t *testing.T) {
	tag := func(value string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("X-Group", value)
				next.ServeHTTP(w, r)
			})
		}
	}
	router := NewRouter(
		WithCartMiddlewares(tag("carts"), nil),
		WithCatalogMiddlewares(tag("catalog")),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/carts/cart-1", nil))
	if got := rr.Header().Values("X-Group"); len(got) != 1 || got[0] != "carts" {
		t.Fatalf("expected only cart middleware, got %v", got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/bottles", nil))
	if got := rr.Header().Values("X-Group"); len(got) != 1 || got[0] != "catalog" {
		t.Fatalf("expected only catalog middleware, got %v", got)
	}
}

func TestNewRouterTimeoutSkipsEventStreams(t *testing.T) {
	deadlines := map[string]bool{}
	record := func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Context().Deadline()
		deadlines[r.URL.Path+"|"+r.Header.Get("Accept")] = ok
		w.WriteHeader(http.StatusOK)
	}
	router := NewRouter(WithRequestTimeout(time.Second), WithCartRoutes(func(r chi.Router) {
		r.Get("/{cartID}/bottle-session/events", record)
		r.Get("/{cartID}/bottle-session", record)
	}))

	requests := []struct {
		path   string
		accept string
		want   bool
	}{
		{path: "/api/v1/carts/cart-1/bottle-session/events", want: false},
		{path: "/api/v1/carts/cart-1/bottle-session", accept: "text/event-stream", want: false},
		{path: "/api/v1/carts/cart-1/bottle-session", accept: "application/json", want: true},
	}
	for _, tc := range requests {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.accept != "" {
			req.Header.Set("Accept", tc.accept)
		}
		router.ServeHTTP(httptest.NewRecorder(), req)
		if got := deadlines[tc.path+"|"+tc.accept]; got != tc.want {
			t.Fatalf("%s (%q): expected deadline=%v, got %v", tc.path, tc.accept, tc.want, got)
		}
	}
}
