package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mercato/mercato-backend/pkg/logger"
)

func loggedRouter(buf *bytes.Buffer) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: buf})
	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/api/v1/orders/{orderId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{}}`))
	})
	return r
}

func TestLoggingRecordsRoutePatternAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	loggedRouter(buf).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/123", nil))

	for _, want := range []string{`"route":"/api/v1/orders/{orderId}"`, `"status":404`, `"level":"warn"`, `"bytes":12`} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("expected %s in %s", want, buf.String())
		}
	}
}

func TestLoggingSkipsHealthyHealthChecks(t *testing.T) {
	buf := &bytes.Buffer{}
	loggedRouter(buf).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected no access log for health check, got %s", buf.String())
	}
}
