package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mercato/mercato-backend/api/responses"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	pkgredis "github.com/mercato/mercato-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour

	// inFlightTTL bounds how long a crashed request can hold its key.
	inFlightTTL = 2 * time.Minute

	maxIdempotentBody = 1 << 20

	replayedHeader = "Idempotent-Replayed"
)

const (
	recordPending  = "pending"
	recordComplete = "complete"
)

// ResponseStore persists replayable responses keyed by Idempotency-Key.
type ResponseStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type idempotencyRule struct {
	method   string
	segments []string
	ttl      time.Duration
}

func rule(method, pattern string, ttl time.Duration) idempotencyRule {
	return idempotencyRule{method: method, segments: splitPath(pattern), ttl: ttl}
}

var idempotencyRules = []idempotencyRule{
	rule(http.MethodPost, "/api/v1/returns", defaultIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/seller/sub-orders/{id}/shipments", defaultIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/admin/invoices/{id}/credit-notes", defaultIdempotencyTTL),

	// money movements
	rule(http.MethodPost, "/api/v1/checkout", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/orders/{id}/cancel", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/seller/sub-orders/{id}/cancel-items", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/seller/returns/{id}/refund", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/admin/returns/{id}/refund", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/admin/payouts/{id}/retry", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/admin/refunds/{id}/retry", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/admin/escrow/{id}/release", criticalIdempotencyTTL),
}

type idempotencyRecord struct {
	State       string            `json:"state"`
	RequestHash string            `json:"request_hash"`
	Status      int               `json:"status,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body,omitempty"`
}

// replayedHeaders are copied from the first response onto replays.
var replayedHeaders = []string{"Content-Type", "Location"}

// Idempotency makes the money-moving POST routes safe to retry. The first
// request reserves its key, later ones either replay the stored response,
// get a conflict while the first is still running, or are rejected when the
// body differs.
func Idempotency(store ResponseStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			if !usableRequestID(clientKey) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key must be printable and at most 128 characters"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "request body too large"))
					return
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := requestFingerprint(r, body)
			key := store.IdempotencyKey(requestScope(r), clientKey)

			pending, _ := json.Marshal(idempotencyRecord{State: recordPending, RequestHash: fingerprint})
			reserved, err := store.SetNX(ctx, key, string(pending), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayExisting(ctx, store, logg, w, key, fingerprint)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				// free the key so the client may retry a server fault
				if delErr := store.Del(ctx, key); delErr != nil {
					logError(ctx, logg, "release idempotency key", delErr)
				}
				return
			}

			record := idempotencyRecord{
				State:       recordComplete,
				RequestHash: fingerprint,
				Status:      status,
				Body:        capture.body.Bytes(),
			}
			for _, name := range replayedHeaders {
				if v := capture.Header().Get(name); v != "" {
					if record.Headers == nil {
						record.Headers = map[string]string{}
					}
					record.Headers[name] = v
				}
			}
			payload, err := json.Marshal(record)
			if err != nil {
				logError(ctx, logg, "encode idempotency record", err)
				return
			}
			if err := store.Set(ctx, key, string(payload), ttl); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func replayExisting(ctx context.Context, store ResponseStore, logg *logger.Logger, w http.ResponseWriter, key, fingerprint string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// reservation expired between SetNX and Get
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request state changed, retry"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != fingerprint {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.State != recordComplete {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this idempotency key is still in progress"))
		return
	}

	for name, v := range record.Headers {
		w.Header().Set(name, v)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

// requestScope keeps keys from colliding across actors and routes.
func requestScope(r *http.Request) string {
	storeID := ""
	if id := StoreIDFromContext(r.Context()); id != nil {
		storeID = id.String()
	}
	return strings.Join([]string{UserIDFromContext(r.Context()), storeID, r.Method, r.URL.Path}, "|")
}

func requestFingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func routeTTL(method, path string) (time.Duration, bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return 0, false
	}
	for _, rule := range idempotencyRules {
		if rule.method == method && matchSegments(rule.segments, segments) {
			return rule.ttl, true
		}
	}
	return 0, false
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// matchSegments compares a chi-style pattern where {name} matches any single
// non-empty segment.
func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if path[i] == "" {
				return false
			}
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return true
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
