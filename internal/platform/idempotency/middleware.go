package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atelier-sucre/api/internal/platform/auth"
	"github.com/atelier-sucre/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type mwSettings struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      func() time.Time
	logger     Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*mwSettings)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(s *mwSettings) {
		if name = strings.TrimSpace(name); name != "" {
			s.headerName = name
		}
	}
}

// WithTTL configures how long completed records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(s *mwSettings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMethods restricts the HTTP methods guarded by the middleware.
func WithMethods(methods ...string) MiddlewareOption {
	return func(s *mwSettings) {
		if len(methods) == 0 {
			return
		}
		s.methods = make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				s.methods[method] = struct{}{}
			}
		}
	}
}

// WithLogger injects a logger for background persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(s *mwSettings) {
		s.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(s *mwSettings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func defaultMethods() map[string]struct{} {
	return map[string]struct{}{
		http.MethodPost:   {},
		http.MethodPut:    {},
		http.MethodPatch:  {},
		http.MethodDelete: {},
	}
}

// guard holds the per-router state for one Middleware instance.
type guard struct {
	store Store
	cfg   mwSettings
}

// Middleware enforces idempotency semantics for mutating requests: the first
// request with a given key runs the handler and stores the response, retries
// replay it, and a concurrent duplicate gets a 409.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := mwSettings{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods:    defaultMethods(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}
	if len(cfg.methods) == 0 {
		cfg.methods = defaultMethods()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}

	g := &guard{store: store, cfg: cfg}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if _, guarded := g.cfg.methods[r.Method]; !guarded {
		next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	if key == "" {
		respondError(r.Context(), w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	}

	body, err := snapshotBody(r)
	if err != nil {
		respondError(r.Context(), w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	identity := requesterFrom(r.Context())
	fingerprint := requestDigest(r, body, identity)
	scoped := recordKey(key, identity)

	reservation, err := g.store.Reserve(r.Context(), scoped, fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	if err != nil {
		g.storeError(r.Context(), w, err)
		return
	}

	switch reservation.State {
	case ReservationStateNew:
		g.runAndPersist(w, r, next, key, scoped, fingerprint, identity)
	case ReservationStateCompleted:
		replayResponse(w, reservation.Record)
	case ReservationStatePending:
		respondError(r.Context(), w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
	default:
		respondError(r.Context(), w, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
	}
}

// runAndPersist executes the handler against a buffered writer, stores the
// captured response, and only then releases it to the client.
func (g *guard) runAndPersist(w http.ResponseWriter, r *http.Request, next http.Handler, key, scoped, fingerprint, identity string) {
	buffered := newBufferedWriter(w)
	next.ServeHTTP(buffered, r)

	response := Response{
		Status:  buffered.code(),
		Headers: buffered.headerCopy(),
		Body:    buffered.bytes(),
	}

	if err := g.store.SaveResponse(r.Context(), scoped, fingerprint, response, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		g.logf("idempotency: failed to persist response for key %s (identity %s): %v", key, identity, err)
		if releaseErr := g.store.Release(r.Context(), scoped, fingerprint); releaseErr != nil {
			g.logf("idempotency: failed to release key %s after save failure: %v", key, releaseErr)
		}
		respondError(r.Context(), w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}

	if err := buffered.flush(); err != nil {
		g.logf("idempotency: failed to flush response for key %s: %v", key, err)
	}
}

func (g *guard) storeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		respondError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	g.logf("idempotency: store error: %v", err)
	respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
}

func (g *guard) logf(format string, args ...any) {
	if g.cfg.logger != nil {
		g.cfg.logger.Printf(format, args...)
	}
}

// snapshotBody drains the request body and puts a rewindable copy back
// so the downstream handler still sees it.
func snapshotBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestDigest ties the stored record to the full shape of the request,
// so reusing a key with a different payload is detectable.
func requestDigest(r *http.Request, body []byte, identity string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		identity,
	}
	if len(body) > 0 {
		parts = append(parts, sha256Hex(body))
	} else {
		parts = append(parts, "")
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func requesterFrom(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

// recordKey prefixes the caller identity so two customers reusing a key
// value never collide on a record.
func recordKey(key, identity string) string {
	key = strings.TrimSpace(key)
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = "anonymous"
	}
	if key == "" {
		return identity
	}
	return key + "|" + identity
}

func replayResponse(w http.ResponseWriter, record Record) {
	header := w.Header()
	for key := range header {
		header.Del(key)
	}
	for key, values := range replayHeaders(record.ResponseHeaders) {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	header.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// bufferedWriter buffers the handler's response so it can be persisted
// before anything reaches the wire. A response we could not store must not
// be sent, otherwise a retry would re-execute a request the client already
// saw succeed.
type bufferedWriter struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter(parent http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{parent: parent, header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if status > 0 {
		b.status = status
	} else {
		b.status = http.StatusOK
	}
}

func (b *bufferedWriter) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedWriter) code() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) bytes() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return b.body.Bytes()
}

func (b *bufferedWriter) headerCopy() http.Header {
	copied := make(http.Header, len(b.header))
	for key, values := range b.header {
		copied[key] = append([]string(nil), values...)
	}
	return copied
}

// flush releases the buffered response to the real writer.
func (b *bufferedWriter) flush() error {
	dst := b.parent.Header()
	for key := range dst {
		dst.Del(key)
	}
	for key, values := range b.header {
		for _, value := range values {
			dst.Add(key, value)
		}
	}

	b.parent.WriteHeader(b.code())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := b.parent.Write(b.body.Bytes())
	return err
}
