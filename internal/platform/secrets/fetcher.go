package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
	metricNamespace     = "github.com/atelier-sucre/api/internal/platform/secrets"
)

var dialSecretManager = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// reference is a parsed secret:// URI. The canonical form strips query
// parameters so pins and fallback entries address the same secret.
type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

// Fetcher resolves secret:// references through Google Secret Manager, with
// an in-process cache and a local file fallback for offline development.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string
	versionPins    map[string]string

	fallback fallbackFile

	mu    sync.RWMutex
	cache map[string]string

	stats fetchMetrics
}

// fallbackFile lazily parses the local secrets file on first use.
type fallbackFile struct {
	path   string
	once   sync.Once
	values map[string]string
	err    error
	logger *zap.Logger
}

type fetchMetrics struct {
	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type fetcherSettings struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projectMap   map[string]string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
	versionPins  map[string]string
}

// Option adjusts how a Fetcher is built.
type Option func(*fetcherSettings)

// WithLogger supplies the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherSettings) { cfg.logger = logger }
}

// WithEnvironment names the environment used when picking project IDs.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherSettings) { cfg.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when no per-environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherSettings) { cfg.defaultProj = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherSettings) { cfg.projectMap = maps.Clone(m) }
}

// WithFallbackFile points at a different local secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherSettings) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter replaces the OpenTelemetry meter recording fetch stats.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherSettings) { cfg.meter = m }
}

// WithSecretManagerClient substitutes an already-built Secret Manager client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherSettings) { cfg.client = client }
}

// WithClientOptions passes extra Cloud client options to the dialled client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherSettings) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// WithVersionPins fixes secret versions, keyed by canonical reference.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherSettings) { cfg.versionPins = maps.Clone(pins) }
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not fatal:
// the fetcher degrades to fallback-file-only resolution so local development
// works without cloud credentials.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherSettings{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		projectMap:   map[string]string{},
		versionPins:  map[string]string{},
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	f := &Fetcher{
		logger:         cfg.logger,
		env:            cfg.env,
		defaultProject: cfg.defaultProj,
		projectByEnv:   maps.Clone(cfg.projectMap),
		versionPins:    maps.Clone(cfg.versionPins),
		fallback:       fallbackFile{path: cfg.fallbackPath, logger: cfg.logger},
		cache:          make(map[string]string),
		stats:          newFetchMetrics(cfg.meter, cfg.logger),
	}

	switch {
	case cfg.client != nil:
		f.client = cfg.client
	default:
		client, err := dialSecretManager(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}

	return f, nil
}

func newFetchMetrics(meter metric.Meter, logger *zap.Logger) fetchMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	var stats fetchMetrics
	latency, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	if err != nil {
		logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	} else {
		stats.latency = latency
	}

	hits, err := meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	)
	if err != nil {
		logger.Warn("secrets: unable to register cache hit metric", zap.Error(err))
	} else {
		stats.cacheHits = hits
	}
	return stats
}

// Close releases the Secret Manager client when this fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for a secret:// reference. Resolution order
// is cache, Secret Manager, then the local fallback file. Access failures
// (denied, unavailable) fall through to the fallback; a NotFound does not.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}

	version := f.pinnedVersion(ref)
	key := versionedKey(ref.canonical, version)

	if value, ok := f.cached(key); ok {
		f.stats.recordHit(ctx, ref.canonical)
		f.stats.recordLatency(ctx, time.Since(start), "cache", nil)
		return value, nil
	}

	projectID := f.resolveProject(ref)
	if projectID != "" && f.client != nil {
		value, err := f.access(ctx, projectID, ref.name, version)
		switch {
		case err == nil:
			f.remember(key, value)
			f.stats.recordLatency(ctx, time.Since(start), "remote", nil)
			return value, nil
		case !fallbackEligible(err):
			f.stats.recordLatency(ctx, time.Since(start), "error", err)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("ref", ref.canonical), zap.Error(err))
	}

	value, ok := f.fallback.lookup(ref.canonical, version)
	if !ok {
		err := fmt.Errorf("secrets: fallback value not found for %s", ref.canonical)
		f.stats.recordLatency(ctx, time.Since(start), "error", err)
		return "", err
	}
	f.remember(key, value)
	f.stats.recordLatency(ctx, time.Since(start), "fallback", nil)
	return value, nil
}

// Invalidate clears cached values for the supplied reference so the next
// Resolve refetches it, e.g. after a rotation.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}
	prefix := ref.canonical + "#"

	f.mu.Lock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
	f.mu.Unlock()
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[key]
	return value, ok
}

func (f *Fetcher) remember(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, projectID, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) resolveProject(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projectByEnv[f.env]); id != "" {
		return id
	}
	return strings.TrimSpace(f.defaultProject)
}

// pinnedVersion answers the version to fetch. An explicit ?version= in the
// reference wins, then an environment-scoped pin, then a global pin.
func (f *Fetcher) pinnedVersion(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := strings.TrimSpace(f.versionPins[key]); pin != "" {
			return pin
		}
	}
	return defaultVersion
}

func (ff *fallbackFile) lookup(canonical, version string) (string, bool) {
	ff.once.Do(ff.load)
	if ff.err != nil {
		ff.logger.Debug("secrets: fallback load error", zap.Error(ff.err))
		return "", false
	}
	if value, ok := ff.values[versionedKey(canonical, version)]; ok {
		return value, true
	}
	value, ok := ff.values[canonical]
	return value, ok
}

func (ff *fallbackFile) load() {
	ff.values = map[string]string{}

	path := strings.TrimSpace(ff.path)
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			ff.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		ff.addLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		ff.err = fmt.Errorf("secrets: failed reading %s: %w", path, err)
	}
}

// addLine ingests one "ref=value" fallback entry. Blank lines and # comments
// are skipped; sm:// keys are accepted as an alias for secret://.
func (ff *fallbackFile) addLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	rawKey, value, found := strings.Cut(line, "=")
	if !found {
		return
	}
	key := strings.TrimSpace(rawKey)
	value = strings.TrimSpace(value)
	if key == "" {
		return
	}
	if strings.HasPrefix(key, "sm://") {
		key = "secret://" + strings.TrimPrefix(key, "sm://")
	}

	ref, err := parseReference(key)
	if err != nil {
		ff.values[key] = value
		return
	}
	version := ref.version
	if version == "" {
		version = defaultVersion
	}
	ff.values[ref.canonical] = value
	ff.values[versionedKey(ref.canonical, version)] = value
}

func (m fetchMetrics) recordLatency(ctx context.Context, d time.Duration, source string, err error) {
	if m.latency == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	m.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (m fetchMetrics) recordHit(ctx context.Context, canonical string) {
	if m.cacheHits == nil {
		return
	}
	// Hash the reference so secret names never reach the metrics backend.
	digest := sha256.Sum256([]byte(canonical))
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("secret", hex.EncodeToString(digest[:8])),
	))
}

func parseReference(raw string) (reference, error) {
	if strings.TrimSpace(raw) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	return reference{
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func versionedKey(canonical, version string) string {
	return canonical + "#" + version
}

// fallbackEligible reports whether a Secret Manager failure should be hidden
// behind the local fallback file. Missing secrets are real errors and are not
// masked.
func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
