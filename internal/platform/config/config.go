package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRateLimitPublic      = 60
	defaultRateLimitAdmin       = 240
	defaultOrderLeadTime        = 48 * time.Hour
	defaultTrackingTokenTTL     = 90 * 24 * time.Hour
	defaultIdempotencyKeyHeader = "Idempotency-Key"
	defaultIdempotencyRecordTTL = 24 * time.Hour
	defaultCleanupInterval      = time.Hour
	defaultCleanupBatch         = 200
)

// Config is the full runtime configuration, grouped by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Orders      OrdersConfig
	RateLimits  RateLimitConfig
	Features    FeatureFlags
	Idempotency IdempotencyConfig
	Environment string
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the Firebase project backing admin authentication.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig selects the database project and optional emulator.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig names the media bucket and its public host.
type StorageConfig struct {
	MediaBucket string
	MediaHost   string
}

// PubSubConfig names the topic carrying domain events.
type PubSubConfig struct {
	ProjectID   string
	EventsTopic string
}

// OrdersConfig groups bakery order intake parameters.
type OrdersConfig struct {
	// LeadTime is the minimum delay between intake and delivery.
	LeadTime             time.Duration
	TrackingTokenSecret  string
	TrackingTokenTTL     time.Duration
	TrackingTokenIssuer  string
	OrderNumberCounterID string
}

// RateLimitConfig sets per-minute request ceilings.
type RateLimitConfig struct {
	PublicPerMinute int
	AdminPerMinute  int
}

// FeatureFlags gate optional surfaces at runtime.
type FeatureFlags struct {
	EnableTestimonials bool
	EnablePurchases    bool
}

// IdempotencyConfig tunes the replay-protection middleware.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver turns secret:// references into plain values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc lets a plain function act as a SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret invokes the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports configuration fields that are absent or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields lists the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError wraps a failure while resolving one secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolving secret %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that did not resolve to a value.
type MissingSecretsError struct {
	secrets []maskedSecret
}

type maskedSecret struct {
	name   string
	masked string
}

// Error renders only masked identifiers so the message is safe to log.
func (e *MissingSecretsError) Error() string {
	names := e.RedactedNames()
	if len(names) == 0 {
		return "required secrets unresolved"
	}
	return fmt.Sprintf("required secrets unresolved [%s]", strings.Join(names, ", "))
}

// RedactedNames lists the masked secret identifiers, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	return e.collect(func(s maskedSecret) string { return s.masked })
}

// Names lists the plain secret identifiers, sorted.
func (e *MissingSecretsError) Names() []string {
	return e.collect(func(s maskedSecret) string { return s.name })
}

func (e *MissingSecretsError) collect(pick func(maskedSecret) string) []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, pick(secret))
	}
	sort.Strings(out)
	return out
}

var errNoSecretResolver = errors.New("no secret resolver configured")

// Option customises Load behaviour.
type Option func(*loadSettings)

type loadSettings struct {
	envFile            string
	envMap             map[string]string
	useSystemEnv       bool
	secret             SecretResolver
	requiredSecrets    []string
	panicOnLostSecrets bool
}

// WithEnvFile points the loader at a different dotenv file.
func WithEnvFile(path string) Option {
	return func(s *loadSettings) { s.envFile = path }
}

// WithEnvMap supplies explicit key/value pairs that win over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(s *loadSettings) { s.envMap = values }
}

// WithoutSystemEnv keeps the loader away from os.Getenv, so only maps and
// dotenv files are consulted.
func WithoutSystemEnv() Option {
	return func(s *loadSettings) { s.useSystemEnv = false }
}

// WithSecretResolver installs the resolver backing secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(s *loadSettings) { s.secret = resolver }
}

// WithRequiredSecrets declares secrets that must resolve to a non-empty value.
// Names follow the config field paths, e.g. "Orders.TrackingTokenSecret".
func WithRequiredSecrets(names ...string) Option {
	return func(s *loadSettings) { s.requiredSecrets = append(s.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic instead of returning the error
// when a required secret is unresolved.
func WithPanicOnMissingSecrets() Option {
	return func(s *loadSettings) { s.panicOnLostSecrets = true }
}

func settingsFrom(opts []Option) loadSettings {
	settings := loadSettings{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return settings
}

// env is the layered key/value view the loader reads from. Precedence is
// explicit map, then process environment, then the dotenv file.
type env struct {
	explicit  map[string]string
	dotenv    map[string]string
	useSystem bool
}

func newEnv(settings loadSettings) (env, error) {
	dotenv, err := loadDotEnv(settings.envFile)
	if err != nil {
		return env{}, err
	}
	return env{
		explicit:  settings.envMap,
		dotenv:    dotenv,
		useSystem: settings.useSystemEnv,
	}, nil
}

func (e env) lookup(key string) (string, bool) {
	if value, ok := e.explicit[key]; ok {
		return value, true
	}
	if e.useSystem {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := e.dotenv[key]
	return value, ok
}

func (e env) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e.lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	if value, ok := e.lookup(key); ok && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) boolean(key string, fallback bool) bool {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// EnvironmentValues merges the loader's sources into one map using the same
// precedence as Load (dotenv < OS env < explicit map). Useful for wiring
// dependencies that need raw environment access before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	source, err := newEnv(settingsFrom(opts))
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, value := range source.dotenv {
		values[key] = value
	}
	if source.useSystem {
		for _, entry := range os.Environ() {
			key, value, found := strings.Cut(entry, "=")
			if !found || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range source.explicit {
		values[key] = value
	}
	return values, nil
}

// Load builds the configuration from defaults, the dotenv file, environment
// variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	settings := settingsFrom(opts)
	source, err := newEnv(settings)
	if err != nil {
		return Config{}, err
	}

	cfg := buildConfig(source)

	resolved, err := resolveSecretFields(ctx, &cfg, settings.secret)
	if err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if unresolved := checkRequiredSecrets(settings.requiredSecrets, resolved); unresolved != nil {
		if settings.panicOnLostSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", unresolved.Error())
			panic(unresolved)
		}
		return Config{}, unresolved
	}

	return cfg, nil
}

func buildConfig(e env) Config {
	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			MediaBucket: e.str("API_STORAGE_MEDIA_BUCKET", ""),
			MediaHost:   e.str("API_STORAGE_MEDIA_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:   e.str("API_PUBSUB_PROJECT_ID", ""),
			EventsTopic: e.str("API_PUBSUB_EVENTS_TOPIC", ""),
		},
		Orders: OrdersConfig{
			LeadTime:             e.duration("API_ORDERS_LEAD_TIME", defaultOrderLeadTime),
			TrackingTokenSecret:  e.str("API_ORDERS_TRACKING_SECRET", ""),
			TrackingTokenTTL:     e.duration("API_ORDERS_TRACKING_TTL", defaultTrackingTokenTTL),
			TrackingTokenIssuer:  e.str("API_ORDERS_TRACKING_ISSUER", "atelier-sucre"),
			OrderNumberCounterID: e.str("API_ORDERS_COUNTER_ID", "orders"),
		},
		RateLimits: RateLimitConfig{
			PublicPerMinute: e.integer("API_RATELIMIT_PUBLIC_PER_MIN", defaultRateLimitPublic),
			AdminPerMinute:  e.integer("API_RATELIMIT_ADMIN_PER_MIN", defaultRateLimitAdmin),
		},
		Features: FeatureFlags{
			EnableTestimonials: e.boolean("API_FEATURE_TESTIMONIALS", true),
			EnablePurchases:    e.boolean("API_FEATURE_PURCHASES", true),
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyKeyHeader),
			TTL:              e.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyRecordTTL),
			CleanupInterval:  e.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultCleanupBatch),
		},
		Environment: strings.ToLower(e.str("API_ENVIRONMENT", "local")),
	}

	// Firestore and Pub/Sub projects default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	return cfg
}

// resolveSecretFields replaces secret:// and sm:// references in-place and
// returns the resolved values keyed by field name for required-secret checks.
func resolveSecretFields(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	targets := []struct {
		name  string
		field *string
	}{
		{"Orders.TrackingTokenSecret", &cfg.Orders.TrackingTokenSecret},
	}

	resolved := make(map[string]string, len(targets))
	for _, target := range targets {
		value, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return nil, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}
	return resolved, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := canonicalSecretRef(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errNoSecretResolver}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var bad []string
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(cfg.Storage.MediaBucket != "", "Storage.MediaBucket")
	require(cfg.Orders.LeadTime > 0, "Orders.LeadTime")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

func checkRequiredSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var unresolved []maskedSecret
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] != "" {
			continue
		}
		unresolved = append(unresolved, maskedSecret{name: name, masked: maskSecretName(name)})
	}
	if len(unresolved) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: unresolved}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

// canonicalSecretRef rewrites the legacy sm:// scheme to secret://.
func canonicalSecretRef(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func maskSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if ok {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan %s: %w", path, err)
	}
	return values, nil
}

// parseDotEnvLine handles KEY=value with optional "export " prefix, comments,
// and single or double quoting of the value.
func parseDotEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	value = strings.Trim(strings.TrimSpace(value), "\"'")
	return key, value, true
}
