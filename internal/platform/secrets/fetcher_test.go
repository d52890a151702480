package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const trackingSecretRef = "secret://tracking_token_secret"

type memSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	fail    map[string]error
	fetches map[string]int
}

func newMemSecretClient() *memSecretClient {
	return &memSecretClient{
		values:  make(map[string]string),
		fail:    make(map[string]error),
		fetches: make(map[string]int),
	}
}

func (c *memSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := req.GetName()
	c.fetches[name]++

	if err := c.fail[name]; err != nil {
		return nil, err
	}
	value, ok := c.values[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *memSecretClient) Close() error { return nil }

func (c *memSecretClient) fetchCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches[name]
}

func writeFallbackFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()

	client := newMemSecretClient()
	resource := "projects/atelier-sucre/secrets/tracking_token_secret/versions/latest"
	client.values[resource] = "remote-secret"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("atelier-sucre"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 3; i++ {
		got, err := fetcher.Resolve(ctx, trackingSecretRef)
		if err != nil {
			t.Fatalf("Resolve call %d returned error: %v", i, err)
		}
		if got != "remote-secret" {
			t.Fatalf("call %d: expected remote-secret, got %s", i, got)
		}
	}

	if n := client.fetchCount(resource); n != 1 {
		t.Fatalf("expected a single remote fetch, got %d", n)
	}
}

func TestResolveFallsBackWhenAccessDenied(t *testing.T) {
	ctx := context.Background()

	fallbackPath := writeFallbackFile(t, trackingSecretRef+"=local-secret\n")

	client := newMemSecretClient()
	client.fail["projects/atelier-sucre/secrets/tracking_token_secret/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("atelier-sucre"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, trackingSecretRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("expected fallback secret local-secret, got %s", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()

	fallbackPath := writeFallbackFile(t, trackingSecretRef+"=local-secret\n")

	client := newMemSecretClient()
	client.fail["projects/atelier-sucre/secrets/tracking_token_secret/versions/latest"] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("atelier-sucre"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, trackingSecretRef); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()

	client := newMemSecretClient()
	resource := "projects/atelier-sucre/secrets/tracking_token_secret/versions/latest"
	client.values[resource] = "remote-secret"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("atelier-sucre"),
	)
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, trackingSecretRef); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	client.mu.Lock()
	client.values[resource] = "rotated-secret"
	client.mu.Unlock()
	fetcher.Invalidate(trackingSecretRef)

	got, err := fetcher.Resolve(ctx, trackingSecretRef)
	if err != nil {
		t.Fatalf("Resolve after invalidate returned error: %v", err)
	}
	if got != "rotated-secret" {
		t.Fatalf("expected rotated-secret after invalidation, got %s", got)
	}
	if n := client.fetchCount(resource); n != 2 {
		t.Fatalf("expected two remote fetches, got %d", n)
	}
}

func TestResolveVersionSelection(t *testing.T) {
	cases := map[string]struct {
		ref      string
		pins     map[string]string
		env      string
		resource string
	}{
		"explicit version in reference": {
			ref:      trackingSecretRef + "?version=7",
			resource: "projects/atelier-sucre/secrets/tracking_token_secret/versions/7",
		},
		"global pin": {
			ref:      trackingSecretRef,
			pins:     map[string]string{trackingSecretRef: "5"},
			resource: "projects/atelier-sucre/secrets/tracking_token_secret/versions/5",
		},
		"environment pin wins over global": {
			ref: trackingSecretRef,
			env: "staging",
			pins: map[string]string{
				trackingSecretRef:              "5",
				"staging:" + trackingSecretRef: "9",
			},
			resource: "projects/atelier-sucre/secrets/tracking_token_secret/versions/9",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			client := newMemSecretClient()
			client.values[tc.resource] = "pinned-value"

			opts := []Option{
				WithSecretManagerClient(client),
				WithDefaultProject("atelier-sucre"),
				WithVersionPins(tc.pins),
			}
			if tc.env != "" {
				opts = append(opts, WithEnvironment(tc.env))
			}

			fetcher, err := NewFetcher(ctx, opts...)
			if err != nil {
				t.Fatalf("NewFetcher error: %v", err)
			}
			defer fetcher.Close()

			got, err := fetcher.Resolve(ctx, tc.ref)
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if got != "pinned-value" {
				t.Fatalf("expected pinned-value, got %s", got)
			}
			if n := client.fetchCount(tc.resource); n != 1 {
				t.Fatalf("expected fetch of %s, got %d calls", tc.resource, n)
			}
		})
	}
}

func TestResolveProjectOverrides(t *testing.T) {
	ctx := context.Background()

	client := newMemSecretClient()
	client.values["projects/atelier-sucre-staging/secrets/tracking_token_secret/versions/latest"] = "staging-value"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("atelier-sucre"),
		WithEnvironment("staging"),
		WithProjectMap(map[string]string{"staging": "atelier-sucre-staging"}),
	)
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, trackingSecretRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "staging-value" {
		t.Fatalf("expected staging-value, got %s", got)
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalDial := dialSecretManager
	dialSecretManager = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		dialSecretManager = originalDial
	})

	fallbackPath := writeFallbackFile(t, "# local development secrets\nsm://tracking_token_secret=local-secret\n")

	fetcher, err := NewFetcher(ctx, WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, trackingSecretRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-secret" {
		t.Fatalf("expected local secret, got %s", value)
	}
}
