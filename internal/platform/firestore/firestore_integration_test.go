//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pconfig "github.com/atelier-sucre/api/internal/platform/config"
	pfirestore "github.com/atelier-sucre/api/internal/platform/firestore"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type tallyDoc struct {
	Label string `firestore:"label"`
	Count int    `firestore:"count"`
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	requireDockerDaemon(t)

	endpoint, stop := launchEmulator(t)
	defer stop()

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "test-project",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("dial firestore client: %v", err)
	}
	if client == nil {
		t.Fatal("provider returned nil client")
	}

	repo := pfirestore.NewBaseRepository[tallyDoc](provider, "tallies")
	fetch := func(id string) pfirestore.Document[tallyDoc] {
		t.Helper()
		doc, err := repo.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		return doc
	}

	t.Run("set and get round-trips", func(t *testing.T) {
		if _, err := repo.Set(ctx, "tally-1", tallyDoc{Label: "tarte-citron", Count: 1}); err != nil {
			t.Fatalf("set: %v", err)
		}

		doc := fetch("tally-1")
		if doc.ID != "tally-1" {
			t.Fatalf("document id = %s, want tally-1", doc.ID)
		}
		if doc.Data.Label != "tarte-citron" || doc.Data.Count != 1 {
			t.Fatalf("decoded data mismatch: %#v", doc.Data)
		}
		if doc.UpdateTime.IsZero() {
			t.Fatal("update time was not populated")
		}
	})

	t.Run("partial update lands", func(t *testing.T) {
		if _, err := repo.Update(ctx, "tally-1", []firestore.Update{{Path: "count", Value: 2}}); err != nil {
			t.Fatalf("update: %v", err)
		}
		if got := fetch("tally-1").Data.Count; got != 2 {
			t.Fatalf("count after update = %d, want 2", got)
		}
	})

	t.Run("query returns all documents", func(t *testing.T) {
		docs, err := repo.Query(ctx, nil)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(docs) != 1 {
			t.Fatalf("query returned %d documents, want 1", len(docs))
		}
	})

	t.Run("missing document classifies as not found", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing")
		if err == nil {
			t.Fatal("get on a missing document succeeded")
		}
		type classifier interface{ IsNotFound() bool }
		var cls classifier
		if !errors.As(err, &cls) {
			t.Fatalf("error %v does not expose classification", err)
		}
		if !cls.IsNotFound() {
			t.Fatal("missing document not classified as not found")
		}
	})

	t.Run("transaction increments atomically", func(t *testing.T) {
		err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			ref, err := repo.DocumentRef(ctx, "tally-1")
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			var entity tallyDoc
			if err := snap.DataTo(&entity); err != nil {
				return err
			}
			entity.Count++
			return tx.Set(ref, entity)
		})
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
		if got := fetch("tally-1").Data.Count; got != 3 {
			t.Fatalf("count after transaction = %d, want 3", got)
		}
	})

	t.Run("cancelled context surfaces as such", func(t *testing.T) {
		cancelled, cancelNow := context.WithCancel(context.Background())
		cancelNow()
		err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error {
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("transaction on cancelled context returned %v, want context.Canceled", err)
		}
	})
}

// launchEmulator runs the Firestore emulator in docker and blocks until its
// port accepts connections.
func launchEmulator(t *testing.T) (endpoint string, stop func()) {
	t.Helper()

	port := freePort(t)
	endpoint = fmt.Sprintf("127.0.0.1:%d", port)

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v - %s", err, string(out))
	}

	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatal("docker returned empty container id")
	}
	// Shorten the ID to match docker CLI behaviour for stop/remove commands.
	if len(id) > 12 {
		id = id[:12]
	}

	waitForEndpoint(t, endpoint, 30*time.Second)
	return endpoint, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator never became ready: %v", lastErr)
}

func requireDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
