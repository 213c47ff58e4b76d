//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smilequote/api/internal/domain"
	pconfig "github.com/smilequote/api/internal/platform/config"
	pfirestore "github.com/smilequote/api/internal/platform/firestore"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestRepositoriesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "smilequote-test", EmulatorHost: endpoint})
	reg, err := NewRegistry(provider, Options{SessionTTL: time.Hour})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t.Run("catalog scoping", func(t *testing.T) {
		ist := repositories.CatalogQuery{ClinicID: "clinic-ist", City: "istanbul"}
		_ = reg.CatalogWriter().UpsertTreatment(ctx, repositories.CatalogQuery{}, domain.Treatment{ID: "cleaning", UnitPrice: 80})
		_ = reg.CatalogWriter().UpsertTreatment(ctx, ist, domain.Treatment{ID: "implant", UnitPrice: 900})
		_ = reg.CatalogWriter().UpsertTreatment(ctx, repositories.CatalogQuery{ClinicID: "clinic-bud"}, domain.Treatment{ID: "crown", UnitPrice: 250})

		got, err := reg.Catalog().ListTreatments(ctx, ist)
		if err != nil {
			t.Fatalf("list treatments: %v", err)
		}
		ids := make([]string, 0, len(got))
		for _, tr := range got {
			ids = append(ids, tr.ID)
		}
		if strings.Join(ids, ",") != "cleaning,implant" {
			t.Fatalf("unexpected treatments %v", ids)
		}
	})

	t.Run("quote insert and mark emailed", func(t *testing.T) {
		q := domain.Quote{ID: "q_int_1", Reference: "SQ-INT00001", Currency: "EUR", Status: domain.QuoteStatusSubmitted, CreatedAt: time.Now().UTC()}
		if err := reg.Quotes().Insert(ctx, q); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := reg.Quotes().Insert(ctx, q); !repositories.IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
		updated, err := reg.Quotes().MarkEmailed(ctx, q.ID, "ana@example.com", time.Now())
		if err != nil {
			t.Fatalf("mark emailed: %v", err)
		}
		if updated.Status != domain.QuoteStatusEmailed || updated.EmailedTo != "ana@example.com" {
			t.Fatalf("unexpected quote %+v", updated)
		}
	})

	t.Run("session round trip", func(t *testing.T) {
		rec := quote.Record{ID: "s_int_1", Currency: "EUR", Variant: quote.VariantStandard, Stage: quote.StageTreatments, UpdatedAt: time.Now().UTC()}
		if err := reg.Sessions().Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := reg.Sessions().FindByID(ctx, rec.ID)
		if err != nil || got.Stage != quote.StageTreatments {
			t.Fatalf("find: %+v %v", got, err)
		}
	})

	t.Run("handoff taken once under contention", func(t *testing.T) {
		sel := domain.PendingSelection{Token: "tok-int", Kind: domain.PendingPackage, Payload: "smile", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
		if err := reg.Handoffs().Put(ctx, sel); err != nil {
			t.Fatalf("put: %v", err)
		}
		const workers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				if _, err := reg.Handoffs().Take(ctx, sel.Token); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one successful take, got %d", wins)
		}
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
