package firestore

import (
	"context"
	"errors"
	"testing"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/platform/config"
	pfirestore "github.com/Francovarelav/pickpackpromx/internal/platform/firestore"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
)

func TestNewRegistryRequiresProvider(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestRegistryHealthReportsUnreachableFirestore(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("FIRESTORE_EMULATOR_HOST", "")

	provider := pfirestore.NewProvider(config.FirestoreConfig{})
	reg, err := NewRegistry(provider, WithDependencyChecks(repositories.DependencyCheck{
		Name:     "pubsub",
		Optional: true,
		Check:    func(context.Context) error { return errors.New("topic missing") },
	}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Carts() == nil || reg.Catalog() == nil {
		t.Fatal("expected repositories to be wired")
	}

	report, err := reg.Health().Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := report.Checks["firestore"].Status; got != domain.HealthStatusDegraded {
		t.Fatalf("expected firestore degraded without project id, got %s", got)
	}
	if got := report.Checks["pubsub"].Status; got != domain.HealthStatusDegraded {
		t.Fatalf("expected optional pubsub degraded, got %s", got)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded report, got %s", report.Status)
	}
}

func TestRegistryCloseIsIdempotent(t *testing.T) {
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "registry-test"})
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := reg.Close(context.Background()); err != nil {
			t.Fatalf("Close call %d: %v", i, err)
		}
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, pfirestore.ErrProviderClosed) {
		t.Fatalf("expected provider closed, got %v", err)
	}
}
