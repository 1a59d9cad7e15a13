package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/orcaops/releasecore/internal/domain"
	"github.com/orcaops/releasecore/internal/repository"
)

func TestBranchCRUDSentinels(t *testing.T) {
	store := New()
	ctx := context.Background()

	branch := &domain.Branch{Name: "feature/a", Type: domain.BranchFeature}
	if err := store.CreateBranch(ctx, branch); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateBranch(ctx, branch); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("duplicate create: got %v", err)
	}
	if err := store.CreateBranch(ctx, &domain.Branch{Name: " "}); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("blank name: got %v", err)
	}
	if _, err := store.GetBranch(ctx, "ghost"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("get missing: got %v", err)
	}
	if err := store.UpdateBranch(ctx, &domain.Branch{Name: "ghost"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("update missing: got %v", err)
	}
	if err := store.DeleteBranch(ctx, "feature/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteBranch(ctx, "feature/a"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("delete missing: got %v", err)
	}
}

func TestGetBranchReturnsIsolatedCopy(t *testing.T) {
	store := New()
	ctx := context.Background()

	rules := domain.DefaultProtectionRules()
	if err := store.CreateBranch(ctx, &domain.Branch{Name: "main", Protected: true, Rules: &rules}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.GetBranch(ctx, "main")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Rules.RequireReviews = 99

	fresh, err := store.GetBranch(ctx, "main")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.Rules.RequireReviews == 99 {
		t.Fatal("mutating a returned branch must not leak into the store")
	}
}

func TestEnvironmentHistoryIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	env := &domain.Environment{Name: "dev", VersionHistory: []string{"v1"}}
	if err := store.CreateEnvironment(ctx, env); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.GetEnvironment(ctx, "dev")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.VersionHistory[0] = "mutated"

	fresh, err := store.GetEnvironment(ctx, "dev")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.VersionHistory[0] != "v1" {
		t.Fatal("mutating returned history must not leak into the store")
	}
}

func TestListBranchesSorted(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := store.CreateBranch(ctx, &domain.Branch{Name: name}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	branches, err := store.ListBranches(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if branches[0].Name != "alpha" || branches[1].Name != "mid" || branches[2].Name != "zeta" {
		t.Fatalf("branches must come back sorted by name: %+v", branches)
	}
}

func TestListRunsByPipelineOrderAndLimit(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		run := &domain.PipelineRun{ID: id, Pipeline: "release", Status: domain.RunRunning}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := store.CreateRun(ctx, &domain.PipelineRun{ID: "other", Pipeline: "nightly"}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	runs, err := store.ListRunsByPipeline(ctx, "release", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Fatalf("expected newest two release runs, got %+v", runs)
	}

	all, err := store.ListRunsByPipeline(ctx, "release", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("zero limit must return everything, got %d", len(all))
	}
}

func TestCountActiveRuns(t *testing.T) {
	store := New()
	ctx := context.Background()

	statuses := []domain.RunStatus{domain.RunPending, domain.RunRunning, domain.RunSuccess, domain.RunFailed}
	for i, status := range statuses {
		run := &domain.PipelineRun{ID: string(rune('a' + i)), Pipeline: "release", Status: status}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	count, err := store.CountActiveRuns(ctx, "release")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 active runs, got %d", count)
	}
	count, err = store.CountActiveRuns(ctx, "nightly")
	if err != nil || count != 0 {
		t.Fatalf("unknown pipeline must count zero, got %d %v", count, err)
	}
}
