package environment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/orcaops/releasecore/internal/config"
	"github.com/orcaops/releasecore/internal/domain"
	"github.com/orcaops/releasecore/internal/repository"
	"github.com/orcaops/releasecore/internal/repository/memory"
)

func newTestService() *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(memory.New(), log, config.DefaultReleaseConfig(), nil)
}

func mustCreate(t *testing.T, svc *Service, name string, tier domain.EnvironmentTier) {
	t.Helper()
	if _, err := svc.CreateEnvironment(context.Background(), name, tier, nil); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
}

func mustDeploy(t *testing.T, svc *Service, name, version string) {
	t.Helper()
	deployed, err := svc.Deploy(context.Background(), name, version, false)
	if err != nil {
		t.Fatalf("deploy %s to %s: %v", version, name, err)
	}
	if !deployed {
		t.Fatalf("deploy %s to %s was rejected", version, name)
	}
}

func TestCreateEnvironmentAppliesTierDefaults(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	env, err := svc.CreateEnvironment(ctx, "prod", domain.TierProduction, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if env.Status != domain.StatusHealthy {
		t.Fatalf("new environments start healthy, got %s", env.Status)
	}
	if env.Config.Replicas != 2 || !env.Config.RequireApproval {
		t.Fatalf("production defaults not applied: %+v", env.Config)
	}

	if _, err := svc.CreateEnvironment(ctx, "prod", domain.TierProduction, nil); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("duplicate create must conflict, got %v", err)
	}
}

func TestCreateEnvironmentRejectsInvalidConfig(t *testing.T) {
	svc := newTestService()
	bad := domain.DefaultEnvironmentConfig(domain.TierDevelopment)
	bad.Replicas = 0
	if _, err := svc.CreateEnvironment(context.Background(), "dev", domain.TierDevelopment, &bad); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("invalid config must be rejected, got %v", err)
	}
}

func TestDeployRecordsHistory(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)

	mustDeploy(t, svc, "dev", "v1")
	mustDeploy(t, svc, "dev", "v2")
	mustDeploy(t, svc, "dev", "v3")

	history, err := svc.GetVersionHistory(ctx, "dev")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.CurrentVersion != "v3" {
		t.Fatalf("expected current v3, got %q", history.CurrentVersion)
	}
	if len(history.Versions) != 2 || history.Versions[0] != "v1" || history.Versions[1] != "v2" {
		t.Fatalf("history must hold superseded versions oldest first: %v", history.Versions)
	}
}

func TestDeployRejectedWhenUnhealthyUnlessForced(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)

	unhealthy := domain.StatusUnhealthy
	if _, err := svc.UpdateEnvironment(ctx, "dev", &unhealthy, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}

	deployed, err := svc.Deploy(ctx, "dev", "v1", false)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if deployed {
		t.Fatal("unhealthy environment must reject non-forced deploys")
	}

	deployed, err = svc.Deploy(ctx, "dev", "v1", true)
	if err != nil {
		t.Fatalf("forced deploy: %v", err)
	}
	if !deployed {
		t.Fatal("forced deploy must proceed regardless of health")
	}
}

func TestPromoteWalksTheLadder(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)
	mustCreate(t, svc, "test", domain.TierTest)
	mustDeploy(t, svc, "dev", "v1")

	result, err := svc.Promote(ctx, "dev", "test", "")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !result.Success || result.Version != "v1" {
		t.Fatalf("promotion must carry the source's current version: %+v", result)
	}

	health, err := svc.GetHealthStatus(ctx, "test")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.CurrentVersion != "v1" {
		t.Fatalf("target must now run v1, got %q", health.CurrentVersion)
	}
}

func TestPromoteRejectsNonAdjacentTiers(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)
	mustCreate(t, svc, "prod", domain.TierProduction)
	mustDeploy(t, svc, "dev", "v1")

	result, err := svc.Promote(ctx, "dev", "prod", "")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "Cannot promote") {
		t.Fatalf("skip-tier promotion must fail: %+v", result)
	}

	result, err = svc.Promote(ctx, "prod", "dev", "v1")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if result.Success {
		t.Fatal("downward promotion must fail")
	}
}

func TestPromoteWithoutVersion(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)
	mustCreate(t, svc, "test", domain.TierTest)

	result, err := svc.Promote(ctx, "dev", "test", "")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "No version") {
		t.Fatalf("promotion from an empty environment must fail: %+v", result)
	}
}

func TestPromoteHonorsTargetHealth(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)
	mustCreate(t, svc, "test", domain.TierTest)
	mustDeploy(t, svc, "dev", "v1")

	degraded := domain.StatusDegraded
	if _, err := svc.UpdateEnvironment(ctx, "test", &degraded, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}

	result, err := svc.Promote(ctx, "dev", "test", "")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "cannot accept deployments") {
		t.Fatalf("promotion never force-deploys: %+v", result)
	}
}

func TestPromoteReportsMissingEnvironments(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)

	result, err := svc.Promote(ctx, "ghost", "dev", "v1")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "not found") {
		t.Fatalf("missing source must fail the result: %+v", result)
	}

	result, err = svc.Promote(ctx, "dev", "ghost", "v1")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "not found") {
		t.Fatalf("missing target must fail the result: %+v", result)
	}
}

func TestRollbackToPreviousVersion(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)
	mustDeploy(t, svc, "dev", "v1")
	mustDeploy(t, svc, "dev", "v2")

	result, err := svc.Rollback(ctx, "dev", "", "bad release")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !result.Success || result.FromVersion != "v2" || result.ToVersion != "v1" {
		t.Fatalf("unexpected rollback result: %+v", result)
	}

	history, err := svc.GetVersionHistory(ctx, "dev")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.CurrentVersion != "v1" || len(history.Versions) != 0 {
		t.Fatalf("rollback must pop v1 out of the history: %+v", history)
	}
}

func TestRollbackWithoutHistory(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)
	mustDeploy(t, svc, "dev", "v1")

	result, err := svc.Rollback(ctx, "dev", "", "")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "No previous version") {
		t.Fatalf("first deploy leaves nothing to roll back to: %+v", result)
	}
}

func TestPromoteThenRollbackOnFreshTarget(t *testing.T) {
	// A target that has only ever received one promotion has no history,
	// so a rollback must fail even though the promotion succeeded.
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)
	mustCreate(t, svc, "test", domain.TierTest)
	mustDeploy(t, svc, "dev", "v1")

	promo, err := svc.Promote(ctx, "dev", "test", "")
	if err != nil || !promo.Success {
		t.Fatalf("promotion failed: %v %+v", err, promo)
	}
	rb, err := svc.Rollback(ctx, "test", "", "")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rb.Success || !strings.Contains(rb.Error, "No previous version") {
		t.Fatalf("fresh target must have no rollback candidate: %+v", rb)
	}
}

func TestRollbackToExplicitVersion(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)
	mustDeploy(t, svc, "dev", "v1")
	mustDeploy(t, svc, "dev", "v2")
	mustDeploy(t, svc, "dev", "v3")

	result, err := svc.Rollback(ctx, "dev", "v1", "")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !result.Success || result.ToVersion != "v1" {
		t.Fatalf("unexpected rollback result: %+v", result)
	}
	history, err := svc.GetVersionHistory(ctx, "dev")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.CurrentVersion != "v1" {
		t.Fatalf("expected current v1, got %q", history.CurrentVersion)
	}
	if len(history.Versions) != 1 || history.Versions[0] != "v2" {
		t.Fatalf("only the target leaves the history: %v", history.Versions)
	}

	result, err = svc.Rollback(ctx, "dev", "v9", "")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "not in history") {
		t.Fatalf("unknown version must fail the result: %+v", result)
	}
}

func TestUpdateEnvironmentValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)

	bogus := domain.EnvironmentStatus("retired")
	if _, err := svc.UpdateEnvironment(ctx, "dev", &bogus, nil); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("unknown status must be rejected, got %v", err)
	}

	bad := domain.DefaultEnvironmentConfig(domain.TierDevelopment)
	bad.Replicas = 0
	if _, err := svc.UpdateEnvironment(ctx, "dev", nil, &bad); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("invalid config must be rejected, got %v", err)
	}

	deploying := domain.StatusDeploying
	env, err := svc.UpdateEnvironment(ctx, "dev", &deploying, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if env.Status != domain.StatusDeploying {
		t.Fatalf("status not applied: %s", env.Status)
	}
}

func TestDeleteEnvironment(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)

	deleted, err := svc.DeleteEnvironment(ctx, "dev")
	if err != nil || !deleted {
		t.Fatalf("delete: %v deleted=%v", err, deleted)
	}
	deleted, err = svc.DeleteEnvironment(ctx, "dev")
	if err != nil || deleted {
		t.Fatalf("second delete must report false, got %v %v", deleted, err)
	}
}

func TestGetHealthStatusReflectsGating(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "dev", domain.TierDevelopment)

	health, err := svc.GetHealthStatus(ctx, "dev")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !health.CanAcceptDeployment || health.Status != domain.StatusHealthy {
		t.Fatalf("unexpected health: %+v", health)
	}

	degraded := domain.StatusDegraded
	if _, err := svc.UpdateEnvironment(ctx, "dev", &degraded, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	health, err = svc.GetHealthStatus(ctx, "dev")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.CanAcceptDeployment {
		t.Fatal("degraded environment must not accept deployments")
	}
}
