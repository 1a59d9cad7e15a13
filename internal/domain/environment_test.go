package domain

import "testing"

func TestEnvironmentConfigValidateRejectsLowReplicas(t *testing.T) {
	cfg := DefaultEnvironmentConfig(TierDevelopment)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	cfg.Replicas = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero replicas must be rejected, not clamped")
	}
	cfg.Replicas = -3
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative replicas must be rejected")
	}
}

func TestDefaultEnvironmentConfigPerTier(t *testing.T) {
	dev := DefaultEnvironmentConfig(TierDevelopment)
	if !dev.AutoDeploy || dev.RequireApproval {
		t.Fatalf("dev defaults wrong: %+v", dev)
	}
	test := DefaultEnvironmentConfig(TierTest)
	if test.DataSource != "sanitized" {
		t.Fatalf("test tier must default to sanitized data, got %q", test.DataSource)
	}
	pre := DefaultEnvironmentConfig(TierPreProd)
	if !pre.RequireApproval || pre.Replicas != 1 {
		t.Fatalf("pre_prod defaults wrong: %+v", pre)
	}
	prod := DefaultEnvironmentConfig(TierProduction)
	if !prod.RequireApproval || prod.Replicas != 2 {
		t.Fatalf("production defaults wrong: %+v", prod)
	}
	for _, cfg := range []EnvironmentConfig{dev, test, pre, prod} {
		if !cfg.MaskPII {
			t.Fatal("PII masking must default on for every tier")
		}
	}
}

func TestCanAcceptDeployment(t *testing.T) {
	env := Environment{Status: StatusHealthy}
	if !env.CanAcceptDeployment() {
		t.Fatal("healthy environment must accept deployments")
	}
	for _, status := range []EnvironmentStatus{StatusDegraded, StatusUnhealthy, StatusDeploying} {
		env.Status = status
		if env.CanAcceptDeployment() {
			t.Fatalf("%s environment must not accept deployments", status)
		}
	}
}

func TestPreviousVersionAndHasRun(t *testing.T) {
	env := Environment{CurrentVersion: "v3", VersionHistory: []string{"v1", "v2"}}
	prev, ok := env.PreviousVersion()
	if !ok || prev != "v2" {
		t.Fatalf("expected previous version v2, got %q ok=%v", prev, ok)
	}
	if !env.HasRun("v1") || env.HasRun("v3") {
		t.Fatal("history must contain superseded versions only")
	}
	empty := Environment{CurrentVersion: "v1"}
	if _, ok := empty.PreviousVersion(); ok {
		t.Fatal("environment with no history has no previous version")
	}
}

func TestValidStatus(t *testing.T) {
	for _, status := range []EnvironmentStatus{StatusHealthy, StatusDegraded, StatusUnhealthy, StatusDeploying} {
		if !ValidStatus(status) {
			t.Fatalf("%s must be a valid status", status)
		}
	}
	if ValidStatus("retired") {
		t.Fatal("unknown status must be invalid")
	}
}
