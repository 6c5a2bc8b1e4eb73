package config

import "testing"

func TestDefault_HasClosedRoleSet(t *testing.T) {
	cfg := Default()
	if len(cfg.Roles) == 0 {
		t.Fatal("expected Default() to populate a non-empty role set")
	}
	if !cfg.HasRole("analyst") {
		t.Fatal("expected analyst to be a default role")
	}
}

func TestHasRole_RejectsUnknown(t *testing.T) {
	cfg := Default()
	if cfg.HasRole("plumber") {
		t.Fatal("expected plumber to not be a known role")
	}
}

func TestValidate_RejectsEmptyAuthToken(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Default() config with no auth token to fail validation")
	}
}

func TestValidate_RejectsEmptyRoles(t *testing.T) {
	cfg := Default()
	cfg.AuthToken = "secret"
	cfg.Roles = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected empty roles to fail validation")
	}
}

func TestValidate_RejectsOutOfRangeConfidence(t *testing.T) {
	cfg := Default()
	cfg.AuthToken = "secret"
	cfg.AuditConfidenceThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected out-of-range confidence threshold to fail validation")
	}
}

func TestValidate_AcceptsDefaultsWithAuthToken(t *testing.T) {
	cfg := Default()
	cfg.AuthToken = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults plus an auth token to validate, got: %v", err)
	}
}

func TestApplyEnvOverrides_SetsAuthToken(t *testing.T) {
	t.Setenv("MCS_AUTH_TOKEN", "from-env")
	cfg := Default()
	applyEnvOverrides(cfg)
	if cfg.AuthToken != "from-env" {
		t.Fatalf("expected auth token from env, got %q", cfg.AuthToken)
	}
}

func TestApplyEnvOverrides_LeavesUnsetValuesAlone(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "unchanged"
	applyEnvOverrides(cfg)
	if cfg.LLM.APIKey != "unchanged" {
		t.Fatalf("expected unset env var to leave APIKey alone, got %q", cfg.LLM.APIKey)
	}
}
