package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when JWT_SECRET is missing")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("IMAGE_GEN_CREDITS", "")
	t.Setenv("TRAIN_MODEL_CREDITS", "")
	t.Setenv("REFUND_ON_FAILURE", "")
	t.Setenv("PREVIEW_POLL_ATTEMPTS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ImageGenCredits != 1 {
		t.Fatalf("ImageGenCredits = %d, want 1", cfg.ImageGenCredits)
	}
	if cfg.TrainModelCredits != 20 {
		t.Fatalf("TrainModelCredits = %d, want 20", cfg.TrainModelCredits)
	}
	if cfg.RefundOnFailure {
		t.Fatalf("RefundOnFailure should default to false")
	}
	if cfg.PreviewPollAttempts != 120 {
		t.Fatalf("PreviewPollAttempts = %d, want 120", cfg.PreviewPollAttempts)
	}
	if cfg.PreviewPollInterval != time.Second {
		t.Fatalf("PreviewPollInterval = %s, want 1s", cfg.PreviewPollInterval)
	}
	if cfg.DBMaxConns != 20 || cfg.DBMinConns != 2 {
		t.Fatalf("DB pool defaults = %d/%d, want 20/2", cfg.DBMaxConns, cfg.DBMinConns)
	}
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("TRAIN_MODEL_CREDITS", "50")
	t.Setenv("REFUND_ON_FAILURE", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TrainModelCredits != 50 {
		t.Fatalf("TrainModelCredits = %d, want 50", cfg.TrainModelCredits)
	}
	if !cfg.RefundOnFailure {
		t.Fatalf("RefundOnFailure should honor override")
	}
}
