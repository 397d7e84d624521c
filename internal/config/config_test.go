package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.PMSCallLimit != 199 {
		t.Errorf("expected default PMS call limit 199, got %d", cfg.PMSCallLimit)
	}
	if cfg.SendGridFromName != "ClinicVoice" {
		t.Errorf("expected default SendGrid from-name ClinicVoice, got %q", cfg.SendGridFromName)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PMS_CALL_LIMIT", "50")
	t.Setenv("RATE_LIMIT_PER_SEC", "12.5")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("expected overridden port 9090, got %q", cfg.Port)
	}
	if cfg.PMSCallLimit != 50 {
		t.Errorf("expected overridden PMS call limit 50, got %d", cfg.PMSCallLimit)
	}
	if cfg.RateLimitPerSec != 12.5 {
		t.Errorf("expected overridden rate limit 12.5, got %v", cfg.RateLimitPerSec)
	}
}

func TestLoadParsesCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://a.example" {
		t.Errorf("unexpected CORS origins: %v", cfg.CORSAllowedOrigins)
	}
}
