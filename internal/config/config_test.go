package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validPolicy() ChannelPolicy {
	return ChannelPolicy{
		Enabled:        true,
		MinScore:       60,
		WindowDays:     7,
		MinSample:      20,
		MaxFailureRate: 0.1,
		MinDaysBetween: 3,
		MaxSteps:       3,
		MaxPerRun:      25,
		TimeoutSeconds: 30,
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Channels.Email.ChannelPolicy = validPolicy()
	cfg.Channels.Voice.ChannelPolicy = validPolicy()
	cfg.StopLoss.MaxZeroRuns = 5
	cfg.StopLoss.MaxZeroDays = 14
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Run.Mode != ModeDryRun {
		t.Errorf("expected default mode dry-run, got %s", cfg.Run.Mode)
	}
	if got := strings.Join(cfg.Run.Priority, ","); got != "voice,sms,email" {
		t.Errorf("expected default priority voice,sms,email, got %s", got)
	}
	if cfg.Scoring.Company != 20 || cfg.Scoring.Email != 20 || cfg.Scoring.Phone != 15 {
		t.Errorf("unexpected scoring weights: %+v", cfg.Scoring)
	}
	if cfg.Channels.Email.MinScore != 0 || cfg.StopLoss.MaxZeroRuns != 0 {
		t.Error("policy thresholds must not carry defaults")
	}
}

func TestValidateRejectsMissingThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels.Email.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing thresholds")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, key := range []string{
		"channels.email.minScore",
		"channels.email.windowDays",
		"channels.email.minSample",
		"channels.email.maxFailureRate",
		"channels.email.minDaysBetween",
		"channels.email.maxSteps",
		"channels.email.maxPerRun",
		"channels.email.timeoutSeconds",
		"stopLoss.maxZeroRuns",
		"stopLoss.maxZeroDays",
	} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected error to name %s, got: %v", key, err)
		}
	}
}

func TestValidateAcceptsCompleteDryRunConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateDisabledChannelNeedsNoThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Voice = VoiceConfig{BusinessHours: cfg.Channels.Voice.BusinessHours}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled channel should not be validated: %v", err)
	}
}

func TestValidateRejectsUnknownPriorityChannel(t *testing.T) {
	cfg := validConfig()
	cfg.Run.Priority = []string{"voice", "fax", "email"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), `unknown channel "fax"`) {
		t.Fatalf("expected unknown channel error, got %v", err)
	}
}

func TestValidateRejectsEnabledChannelMissingFromPriority(t *testing.T) {
	cfg := validConfig()
	cfg.Run.Priority = []string{"email"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), `"voice" missing from priority`) {
		t.Fatalf("expected missing priority error, got %v", err)
	}
}

func TestValidateLiveModeRequiresTransports(t *testing.T) {
	cfg := validConfig()
	cfg.Run.Mode = ModeLive
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected live mode to require transport settings")
	}
	for _, key := range []string{"smtpHost", "twilio", "twimlUrl"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected error to mention %s, got: %v", key, err)
		}
	}
}

func TestValidateRejectsBadBusinessHours(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Voice.BusinessHours.StartHour = 18
	cfg.Channels.Voice.BusinessHours.EndHour = 9
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid business hours error")
	}
}

func TestLoadFromJSONFileWithIncludeAndEnvSubstitution(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "base.json")
	mainPath := filepath.Join(tmpDir, "config.json")
	baseCfg := `{
		"channels": { "email": { "enabled": true, "minScore": 40, "windowDays": 7 } },
		"stopLoss": { "maxZeroRuns": 3 }
	}`
	mainCfg := `{
		"$include": "base.json",
		"run": { "mode": "live" },
		"channels": {
			"email": { "minScore": 65, "smtpPassword": "${TEST_SMTP_PASSWORD}" }
		}
	}`
	if err := os.WriteFile(basePath, []byte(baseCfg), 0o600); err != nil {
		t.Fatalf("write base config: %v", err)
	}
	if err := os.WriteFile(mainPath, []byte(mainCfg), 0o600); err != nil {
		t.Fatalf("write main config: %v", err)
	}
	t.Setenv("AUTONOMY_HOME", tmpDir)
	t.Setenv("TEST_SMTP_PASSWORD", "s3cret")

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Run.Mode != ModeLive {
		t.Errorf("expected live mode, got %s", cfg.Run.Mode)
	}
	if cfg.Channels.Email.MinScore != 65 {
		t.Errorf("expected include overridden minScore 65, got %d", cfg.Channels.Email.MinScore)
	}
	if cfg.Channels.Email.WindowDays != 7 {
		t.Errorf("expected windowDays from include, got %d", cfg.Channels.Email.WindowDays)
	}
	if cfg.Channels.Email.SMTPPassword != "s3cret" {
		t.Errorf("expected env substituted password, got %q", cfg.Channels.Email.SMTPPassword)
	}
	if cfg.StopLoss.MaxZeroRuns != 3 {
		t.Errorf("expected maxZeroRuns 3, got %d", cfg.StopLoss.MaxZeroRuns)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	content := `
run:
  priority: [email, voice]
channels:
  voice:
    enabled: true
    minScore: 70
    maxFailureRate: 0.2
    outcomeMap:
      "completed:fax": failed
stopLoss:
  maxZeroDays: 10
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("AUTONOMY_HOME", tmpDir)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := strings.Join(cfg.Run.Priority, ","); got != "email,voice" {
		t.Errorf("expected priority from yaml, got %s", got)
	}
	if !cfg.Channels.Voice.Enabled || cfg.Channels.Voice.MinScore != 70 {
		t.Errorf("unexpected voice policy: %+v", cfg.Channels.Voice.ChannelPolicy)
	}
	if cfg.Channels.Voice.MaxFailureRate != 0.2 {
		t.Errorf("expected maxFailureRate 0.2, got %v", cfg.Channels.Voice.MaxFailureRate)
	}
	if cfg.Channels.Voice.OutcomeMap["completed:fax"] != "failed" {
		t.Errorf("expected outcome map entry, got %v", cfg.Channels.Voice.OutcomeMap)
	}
	if cfg.StopLoss.MaxZeroDays != 10 {
		t.Errorf("expected maxZeroDays 10, got %d", cfg.StopLoss.MaxZeroDays)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(path, []byte(`{"stopLoss":{"maxZeroRuns":3}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUTONOMY_HOME", tmpDir)
	t.Setenv("AUTONOMY_STOPLOSS_MAX_ZERO_RUNS", "9")
	t.Setenv("AUTONOMY_PATHS_DB_PATH", "~/data/leads.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.StopLoss.MaxZeroRuns != 9 {
		t.Errorf("expected env override 9, got %d", cfg.StopLoss.MaxZeroRuns)
	}
	if cfg.Paths.DBPath != filepath.Join(tmpDir, "data", "leads.db") {
		t.Errorf("expected expanded db path, got %s", cfg.Paths.DBPath)
	}
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	tmpDir := t.TempDir()
	a := filepath.Join(tmpDir, "a.json")
	b := filepath.Join(tmpDir, "b.json")
	_ = os.WriteFile(a, []byte(`{"$include":"b.json"}`), 0o600)
	_ = os.WriteFile(b, []byte(`{"$include":"a.json"}`), 0o600)
	t.Setenv("AUTONOMY_HOME", tmpDir)

	if _, err := Load(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}
