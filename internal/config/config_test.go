package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8090", cfg.HTTPAddress)
	require.Equal(t, time.Minute, cfg.SyncInterval)
	require.Equal(t, 250*time.Millisecond, cfg.CoalescingWindow)
	require.InDelta(t, 2.0, cfg.Reward.RatePerMinute["running"], 1e-9)
	require.InDelta(t, 0.15, cfg.Reward.RepetitionPenaltyPct, 1e-9)
	require.InDelta(t, 0.02, cfg.Reward.TrustStep, 1e-9)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FITSYNC_HTTP_ADDRESS", ":9999")
	t.Setenv("FITSYNC_BACKOFF_BASE", "5s")
	t.Setenv("FITSYNC_REWARD__TRUST_DEFAULT", "0.9")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":9999", cfg.HTTPAddress)
	require.Equal(t, 5*time.Second, cfg.BackoffBase)
	require.InDelta(t, 0.9, cfg.Reward.TrustDefault, 1e-9)
	// Untouched fields keep their defaults.
	require.Equal(t, "fitsync.db", cfg.DatabasePath)
}

func TestLoadConfigFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"http_address: \":7000\"\n"+
			"backoff_base: 3s\n"+
			"reward:\n"+
			"  daily_high_value_cap: 5\n"), 0o600))
	t.Setenv("FITSYNC_CONFIG", path)
	t.Setenv("FITSYNC_HTTP_ADDRESS", ":7001")

	cfg, err := Load()
	require.NoError(t, err)

	// Env beats file, file beats defaults.
	require.Equal(t, ":7001", cfg.HTTPAddress)
	require.Equal(t, 3*time.Second, cfg.BackoffBase)
	require.Equal(t, 5, cfg.Reward.DailyHighValueCap)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"backoff cap below base", "FITSYNC_BACKOFF_CAP", "1ms"},
		{"penalty of one or more", "FITSYNC_REWARD__REPETITION_PENALTY_PCT", "1.0"},
		{"trust floor above default", "FITSYNC_REWARD__TRUST_FLOOR", "0.95"},
		{"inverted difficulty band", "FITSYNC_REWARD__DIFFICULTY_MAX", "0.1"},
		{"non-positive trust step", "FITSYNC_REWARD__TRUST_STEP", "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
