package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory with private XDG dirs so no
// stray parsecup.yaml is discovered.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	SetConfigFile("")
	t.Cleanup(func() { SetConfigFile("") })
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1", cfg.Launch.IP)
		assert.Equal(t, 8888, cfg.Launch.Port)
		assert.Equal(t, "WARN", cfg.Launch.LogLevel)
		assert.Equal(t, "evm", cfg.Launch.RunnerType)
		assert.Equal(t, 1, cfg.Launch.NumAgents)
		assert.Equal(t, 1, cfg.Launch.ReplFactor)
		assert.False(t, cfg.Launch.KillPIDs)

		assert.Equal(t, "logs_parsec", cfg.LogDir)
		assert.Equal(t, "logs_parsec_archived", cfg.ArchivePrefix)
		assert.Equal(t, filepath.Join(os.Getenv("XDG_DATA_HOME"), "parsecup"), cfg.StateDir)
		assert.Equal(t, "./build/src/parsec", cfg.BinDir)
		assert.Equal(t, time.Second, cfg.SettleDelay)
		assert.Equal(t, "warn", cfg.Preflight)

		assert.Equal(t, 60*time.Second, cfg.Readiness.Timeout)
		assert.Equal(t, time.Second, cfg.Readiness.Interval)
		assert.Equal(t, time.Second, cfg.Readiness.DialTimeout)
		assert.Len(t, cfg.Discovery.Patterns, 3)
		assert.True(t, cfg.Metrics.Enabled)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx, map[string]any{
			"port":            9000,
			"log_level":       "DEBUG",
			"readiness":       map[string]any{"timeout": "5s"},
			"metrics.enabled": false,
		})
		require.NoError(t, err)

		assert.Equal(t, 9000, cfg.Launch.Port)
		assert.Equal(t, "DEBUG", cfg.Launch.LogLevel)
		assert.Equal(t, 5*time.Second, cfg.Readiness.Timeout)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, time.Second, cfg.Readiness.Interval)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("PARSECUP_PORT", "3000")
		t.Setenv("PARSECUP_LOG_LEVEL", "ERROR")
		t.Setenv("PARSECUP_METRICS_ENABLED", "false")
		t.Setenv("PARSECUP_READINESS_TIMEOUT", "90s")
		t.Setenv("PARSECUP_DISCOVERY_PATTERNS", "**/a,**/b")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Launch.Port)
		assert.Equal(t, "ERROR", cfg.Launch.LogLevel)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 90*time.Second, cfg.Readiness.Timeout)
		assert.Equal(t, []string{"**/a", "**/b"}, cfg.Discovery.Patterns)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("PARSECUP_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{"port": 5000})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Launch.Port)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
runner_type: lua
num_shards: 4
readiness:
  timeout: 2m
discovery:
  patterns: ["**/x"]
`), 0644))
		SetConfigFile(path)
		t.Setenv("PARSECUP_NUM_SHARDS", "8")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "lua", cfg.Launch.RunnerType)
		assert.Equal(t, 8, cfg.Launch.NumShards, "env beats file")
		assert.Equal(t, 2*time.Minute, cfg.Readiness.Timeout)
		assert.Equal(t, []string{"**/x"}, cfg.Discovery.Patterns)
	})

	t.Run("DiscoveredConfigFile", func(t *testing.T) {
		isolate(t)
		require.NoError(t, os.WriteFile("parsecup.yaml", []byte("log_dir: other_logs\n"), 0644))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "other_logs", cfg.LogDir)
	})

	t.Run("XDGConfigFileBeatsWorkingDir", func(t *testing.T) {
		isolate(t)
		dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "parsecup")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_dir: user_logs\n"), 0644))
		require.NoError(t, os.WriteFile("parsecup.yaml", []byte("log_dir: cwd_logs\n"), 0644))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "user_logs", cfg.LogDir)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load(ctx)
		assert.Error(t, err)
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		isolate(t)
		t.Setenv("PARSECUP_SETTLE_DELAY", "soon")
		_, err := Load(ctx)
		assert.Error(t, err)
	})

	t.Run("NegativeTimeout", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{"readiness.timeout": "-1s"})
		assert.ErrorContains(t, err, "readiness.timeout")
	})
}

func TestLoad_StateDirIgnoresWorkingDir(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	first, err := Load(ctx)
	require.NoError(t, err)

	t.Chdir(t.TempDir())
	second, err := Load(ctx)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(first.StateDir))
	assert.Equal(t, first.StateDir, second.StateDir)
}

func TestLoad_KillPIDsIsFlagOnly(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T)
		overrides map[string]any
	}{
		{
			name:  "Env",
			setup: func(t *testing.T) { t.Setenv("PARSECUP_KILL_PIDS", "true") },
		},
		{
			name: "File",
			setup: func(t *testing.T) {
				require.NoError(t, os.WriteFile("parsecup.yaml", []byte("kill_pids: true\n"), 0644))
			},
		},
		{
			name:      "Override",
			setup:     func(t *testing.T) {},
			overrides: map[string]any{"kill_pids": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			tt.setup(t)

			cfg, err := Load(context.Background(), tt.overrides)
			require.NoError(t, err)
			assert.False(t, cfg.Launch.KillPIDs)
		})
	}
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), map[string]any{"port": 9100})
	require.NoError(t, err)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, cfg.Launch.Port, current.Launch.Port)
}

func TestEnvSpecs(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]string, len(specs))
	for _, spec := range specs {
		assert.Contains(t, spec.Name, "PARSECUP_")
		assert.NotEmpty(t, spec.Path)
		names[spec.Name] = spec.Path
	}

	assert.Equal(t, "log_level", names["PARSECUP_LOG_LEVEL"])
	assert.Equal(t, "readiness.timeout", names["PARSECUP_READINESS_TIMEOUT"])
	assert.NotContains(t, names, "PARSECUP_KILL_PIDS")
	assert.Equal(t, "state_dir", names["PARSECUP_STATE_DIR"])
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
