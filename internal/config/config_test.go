package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fractal-lba/banditd/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "banditd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Bandit.ContextDimension)
	assert.Equal(t, 4, cfg.Bandit.NumActions)
	assert.Equal(t, []string{"model_routing", "content_analysis", "user_engagement"}, cfg.Bandit.Domains)
	assert.Equal(t, "doubly_robust", cfg.Bandit.DefaultAlgorithm)
	assert.Equal(t, "memory", cfg.Pending.Backend)
	assert.Equal(t, time.Hour, cfg.Pending.TTL)
	assert.Empty(t, cfg.Journal.Dir)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9090
  read_timeout: 3s
bandit:
  num_actions: 6
  domains: [search, ads]
  default_algorithm: offset_tree
  max_tree_depth: 3
pending:
  backend: bolt
  bolt_path: /tmp/pending.db
  ttl: 10m
journal:
  dir: /var/lib/banditd/journal
  replay: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, 6, cfg.Bandit.NumActions)
	assert.Equal(t, []string{"search", "ads"}, cfg.Bandit.Domains)
	assert.Equal(t, "offset_tree", cfg.Bandit.DefaultAlgorithm)
	assert.Equal(t, 3, cfg.Bandit.MaxTreeDepth)
	assert.Equal(t, "bolt", cfg.Pending.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Pending.TTL)
	assert.True(t, cfg.Journal.Replay)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "bandit:\n  num_actions: 6\n")
	t.Setenv("BANDITD_BANDIT_NUM_ACTIONS", "3")
	t.Setenv("BANDITD_BANDIT_DOMAINS", "a, b ,c")
	t.Setenv("BANDITD_LOGGING_LEVEL", "debug")
	t.Setenv("BANDITD_PENDING_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Bandit.NumActions)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Bandit.Domains)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "redis:6379", cfg.Pending.RedisAddr)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"algorithm": "bandit:\n  default_algorithm: epsilon_greedy\n",
		"actions":   "bandit:\n  num_actions: 0\n",
		"backend":   "pending:\n  backend: etcd\n",
		"level":     "logging:\n  level: loud\n",
		"tracing":   "tracing:\n  enabled: true\n  endpoint: \"\"\n",
		"metrics":   "server:\n  metrics_user: admin\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfig_Orchestrator(t *testing.T) {
	cfg := Default()
	cfg.Bandit.DefaultAlgorithm = "offset_tree"
	cfg.Bandit.Seed = 42

	oc := cfg.Orchestrator()
	assert.Equal(t, api.AlgorithmOffsetTree, oc.DefaultAlgorithm)
	assert.Equal(t, uint64(42), oc.Seed)
	assert.Equal(t, cfg.Bandit.Domains, oc.Domains)
}
