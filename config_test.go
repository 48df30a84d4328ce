package memorymap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/org.risky-safety.frei0r.memorymap.mq", cfg.QueueName())
	assert.Equal(t, 10, cfg.QueueCapacity)
	assert.Equal(t, time.Second, cfg.AckTimeout)
	assert.Equal(t, 3*time.Second, cfg.ResponseTimeout)
}

func TestValidateRejects(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"empty namespace":  func(c *Config) { c.Namespace = "" },
		"slash":            func(c *Config) { c.Namespace = "a/b" },
		"zero capacity":    func(c *Config) { c.QueueCapacity = 0 },
		"zero ack timeout": func(c *Config) { c.AckTimeout = 0 },
		"negative resp":    func(c *Config) { c.ResponseTimeout = -time.Second },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memorymap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
namespace: com.example.fx
ack_timeout: 250ms
response_timeout: 2s
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "com.example.fx", cfg.Namespace)
	assert.Equal(t, 250*time.Millisecond, cfg.AckTimeout)
	assert.Equal(t, 2*time.Second, cfg.ResponseTimeout)
	assert.Equal(t, 10, cfg.QueueCapacity, "unset fields keep their defaults")
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("queue_capacity: -1\n"), 0644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	garbled := filepath.Join(dir, "garbled.yaml")
	require.NoError(t, os.WriteFile(garbled, []byte("ack_timeout: [\n"), 0644))
	_, err = LoadConfig(garbled)
	assert.Error(t, err)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "timed-out", TimedOut.String())
	assert.True(t, Result{State: Cancelled}.PassThrough())
	assert.False(t, Result{State: Completed}.PassThrough())
}
