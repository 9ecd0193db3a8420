package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"store_audit_backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, poll string) {
	t.Helper()
	body := []byte(fmtConfig(poll))
	require.NoError(t, os.WriteFile(path, body, 0644))
}

func fmtConfig(poll string) string {
	return "database:\n  driver: sqlite\nstorage:\n  type: minio\naudit:\n  poll_interval: " + poll + "\n"
}

func TestWatchConfigReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "30s")

	var mu sync.Mutex
	var got []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, path, func(cfg *config.Config) {
			mu.Lock()
			got = append(got, cfg.Audit.PollInterval)
			mu.Unlock()
		})
	}()

	// 等待 watcher 就绪后再写入
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "5s")
	writeConfig(t, path, "7s")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 7*time.Second, got[0], "debounced to the last write")
	mu.Unlock()

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchConfigMissingDirectory(t *testing.T) {
	err := WatchConfig(context.Background(), filepath.Join(t.TempDir(), "nope", "config.yaml"), func(*config.Config) {})
	assert.Error(t, err)
}
