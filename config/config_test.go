package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)

	assert.Equal(t, 4, cfg.HLSSegmentTime)
	assert.Equal(t, 10, cfg.HLSWindowSize)
	assert.Equal(t, 20, cfg.ScanBatchSize)
	assert.Equal(t, 5, cfg.StopGraceSec)
	assert.Equal(t, 30, cfg.CleanupDelaySec)
	assert.Equal(t, 60, cfg.AutoStopSec)
	assert.Equal(t, 5, cfg.StatsIntervalSec)
}

func TestLoad_DerivedDirectories(t *testing.T) {
	t.Setenv("STATIC_DIR", "/data/feiliu")

	cfg := Load()

	assert.Equal(t, "/data/feiliu", cfg.StaticDir)
	assert.Equal(t, filepath.Join("/data/feiliu", "streams"), cfg.StreamDir)
	assert.Equal(t, filepath.Join("/data/feiliu", "thumbnails"), cfg.ThumbnailDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("SCAN_BATCH_SIZE", "50")
	t.Setenv("AUTO_STOP_SEC", "120")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, 50, cfg.ScanBatchSize)
	assert.Equal(t, 120, cfg.AutoStopSec)
	assert.True(t, cfg.MinioUseSSL)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("SCAN_BATCH_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, 20, cfg.ScanBatchSize)
}
