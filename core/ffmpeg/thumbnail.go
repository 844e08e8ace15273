package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// ThumbnailOffset returns the sample point for a thumbnail:
// 20% into the file capped at 10 seconds, or second 0 for very short files.
func ThumbnailOffset(duration float64) float64 {
	if duration < 3 {
		return 0
	}
	offset := duration * 0.2
	if offset > 10 {
		offset = 10
	}
	return offset
}

// GenerateThumbnail extracts a single frame at the given offset into a JPEG.
func (p *Processor) GenerateThumbnail(ctx context.Context, inputFile, outputFile string, offset float64) error {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	args := []string{
		"-ss", strconv.FormatFloat(offset, 'f', 2, 64),
		"-i", inputFile,
		"-vframes", "1",
		"-vf", "scale=320:-2",
		"-q:v", "4",
		"-y",
		outputFile,
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg thumbnail failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}
	return nil
}
