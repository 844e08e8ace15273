package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Processor wraps the external ffmpeg/ffprobe binaries.
type Processor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewProcessor creates a new Processor.
func NewProcessor(ffmpegPath, ffprobePath string) *Processor {
	return &Processor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// FFmpegPath returns the configured ffmpeg binary path.
func (p *Processor) FFmpegPath() string {
	return p.ffmpegPath
}

// ProbeResult holds the technical metadata extracted from a media file.
type ProbeResult struct {
	Duration   float64
	FormatName string
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
}

// HasVideo reports whether the file contains a decodable video stream.
func (r *ProbeResult) HasVideo() bool {
	return r.VideoCodec != ""
}

// Probe extracts container and stream level metadata via ffprobe.
func (p *Processor) Probe(ctx context.Context, inputFile string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=format_name,duration:stream=codec_type,codec_name,width,height",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}

	var probeData struct {
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}

	result := &ProbeResult{FormatName: probeData.Format.FormatName}
	if probeData.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil {
			result.Duration = d
		}
	}

	for _, stream := range probeData.Streams {
		switch stream.CodecType {
		case "video":
			// 只取第一条视频流
			if result.VideoCodec == "" {
				result.VideoCodec = stream.CodecName
				result.Width = stream.Width
				result.Height = stream.Height
			}
		case "audio":
			if result.AudioCodec == "" {
				result.AudioCodec = stream.CodecName
			}
		}
	}

	if result.VideoCodec == "" && result.AudioCodec == "" {
		return nil, fmt.Errorf("no decodable streams found in %s", inputFile)
	}
	return result, nil
}
