package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"FeiLiu/model"
)

// Process 一个受监管的编码器子进程
// 编码器的生命周期被建模为离散事件：诊断输出行（Lines）、退出（Done + ExitErr），
// 由上层的会话状态机消费，不与具体并发原语绑定。
type Process interface {
	// Lines streams the encoder's diagnostic output; closed at process exit.
	Lines() <-chan string
	// Done is closed once the process has exited and ExitErr is valid.
	Done() <-chan struct{}
	// ExitErr returns the process exit error, nil on a zero exit.
	ExitErr() error
	// Terminate asks the process to stop gracefully.
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
}

// Encoder spawns encoder processes writing segmented HLS output.
type Encoder interface {
	Start(ctx context.Context, inputFile, outputDir string, profile model.EncodeProfile) (Process, error)
}

// HLSEncoder implements Encoder on top of the ffmpeg binary.
type HLSEncoder struct {
	proc *Processor
}

// NewHLSEncoder creates an HLSEncoder.
func NewHLSEncoder(proc *Processor) *HLSEncoder {
	return &HLSEncoder{proc: proc}
}

// codecArg maps a profile codec name onto the ffmpeg encoder name.
func codecArg(codec string) string {
	switch codec {
	case "h264":
		return "libx264"
	case "aac":
		return "aac"
	default:
		return codec
	}
}

// Start spawns ffmpeg writing playlist.m3u8 plus numbered segments into outputDir.
func (e *HLSEncoder) Start(ctx context.Context, inputFile, outputDir string, profile model.EncodeProfile) (Process, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	segmentPattern := filepath.Join(outputDir, "segment_%03d.ts")
	playlistPath := filepath.Join(outputDir, "playlist.m3u8")

	args := []string{
		"-i", inputFile,
		"-c:v", codecArg(profile.VideoCodec),
		"-c:a", codecArg(profile.AudioCodec),
		"-b:v", fmt.Sprintf("%dk", profile.VideoBitrate),
		"-b:a", fmt.Sprintf("%dk", profile.AudioBitrate),
		"-vf", fmt.Sprintf("scale=%d:%d", profile.Width, profile.Height),
		"-preset", "veryfast",
		"-hls_time", strconv.Itoa(profile.SegmentTime),
		"-hls_list_size", strconv.Itoa(profile.WindowSize),
		"-hls_segment_filename", segmentPattern,
		"-f", "hls",
		playlistPath,
	}

	cmd := exec.CommandContext(ctx, e.proc.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	p := &hlsProcess{
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		// ffmpeg 的进度行以 \r 结尾，不是 \n
		scanner.Split(scanCRorLF)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case p.lines <- line:
			default:
				// 消费方落后时丢弃诊断行，绝不阻塞编码器
			}
		}
		close(p.lines)

		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

// scanCRorLF is a bufio.SplitFunc treating both \r and \n as line endings.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type hlsProcess struct {
	cmd   *exec.Cmd
	lines chan string
	done  chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (p *hlsProcess) Lines() <-chan string {
	return p.lines
}

func (p *hlsProcess) Done() <-chan struct{} {
	return p.done
}

func (p *hlsProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *hlsProcess) Terminate() error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *hlsProcess) Kill() error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Kill()
}
