package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const (
	// stderrTailLines is how much encoder output is kept for error reports.
	stderrTailLines = 20
	// maxStderrLine bounds one scanned stderr line.
	maxStderrLine = 1 << 20
)

// FFmpegEncoder implements Encoder using the ffmpeg CLI.
type FFmpegEncoder struct {
	availability Availability
	logger       *slog.Logger
}

var _ Encoder = (*FFmpegEncoder)(nil)

// NewFFmpegEncoder creates an encoder bound to a previously probed binary.
func NewFFmpegEncoder(availability Availability, logger *slog.Logger) *FFmpegEncoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegEncoder{availability: availability, logger: logger}
}

// Available returns the availability the encoder was created with.
func (e *FFmpegEncoder) Available() Availability {
	return e.availability
}

// Encode loops the still image at job.InputPath into an H.264 clip at
// job.OutputPath. It fails fast when the encoder is unavailable or the
// input is missing, and treats a clean exit without an output file as a
// failure.
func (e *FFmpegEncoder) Encode(ctx context.Context, job EncodeJob) error {
	if err := e.availability.Err(); err != nil {
		return err
	}

	if job.DurationSec <= 0 {
		job.DurationSec = ClipDurationSec
	}
	if job.InputFramerate <= 0 {
		job.InputFramerate = InputFramerate
	}

	if _, err := os.Stat(job.InputPath); err != nil {
		return newEncodeError(KindInputMissing, true, job.InputPath, err)
	}

	e.logger.Info("encoding video", slog.String("job", job.String()))

	if err := e.runFFmpeg(ctx, encodeArgs(job)); err != nil {
		return newEncodeError(KindFailed, true, "", err)
	}

	info, err := os.Stat(job.OutputPath)
	if err != nil {
		return newEncodeError(KindOutputMissing, true, job.OutputPath, err)
	}

	e.logger.Info("video encoded",
		slog.String("output", job.OutputPath),
		slog.Int64("bytes", info.Size()),
	)
	return nil
}

// encodeArgs builds the ffmpeg command line for a still-image clip.
func encodeArgs(job EncodeJob) []string {
	return []string{
		"-y",           // Overwrite output file without asking
		"-hide_banner", // Keep stderr to progress and errors
		"-loop", "1", // Loop the single input frame
		"-framerate", strconv.Itoa(job.InputFramerate), // Input frame rate
		"-i", job.InputPath, // Input image
		"-t", strconv.Itoa(job.DurationSec), // Output duration in seconds
		"-c:v", "libx264", // Video codec
		"-preset", "medium", // Encoding speed preset
		"-crf", "23", // Constant rate factor
		"-pix_fmt", "yuv420p", // Pixel format for player compatibility
		"-movflags", "+faststart", // Move moov atom to the front for streaming
		job.OutputPath,
	}
}

// runFFmpeg executes ffmpeg, logging progress lines as they arrive, and
// returns an *FFmpegError with the tail of stderr if the command fails.
func (e *FFmpegEncoder) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - binary path is resolved at startup, not user input
	cmd := exec.CommandContext(ctx, e.availability.Path, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attach stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return &FFmpegError{Args: args, Err: err}
	}

	tail := e.consumeStderr(stderr)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: strings.Join(tail, "\n"),
			Err:    err,
		}
	}
	return nil
}

// consumeStderr drains r, logging progress and returning the last lines.
func (e *FFmpegEncoder) consumeStderr(r io.Reader) []string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLine)
	scanner.Split(scanProgressLines)

	tail := make([]string, 0, stderrTailLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if t, ok := progressTime(line); ok {
			e.logger.Debug("ffmpeg progress", slog.String("time", t))
		}
		if len(tail) == stderrTailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)
	}

	// A blocked pipe would stall ffmpeg, so keep reading after a scan error.
	if err := scanner.Err(); err != nil {
		e.logger.Debug("ffmpeg stderr not scanned", slog.String("error", err.Error()))
		_, _ = io.Copy(io.Discard, r)
	}
	return tail
}

// scanProgressLines splits on '\n' and '\r'; ffmpeg rewrites its progress
// line with carriage returns.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
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

// progressTime extracts the "time=" field of an ffmpeg progress line.
func progressTime(line string) (string, bool) {
	idx := strings.Index(line, "time=")
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len("time="):]
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	return rest, rest != ""
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
