package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// writeScript writes an executable shell script standing in for ffmpeg.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700)) // #nosec G306 - test fixture must be executable
	return path
}

// fakeEncoderScript answers -version, records its arguments and writes the
// last argument as the output file.
const fakeEncoderScript = `
if [ "$1" = "-version" ]; then
  echo "ffmpeg version 9.9-fake Copyright (c) the authors"
  exit 0
fi
echo "$@" > "$(dirname "$0")/args.txt"
for last; do :; done
printf 'frame=   10 fps=0.0 q=28.0 size=       0kB time=00:00:05.00 bitrate=N/A\r' >&2
printf 'frame=   20 fps=0.0 q=28.0 size=       1kB time=00:00:20.00 bitrate=N/A\n' >&2
printf 'fake-mp4' > "$last"
`

func createInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portrait.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))
	return path
}

func TestProbe_ConfiguredPath(t *testing.T) {
	script := writeScript(t, fakeEncoderScript)

	avail := Probe(context.Background(), script)
	assert.True(t, avail.Available)
	assert.Equal(t, script, avail.Path)
	assert.Equal(t, "ffmpeg version 9.9-fake Copyright (c) the authors", avail.Version)
	assert.Empty(t, avail.Reason)
}

func TestProbe_FallsBackToSearchPath(t *testing.T) {
	script := writeScript(t, fakeEncoderScript)

	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func(file string) (string, error) {
		assert.Equal(t, "ffmpeg", file)
		return script, nil
	}

	avail := Probe(context.Background(), "/definitely/not/here/ffmpeg")
	assert.True(t, avail.Available)
	assert.Equal(t, script, avail.Path)
}

func TestProbe_NotFound(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	avail := Probe(context.Background(), "/definitely/not/here/ffmpeg")
	assert.False(t, avail.Available)
	assert.Contains(t, avail.Reason, "ffmpeg not found")
	assert.Contains(t, avail.Reason, "/definitely/not/here/ffmpeg")
}

func TestProbe_VersionFails(t *testing.T) {
	script := writeScript(t, "echo broken >&2\nexit 3\n")

	avail := Probe(context.Background(), script)
	assert.False(t, avail.Available)
	assert.Equal(t, script, avail.Path)
	assert.Contains(t, avail.Reason, "version probe failed")
}

func TestProbe_NonExecutableConfiguredPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	assert.False(t, Probe(context.Background(), path).Available)
}

func TestEncode_Unavailable(t *testing.T) {
	enc := NewFFmpegEncoder(Unavailable("ffmpeg not found"), testLogger())

	err := enc.Encode(context.Background(), NewEncodeJob("in.png", "out.mp4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncoderUnavailable)

	ee, ok := AsEncodeError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnavailable, ee.Kind)
	assert.False(t, ee.Available)
	assert.Contains(t, err.Error(), "ffmpeg not found")
}

func TestEncode_InputMissing(t *testing.T) {
	script := writeScript(t, fakeEncoderScript)
	enc := NewFFmpegEncoder(Availability{Available: true, Path: script}, testLogger())

	err := enc.Encode(context.Background(), NewEncodeJob(filepath.Join(t.TempDir(), "missing.png"), "out.mp4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputMissing)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, errors.Is(err, ErrEncoderUnavailable))

	ee, _ := AsEncodeError(err)
	assert.True(t, ee.Available)
}

func TestEncode_Success(t *testing.T) {
	script := writeScript(t, fakeEncoderScript)
	enc := NewFFmpegEncoder(Availability{Available: true, Path: script}, testLogger())

	input := createInput(t)
	output := filepath.Join(t.TempDir(), "video.mp4")

	require.NoError(t, enc.Encode(context.Background(), NewEncodeJob(input, output)))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "fake-mp4", string(data))

	args, err := os.ReadFile(filepath.Join(filepath.Dir(script), "args.txt"))
	require.NoError(t, err)
	want := fmt.Sprintf("-y -hide_banner -loop 1 -framerate 1 -i %s -t 20 -c:v libx264 -preset medium -crf 23 -pix_fmt yuv420p -movflags +faststart %s", input, output)
	assert.Equal(t, want, strings.TrimSpace(string(args)))
}

func TestEncode_ProcessFails(t *testing.T) {
	script := writeScript(t, "echo 'Unknown encoder libx264' >&2\nexit 1\n")
	enc := NewFFmpegEncoder(Availability{Available: true, Path: script}, testLogger())

	err := enc.Encode(context.Background(), NewEncodeJob(createInput(t), filepath.Join(t.TempDir(), "out.mp4")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncodeFailed)

	var ffErr *FFmpegError
	require.True(t, errors.As(err, &ffErr))
	assert.Contains(t, ffErr.Stderr, "Unknown encoder libx264")
}

func TestEncode_CleanExitWithoutOutput(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	enc := NewFFmpegEncoder(Availability{Available: true, Path: script}, testLogger())

	err := enc.Encode(context.Background(), NewEncodeJob(createInput(t), filepath.Join(t.TempDir(), "out.mp4")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutputMissing)
}

func TestEncode_ZeroJobUsesDefaults(t *testing.T) {
	script := writeScript(t, fakeEncoderScript)
	enc := NewFFmpegEncoder(Availability{Available: true, Path: script}, testLogger())

	job := EncodeJob{InputPath: createInput(t), OutputPath: filepath.Join(t.TempDir(), "v.mp4")}
	require.NoError(t, enc.Encode(context.Background(), job))

	args, err := os.ReadFile(filepath.Join(filepath.Dir(script), "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "-framerate 1 ")
	assert.Contains(t, string(args), "-t 20 ")
}

func TestScanProgressLines(t *testing.T) {
	enc := NewFFmpegEncoder(Availability{}, testLogger())
	tail := enc.consumeStderr(strings.NewReader("a\rb\n\nc"))
	assert.Equal(t, []string{"a", "b", "c"}, tail)
}

func TestConsumeStderr_KeepsTail(t *testing.T) {
	enc := NewFFmpegEncoder(Availability{}, testLogger())

	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	tail := enc.consumeStderr(strings.NewReader(b.String()))
	require.Len(t, tail, stderrTailLines)
	assert.Equal(t, "line 30", tail[0])
	assert.Equal(t, "line 49", tail[len(tail)-1])
}

func TestConsumeStderr_LongLine(t *testing.T) {
	enc := NewFFmpegEncoder(Availability{}, testLogger())
	long := strings.Repeat("x", 200*1024)

	tail := enc.consumeStderr(strings.NewReader("start\n" + long + "\nend\n"))
	require.Len(t, tail, 3)
	assert.Equal(t, long, tail[1])
	assert.Equal(t, "end", tail[2])
}

func TestConsumeStderr_DrainsPastOversizedLine(t *testing.T) {
	enc := NewFFmpegEncoder(Availability{}, testLogger())
	r := strings.NewReader("start\n" + strings.Repeat("x", maxStderrLine+1) + "\n" + strings.Repeat("more output\n", 1000))

	tail := enc.consumeStderr(r)
	assert.Equal(t, []string{"start"}, tail)
	assert.Zero(t, r.Len())
}

func TestProgressTime(t *testing.T) {
	got, ok := progressTime("frame=  20 fps=0.0 time=00:00:20.00 bitrate=N/A")
	assert.True(t, ok)
	assert.Equal(t, "00:00:20.00", got)

	_, ok = progressTime("Input #0, png_pipe")
	assert.False(t, ok)
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{Args: []string{"-y"}, Stderr: "boom", Err: errors.New("exit status 1")}
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "exit status 1")
	assert.EqualError(t, errors.Unwrap(err), "exit status 1")
}

func TestEncode_RealFFmpeg(t *testing.T) {
	skipIfNoFFmpeg(t)

	avail := Probe(context.Background(), "")
	require.True(t, avail.Available, avail.Reason)

	tmpDir := t.TempDir()
	input := filepath.Join(tmpDir, "frame.png")
	cmd := exec.Command("ffmpeg", "-y", "-f", "lavfi", "-i", "color=c=red:s=64x118:d=1", "-frames:v", "1", input)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test image: %v\noutput: %s", err, output)
	}

	output := filepath.Join(tmpDir, "clip.mp4")
	enc := NewFFmpegEncoder(avail, testLogger())
	if err := enc.Encode(context.Background(), NewEncodeJob(input, output)); err != nil {
		if errors.Is(err, ErrEncodeFailed) && strings.Contains(err.Error(), "libx264") {
			t.Skip("ffmpeg built without libx264")
		}
		t.Fatalf("Encode failed: %v", err)
	}

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestAvailabilityErr(t *testing.T) {
	assert.NoError(t, Availability{Available: true}.Err())

	err := Unavailable("no binary").Err()
	assert.ErrorIs(t, err, ErrEncoderUnavailable)
	assert.Contains(t, err.Error(), "no binary")
}
