package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultBinary = "ffmpeg"
	probeTimeout  = 10 * time.Second
)

// Availability is the result of probing for an encoder binary. It is
// computed once at startup and handed to the encoder.
type Availability struct {
	Available bool
	Path      string
	Version   string
	// Reason explains why the encoder is unavailable.
	Reason string
}

// Unavailable returns an Availability that rejects every encode.
func Unavailable(reason string) Availability {
	return Availability{Reason: reason}
}

// Err returns the error an encode reports when no encoder was found, or nil.
func (a Availability) Err() error {
	if a.Available {
		return nil
	}
	return newEncodeError(KindUnavailable, false, a.Reason, nil)
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// Probe locates the ffmpeg binary and checks that it answers -version.
// configuredPath is tried first; the executable search path is the
// fallback.
func Probe(ctx context.Context, configuredPath string) Availability {
	path, err := resolveBinary(configuredPath)
	if err != nil {
		return Unavailable(err.Error())
	}

	version, err := probeVersion(ctx, path)
	if err != nil {
		return Availability{Path: path, Reason: err.Error()}
	}

	return Availability{Available: true, Path: path, Version: version}
}

func resolveBinary(configuredPath string) (string, error) {
	var tried []string
	if configuredPath != "" {
		if isExecutable(configuredPath) {
			return configuredPath, nil
		}
		tried = append(tried, configuredPath)
	}

	path, err := lookPath(defaultBinary)
	if err == nil {
		return path, nil
	}
	tried = append(tried, "$PATH")

	return "", fmt.Errorf("ffmpeg not found (tried %s): %w", strings.Join(tried, ", "), err)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// probeVersion runs "<path> -version" and returns the first output line.
func probeVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	// #nosec G204 - path comes from configuration or PATH lookup
	cmd := exec.CommandContext(ctx, path, "-version")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffmpeg version probe timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("ffmpeg version probe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	line, _, _ := bufio.NewReader(&stdout).ReadLine()
	version := strings.TrimSpace(string(line))
	if version == "" {
		return "", errors.New("ffmpeg version probe returned no output")
	}
	return version, nil
}
