// Package media turns rendered stills into video using an external encoder.
package media

import (
	"context"
	"errors"
	"fmt"
)

// Fixed encode parameters for post clips.
const (
	// ClipDurationSec is the length of every generated clip.
	ClipDurationSec = 20
	// InputFramerate is the rate at which the single input frame is looped.
	InputFramerate = 1
)

// EncodeJob describes one still-to-video encode.
type EncodeJob struct {
	InputPath      string
	OutputPath     string
	DurationSec    int
	InputFramerate int
}

// NewEncodeJob returns a job with the fixed clip parameters.
func NewEncodeJob(input, output string) EncodeJob {
	return EncodeJob{
		InputPath:      input,
		OutputPath:     output,
		DurationSec:    ClipDurationSec,
		InputFramerate: InputFramerate,
	}
}

// Encoder turns a still image into a video file.
type Encoder interface {
	// Available reports whether encoding can be attempted at all.
	Available() Availability
	// Encode runs the job. Failures are *EncodeError values.
	Encode(ctx context.Context, job EncodeJob) error
}

// Static errors for encoding, matched with errors.Is through EncodeError.
var (
	// ErrEncoderUnavailable means no usable encoder was found at startup.
	ErrEncoderUnavailable = errors.New("video encoder unavailable")
	// ErrInputMissing means the still image does not exist.
	ErrInputMissing = errors.New("encode input missing")
	// ErrEncodeFailed means the encoder process exited with an error.
	ErrEncodeFailed = errors.New("video encode failed")
	// ErrOutputMissing means the encoder exited cleanly but left no file.
	ErrOutputMissing = errors.New("encode produced no output")
)

// ErrorKind classifies an EncodeError.
type ErrorKind string

const (
	KindUnavailable   ErrorKind = "encoder_unavailable"
	KindInputMissing  ErrorKind = "input_missing"
	KindFailed        ErrorKind = "encode_failed"
	KindOutputMissing ErrorKind = "output_missing"
)

var kindSentinels = map[ErrorKind]error{
	KindUnavailable:   ErrEncoderUnavailable,
	KindInputMissing:  ErrInputMissing,
	KindFailed:        ErrEncodeFailed,
	KindOutputMissing: ErrOutputMissing,
}

// EncodeError is the structured failure returned by Encode.
type EncodeError struct {
	Kind ErrorKind
	// Available mirrors the encoder availability at the time of the call.
	Available bool
	Detail    string
	Err       error
}

func (e *EncodeError) Error() string {
	msg := kindSentinels[e.Kind].Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel for the error kind.
func (e *EncodeError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

func newEncodeError(kind ErrorKind, available bool, detail string, err error) *EncodeError {
	return &EncodeError{Kind: kind, Available: available, Detail: detail, Err: err}
}

// AsEncodeError extracts an *EncodeError from err.
func AsEncodeError(err error) (*EncodeError, bool) {
	var ee *EncodeError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// String returns a short description of the job for logs.
func (j EncodeJob) String() string {
	return fmt.Sprintf("%s -> %s (%ds @ %dfps)", j.InputPath, j.OutputPath, j.DurationSec, j.InputFramerate)
}
