package stream

import (
	"context"
	"time"

	"github.com/go-git/go-billy/v5"
)

// SourceKind discriminates what a Source holds.
type SourceKind uint8

const (
	// SourceFile is a path resolved against the configured filesystem.
	SourceFile SourceKind = iota + 1
	// SourceData is an in-memory byte buffer.
	SourceData
)

func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourceData:
		return "data"
	default:
		return "unknown"
	}
}

// Source is the resource a Transfer serves. Exactly one of Path or Data is
// meaningful, depending on Kind.
type Source struct {
	Kind SourceKind
	Path string
	Data []byte
}

// FileSource returns a Source for the file at path.
func FileSource(path string) Source {
	return Source{Kind: SourceFile, Path: path}
}

// DataSource returns a Source serving data from memory.
func DataSource(data []byte) Source {
	return Source{Kind: SourceData, Data: data}
}

// Options represents the configuration of a single Transfer.
type Options struct {
	// DisplayName overrides the name sent in Content-Disposition.
	DisplayName string
	// Resumable honors Range requests. When false, partial requests are
	// served as full content.
	Resumable bool
	// SpeedLimitKBps caps the transfer rate. Zero means unlimited.
	SpeedLimitKBps int
	// ChunkSize is the number of bytes written per iteration when no speed
	// limit is set. Defaults to DefaultChunkSize.
	ChunkSize int
	// SniffContentType detects the MIME type from content when the
	// extension is unknown.
	SniffContentType bool
	// WriteTimeout is re-armed on the response once streaming ends.
	WriteTimeout time.Duration

	Filesystem   billy.Filesystem
	Recorder     Recorder
	TimeProvider TimeProvider
}

// Recorder receives the number of bytes sent once a transfer ends.
type Recorder interface {
	Record(ctx context.Context, bytesSent int64, displayName string) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, bytesSent int64, displayName string) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, bytesSent int64, displayName string) error {
	return f(ctx, bytesSent, displayName)
}

// Verifier checks a username/password pair.
type Verifier interface {
	Verify(username, password string) bool
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(username, password string) bool

// Verify calls f.
func (f VerifierFunc) Verify(username, password string) bool {
	return f(username, password)
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	// Sleep pauses for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Sleep waits on a timer, returning early with ctx.Err() on cancellation.
func (DefaultTimeProvider) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State is the lifecycle position of a Transfer.
type State uint8

const (
	StateConstructed State = iota
	StateAuthChecking
	StateHeadersSent
	StateStreaming
	StateCompleted
	StateAborted
	StateUnauthorized
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateAuthChecking:
		return "auth_checking"
	case StateHeadersSent:
		return "headers_sent"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Result describes how a Stream call ended.
type Result struct {
	State     State
	Status    int
	BytesSent int64
}

// byteRange is an inclusive span of offsets.
type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) size() int64 {
	return r.end - r.start + 1
}
