// Package stream serves a file or an in-memory buffer over HTTP, honoring
// single byte-range requests.
//
// A Transfer is built once per request, streamed once and discarded:
//
//	t, err := stream.NewTransfer(r, stream.FileSource("report.pdf"), stream.Options{Resumable: true})
//	if err != nil {
//	    stream.WriteError(w, err)
//	    return
//	}
//	result, err := t.Stream(w)
//
// Output is written in chunks and flushed after each one, optionally paced
// to a speed limit. A client disconnect ends the loop at the next chunk.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyStreamed is returned when Stream is called on a used Transfer.
var ErrAlreadyStreamed = errors.New("transfer already streamed")

const sniffLen = 512

// Transfer is a single download of a Source in response to one request.
type Transfer struct {
	ID string

	source Source
	file   billy.File
	req    *http.Request
	opts   Options
	clock  TimeProvider

	totalSize    int64
	rng          byteRange
	partial      bool
	ext          string
	mimeType     string
	displayName  string
	lastModified time.Time

	verifier  Verifier
	state     State
	bytesSent int64
}

// NewTransfer resolves src, derives its name and MIME type and parses the
// Range header of r. A file source is opened here and closed when Stream
// returns, or by Close. Without opts.Filesystem, file paths are resolved
// against the working directory of the process.
func NewTransfer(r *http.Request, src Source, opts Options) (*Transfer, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = DefaultTimeProvider{}
	}
	if opts.Filesystem == nil {
		opts.Filesystem = osfs.New("/")
		if src.Kind == SourceFile {
			if abs, err := filepath.Abs(src.Path); err == nil {
				src.Path = abs
			}
		}
	}

	t := &Transfer{
		ID:     uuid.NewString(),
		source: src,
		req:    r,
		opts:   opts,
		clock:  opts.TimeProvider,
		state:  StateConstructed,
	}

	var name string
	switch src.Kind {
	case SourceFile:
		if err := t.openFile(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "NewTransfer",
				"transfer_id": t.ID,
				"path":        src.Path,
				"error":       err.Error(),
			}).Error("Failed to open file source")
			return nil, err
		}
		name = filepath.Base(src.Path)
	case SourceData:
		t.totalSize = int64(len(src.Data))
		t.lastModified = t.clock.Now()
		name = DefaultDataName
	default:
		return nil, NewHTTPError(ErrBadRequest, fmt.Sprintf("unknown source kind %d", src.Kind))
	}

	t.displayName = name
	t.ext = extensionOf(name)
	t.mimeType = mimeByExtension(t.ext)
	if opts.DisplayName != "" {
		t.SetDownloadName(opts.DisplayName)
	}
	if t.mimeType == OctetStream && opts.SniffContentType {
		t.mimeType = sniffMIME(t.head())
	}

	requested, present, err := parseRangeHeader(r.Header.Get("Range"))
	if err != nil {
		t.Close()
		logrus.WithFields(logrus.Fields{
			"function":    "NewTransfer",
			"transfer_id": t.ID,
			"range":       r.Header.Get("Range"),
		}).Warn("Rejected malformed Range header")
		return nil, err
	}
	t.partial = present
	if present {
		t.rng = clampRange(requested, t.totalSize)
	} else {
		t.rng = byteRange{start: 0, end: t.totalSize - 1}
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewTransfer",
		"transfer_id":  t.ID,
		"source_kind":  src.Kind,
		"display_name": t.displayName,
		"mime_type":    t.mimeType,
		"total_size":   t.totalSize,
		"range_start":  t.rng.start,
		"range_end":    t.rng.end,
		"partial":      t.partial,
	}).Debug("Transfer constructed")

	return t, nil
}

func (t *Transfer) openFile() error {
	fs := t.opts.Filesystem
	path := t.source.Path

	name := filepath.Base(path)

	info, err := fs.Stat(path)
	switch {
	case os.IsNotExist(err):
		return NewHTTPError(ErrNotFound, name)
	case err != nil:
		return NewHTTPError(ErrForbidden, name)
	case info.IsDir():
		return NewHTTPError(ErrNotFound, name)
	}

	f, err := fs.Open(path)
	if err != nil {
		return NewHTTPError(ErrForbidden, name)
	}

	t.file = f
	t.totalSize = info.Size()
	t.lastModified = info.ModTime()
	return nil
}

// head returns the leading bytes of the source for content sniffing.
func (t *Transfer) head() []byte {
	if t.source.Kind == SourceData {
		return t.source.Data[:min(int64(len(t.source.Data)), sniffLen)]
	}

	buf := make([]byte, min(t.totalSize, sniffLen))
	n, err := t.file.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		logrus.WithFields(logrus.Fields{
			"function":    "head",
			"transfer_id": t.ID,
			"read":        n,
			"error":       err.Error(),
		}).Debug("Failed to read content for sniffing")
	}
	return buf[:n]
}

// SetDownloadName overrides the name sent to the client. For data sources
// an extension in name also replaces the stored extension and MIME type;
// file sources keep the type detected from their path.
func (t *Transfer) SetDownloadName(name string) {
	t.displayName = name
	if t.source.Kind != SourceData {
		return
	}
	if ext := extensionOf(name); ext != "" {
		t.ext = ext
		t.mimeType = mimeByExtension(ext)
	}
}

// DisplayName returns the name sent in Content-Disposition.
func (t *Transfer) DisplayName() string { return t.displayName }

// MIMEType returns the Content-Type that will be sent.
func (t *Transfer) MIMEType() string { return t.mimeType }

// Extension returns the stored extension, without the dot.
func (t *Transfer) Extension() string { return t.ext }

// TotalSize returns the size of the source in bytes.
func (t *Transfer) TotalSize() int64 { return t.totalSize }

// Range returns the inclusive offsets that will be served.
func (t *Transfer) Range() (start, end int64) { return t.rng.start, t.rng.end }

// Partial reports whether the request carried a Range header.
func (t *Transfer) Partial() bool { return t.partial }

// State returns the lifecycle state of the transfer.
func (t *Transfer) State() State { return t.state }

// BytesSent returns the number of bytes written so far.
func (t *Transfer) BytesSent() int64 { return t.bytesSent }

// Close releases the file source. It is safe to call more than once.
func (t *Transfer) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// ForceDownload streams the source as application/octet-stream so that
// browsers prompt to save it.
func (t *Transfer) ForceDownload(w http.ResponseWriter) (Result, error) {
	t.mimeType = OctetStream
	return t.Stream(w)
}

// Stream checks credentials if required, writes the response headers and
// streams the selected range to w. A client that fails authentication gets
// a 401 and a Result in StateUnauthorized with a nil error. HEAD requests
// receive the headers only.
func (t *Transfer) Stream(w http.ResponseWriter) (Result, error) {
	if t.state != StateConstructed {
		return Result{State: t.state}, ErrAlreadyStreamed
	}
	defer t.closeSource()

	ctx := t.req.Context()
	log := logrus.WithFields(logrus.Fields{
		"function":     "Stream",
		"transfer_id":  t.ID,
		"display_name": t.displayName,
	})

	if t.verifier != nil {
		t.state = StateAuthChecking
		username, password, ok := t.req.BasicAuth()
		if !ok || !t.verifier.Verify(username, password) {
			t.state = StateUnauthorized
			Challenge(w)
			log.WithField("credentials_present", ok).Info("Rejected unauthenticated download")
			return Result{State: StateUnauthorized, Status: http.StatusUnauthorized}, nil
		}
	}

	release := t.suspendWriteDeadline(w)
	defer release()

	status := t.writeHeaders(w)
	t.state = StateHeadersSent
	if t.req.Method == http.MethodHead {
		t.state = StateCompleted
		return Result{State: t.state, Status: status}, nil
	}

	chunkSize := t.opts.ChunkSize
	var pause time.Duration
	if t.opts.SpeedLimitKBps > 0 {
		chunkSize, pause = throttle(t.opts.SpeedLimitKBps)
		log.WithFields(logrus.Fields{
			"speed_limit_kbps": t.opts.SpeedLimitKBps,
			"chunk_size":       chunkSize,
			"pause":            pause,
		}).Debug("Throttling transfer")
	}

	log.WithFields(logrus.Fields{
		"status":      status,
		"range_start": t.rng.start,
		"range_end":   t.rng.end,
		"total_size":  t.totalSize,
	}).Info("Starting transfer")

	streamErr := t.copyRange(ctx, w, chunkSize, pause)
	if t.bytesSent == t.rng.size() {
		t.state = StateCompleted
	} else {
		t.state = StateAborted
	}
	t.closeSource()
	t.record(ctx)

	log.WithFields(logrus.Fields{
		"state":      t.state,
		"bytes_sent": t.bytesSent,
	}).Info("Transfer finished")

	return Result{State: t.state, Status: status, BytesSent: t.bytesSent}, streamErr
}

// writeHeaders emits the status line and headers and returns the status.
func (t *Transfer) writeHeaders(w http.ResponseWriter) int {
	h := w.Header()
	status := http.StatusOK
	if t.opts.Resumable {
		h.Set("Accept-Ranges", "bytes")
	}

	if t.partial {
		if t.opts.Resumable && t.totalSize > 0 {
			status = http.StatusPartialContent
			h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", t.rng.start, t.rng.end, t.totalSize))
		} else {
			t.rng = byteRange{start: 0, end: t.totalSize - 1}
			logrus.WithFields(logrus.Fields{
				"function":    "writeHeaders",
				"transfer_id": t.ID,
			}).Debug("Serving partial request as full content")
		}
	}

	h.Set("Content-Type", t.mimeType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": t.displayName}))
	h.Set("Content-Length", strconv.FormatInt(t.rng.size(), 10))
	h.Set("Last-Modified", t.lastModified.UTC().Format(http.TimeFormat))
	w.WriteHeader(status)

	return status
}

// copyRange writes the selected range in chunks, flushing after each one.
// It stops early when ctx is done or a write fails; neither is reported as
// an error since both mean the client went away.
func (t *Transfer) copyRange(ctx context.Context, w http.ResponseWriter, chunkSize int, pause time.Duration) error {
	var src io.ReadSeeker
	if t.file != nil {
		src = t.file
	} else {
		src = bytes.NewReader(t.source.Data)
	}
	if _, err := src.Seek(t.rng.start, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", t.rng.start, err)
	}

	rc := http.NewResponseController(w)
	buf := make([]byte, chunkSize)
	remaining := t.rng.size()
	t.state = StateStreaming

	for remaining > 0 && ctx.Err() == nil {
		n, readErr := io.ReadFull(src, buf[:min(remaining, int64(chunkSize))])
		if n > 0 {
			written, err := w.Write(buf[:n])
			t.bytesSent += int64(written)
			remaining -= int64(written)
			if err != nil {
				return nil
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return nil
			}
		}
		if readErr != nil {
			return fmt.Errorf("read source at %d: %w", t.rng.start+t.bytesSent, readErr)
		}

		if pause > 0 && remaining > 0 {
			if err := t.clock.Sleep(ctx, pause); err != nil {
				return nil
			}
		}
	}

	return nil
}

// suspendWriteDeadline lifts the response write deadline for the duration
// of the stream. The returned func re-arms it from opts.WriteTimeout.
func (t *Transfer) suspendWriteDeadline(w http.ResponseWriter) func() {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		return func() {}
	}

	return func() {
		if t.opts.WriteTimeout <= 0 {
			return
		}
		if err := rc.SetWriteDeadline(t.clock.Now().Add(t.opts.WriteTimeout)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "suspendWriteDeadline",
				"transfer_id": t.ID,
				"error":       err.Error(),
			}).Debug("Failed to restore write deadline")
		}
	}
}

func (t *Transfer) closeSource() {
	if err := t.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "closeSource",
			"transfer_id": t.ID,
			"error":       err.Error(),
		}).Warn("Failed to close file source")
	}
}

// record reports bytesSent to the configured Recorder. The request context
// may already be cancelled, so recording is detached from it.
func (t *Transfer) record(ctx context.Context) {
	if t.opts.Recorder == nil {
		return
	}
	if err := t.opts.Recorder.Record(context.WithoutCancel(ctx), t.bytesSent, t.displayName); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "record",
			"transfer_id": t.ID,
			"bytes_sent":  t.bytesSent,
			"error":       err.Error(),
		}).Warn("Failed to record transfer")
	}
}
