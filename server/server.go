// Package server exposes a directory of files for range-aware download.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/gkatanacio/rangestream/accounting"
	"github.com/gkatanacio/rangestream/stream"
)

// ErrDirectoryTraversal indicates a request path escaping the served root.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// Options represents the configuration for the download server.
type Options struct {
	// Root is the filesystem downloads are resolved against.
	Root billy.Filesystem
	// Transfer is the template applied to every transfer. Its Filesystem
	// and Recorder fields are set by the server.
	Transfer stream.Options
	// Verifier enables basic authentication when non-nil.
	Verifier stream.Verifier
	// MaxTransfers caps concurrent downloads. Zero means unlimited.
	MaxTransfers int64

	Counter *accounting.CounterFile
	Ledger  *accounting.SQLiteLedger
}

// Server is an http.Handler serving /files/{path} and /stats.
type Server struct {
	opts     Options
	sem      *semaphore.Weighted
	recorder stream.Recorder
	mux      *http.ServeMux
}

func NewServer(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}
	if opts.MaxTransfers > 0 {
		s.sem = semaphore.NewWeighted(opts.MaxTransfers)
	}

	var sinks accounting.Tee
	if opts.Counter != nil {
		sinks = append(sinks, opts.Counter)
	}
	if opts.Ledger != nil {
		sinks = append(sinks, opts.Ledger)
	}
	if len(sinks) > 0 {
		s.recorder = sinks
	}

	s.mux.HandleFunc("/files/{path...}", s.handleFile)
	s.mux.HandleFunc("GET /stats", s.handleStats)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ValidatePath cleans a request path relative to the served root and
// rejects any attempt to leave it.
func ValidatePath(p string) (string, error) {
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}

	return strings.TrimPrefix(path.Clean("/"+p), "/"), nil
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	log := logrus.WithFields(logrus.Fields{
		"function": "handleFile",
		"method":   r.Method,
		"path":     r.URL.Path,
		"remote":   r.RemoteAddr,
	})

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		stream.WriteError(w, stream.NewHTTPError(stream.ErrMethodNotAllowed, r.Method))
		return
	}

	// Credentials are checked before the path is resolved so that an
	// anonymous client learns nothing about which files exist.
	if s.opts.Verifier != nil {
		username, password, ok := r.BasicAuth()
		if !ok || !s.opts.Verifier.Verify(username, password) {
			log.WithField("credentials_present", ok).Info("Rejected unauthenticated download")
			stream.Challenge(w)
			return
		}
	}

	name, err := ValidatePath(r.PathValue("path"))
	if err != nil {
		log.WithField("error", err.Error()).Warn("Rejected download path")
		stream.WriteError(w, stream.NewHTTPError(stream.ErrForbidden, err.Error()))
		return
	}
	if name == "" {
		stream.WriteError(w, stream.NewHTTPError(stream.ErrNotFound, "no file named"))
		return
	}

	if s.sem != nil {
		if !s.sem.TryAcquire(1) {
			log.Warn("Too many concurrent transfers")
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, stream.RenderError(http.StatusServiceUnavailable, ""))
			return
		}
		defer s.sem.Release(1)
	}

	opts := s.opts.Transfer
	opts.Filesystem = s.opts.Root
	opts.Recorder = s.recorder

	transfer, err := stream.NewTransfer(r, stream.FileSource(name), opts)
	if err != nil {
		stream.WriteError(w, err)
		return
	}
	defer transfer.Close()

	if n := r.URL.Query().Get("name"); n != "" {
		transfer.SetDownloadName(n)
	}
	var result stream.Result
	if r.URL.Query().Get("download") == "1" {
		result, err = transfer.ForceDownload(w)
	} else {
		result, err = transfer.Stream(w)
	}
	if err != nil {
		log.WithFields(logrus.Fields{
			"transfer_id": transfer.ID,
			"bytes_sent":  result.BytesSent,
			"error":       err.Error(),
		}).Error("Transfer failed")
	}
}

type statsEntry struct {
	Name      string `json:"name"`
	BytesSent int64  `json:"bytes_sent"`
	Downloads int64  `json:"downloads"`
}

type statsResponse struct {
	TotalBytes int64        `json:"total_bytes"`
	Entries    []statsEntry `json:"entries,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse

	if s.opts.Counter != nil {
		total, err := s.opts.Counter.Total()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.TotalBytes = total
	}

	if s.opts.Ledger != nil {
		entries, err := s.opts.Ledger.Entries(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, e := range entries {
			resp.Entries = append(resp.Entries, statsEntry{Name: e.Name, BytesSent: e.BytesSent, Downloads: e.Downloads})
		}
		if s.opts.Counter == nil {
			for _, e := range entries {
				resp.TotalBytes += e.BytesSent
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleStats",
			"error":    err.Error(),
		}).Warn("Failed to encode stats")
	}
}
