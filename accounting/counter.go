// Package accounting records how many bytes each transfer delivered.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// CounterFile keeps a single cumulative byte count in a sidecar file.
// Concurrent Records within one process are serialized.
type CounterFile struct {
	path string
	mu   sync.Mutex
}

// NewCounterFile returns a counter persisted at path. The file is created on
// the first Record.
func NewCounterFile(path string) *CounterFile {
	return &CounterFile{path: path}
}

// Path returns the location of the counter file.
func (c *CounterFile) Path() string {
	return c.path
}

// Record adds bytesSent to the stored total.
func (c *CounterFile) Record(_ context.Context, bytesSent int64, displayName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	total, err := c.read()
	if err != nil {
		return err
	}
	total += bytesSent

	if err := c.write(total); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "CounterFile.Record",
		"display_name": displayName,
		"bytes_sent":   bytesSent,
		"total_bytes":  total,
	}).Debug("Recorded transfer")

	return nil
}

// Total returns the stored total, zero if nothing was recorded yet.
func (c *CounterFile) Total() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.read()
}

func (c *CounterFile) read() (int64, error) {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %q: %w", c.path, err)
	}

	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, nil
	}
	total, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %q: %w", c.path, err)
	}

	return total, nil
}

// write replaces the counter through a temporary file so readers never
// observe a partial value.
func (c *CounterFile) write(total int64) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create counter directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary counter: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.FormatInt(total, 10)); err != nil {
		tmp.Close()
		return fmt.Errorf("write temporary counter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temporary counter: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace counter %q: %w", c.path, err)
	}

	return nil
}
