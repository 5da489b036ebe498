// Package migration converts a regions file on disk: it locks the file,
// rewrites its identity lists, moves the original aside as a timestamped
// backup and writes the converted document in its place.
package migration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"six2five/internal/document"
	"six2five/internal/platform/clock"
	"six2five/internal/regions"
	dErrors "six2five/pkg/domain-errors"
)

const (
	DefaultLockTimeout = 5 * time.Second
	lockRetryInterval  = 100 * time.Millisecond
)

// Rewriter mutates a parsed regions document in place.
type Rewriter interface {
	Transform(ctx context.Context, root document.Node) regions.Report
}

// Result describes one conversion.
type Result struct {
	Report regions.Report
	// BackupPath is empty for dry runs.
	BackupPath string
}

type Converter struct {
	rewriter    Rewriter
	logger      *slog.Logger
	clock       clock.Clock
	lockTimeout time.Duration
	dryRun      io.Writer
}

type Option func(*Converter)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = logger
	}
}

func WithClock(c clock.Clock) Option {
	return func(conv *Converter) {
		conv.clock = c
	}
}

func WithLockTimeout(d time.Duration) Option {
	return func(c *Converter) {
		c.lockTimeout = d
	}
}

// WithDryRun sends the converted document to w and leaves the file alone.
func WithDryRun(w io.Writer) Option {
	return func(c *Converter) {
		c.dryRun = w
	}
}

func New(rewriter Rewriter, opts ...Option) (*Converter, error) {
	if rewriter == nil {
		return nil, errors.New("rewriter is required")
	}
	c := &Converter{
		rewriter:    rewriter,
		logger:      slog.New(slog.DiscardHandler),
		clock:       clock.System{},
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ConvertFile converts the regions file at path. The original is only moved
// once the converted document has been rendered, and nothing is written if
// the move fails.
func (c *Converter) ConvertFile(ctx context.Context, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("the file '%s' does not exist", abs))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file for reading: %w", err)
	}
	if info.IsDir() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("'%s' is a directory", abs))
	}

	unlock, err := c.lock(ctx, abs)
	if err != nil {
		return nil, err
	}
	defer unlock()

	root, err := c.read(abs)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "converting UUIDs to names", "file", abs)
	report := c.rewriter.Transform(ctx, root)

	var out bytes.Buffer
	if err := document.Encode(&out, root); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render converted document")
	}

	if c.dryRun != nil {
		if _, err := c.dryRun.Write(out.Bytes()); err != nil {
			return nil, fmt.Errorf("failed to write dry run output: %w", err)
		}
		return &Result{Report: report}, nil
	}

	backup := BackupPath(abs, c.clock.Now())
	if err := os.Rename(abs, backup); err != nil {
		return nil, fmt.Errorf("failed to rename old file to %s: %w", backup, err)
	}
	c.logger.InfoContext(ctx, "moved regions file to backup", "backup", backup)

	if err := os.WriteFile(abs, out.Bytes(), info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("failed to open file for writing: %w", err)
	}
	return &Result{Report: report, BackupPath: backup}, nil
}

func (c *Converter) lock(ctx context.Context, path string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()

	fileLock := flock.New(path + ".lock")
	locked, err := fileLock.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, dErrors.New(dErrors.CodeConflict, "could not acquire file lock")
	}
	return func() {
		if err := fileLock.Unlock(); err != nil {
			c.logger.Warn("failed to release file lock", "error", err)
		}
	}, nil
}

func (c *Converter) read(path string) (document.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for reading: %w", err)
	}
	defer f.Close()

	root, err := document.Decode(f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "failed to parse regions file")
	}
	return root, nil
}

// BackupPath names the backup for path taken at t:
// <dir>/<base>-<unix millis>.<ext>.backup.
func BackupPath(path string, t time.Time) string {
	dir, name := filepath.Split(path)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, fmt.Sprintf("%s-%d.%s.backup", base, t.UnixMilli(), strings.TrimPrefix(ext, ".")))
}
