package debugcapture

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arrowship/arrowship/pkg/batch"
	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/transport"
)

// Subdirectories of debug.output_dir.
const (
	RootDir  = "arrowship"
	ArrowDir = "arrow"
	RowsDir  = "rows"
)

// Capture appends batches and rows to per-table rotating files.
type Capture struct {
	dir        string
	rows       bool
	maxSizeMB  int
	maxBackups int
	mem        memory.Allocator

	mu     sync.Mutex
	files  map[string]*captureFile
	closed bool
}

// captureFile is one rotating capture file. oversized is set while the
// current file holds a stream larger than the size limit, written past the
// logger, so the next write starts a new file.
type captureFile struct {
	log       *lumberjack.Logger
	oversized bool
}

// New returns a Capture for cfg, or nil when capture is disabled.
// A nil *Capture ignores every call.
func New(cfg config.DebugConfig) *Capture {
	if !cfg.Enabled {
		return nil
	}
	return &Capture{
		dir:        filepath.Join(cfg.OutputDir, RootDir),
		rows:       cfg.Rows,
		maxSizeMB:  cfg.MaxFileSizeMB,
		maxBackups: cfg.MaxFilesRetained,
		mem:        memory.DefaultAllocator,
		files:      make(map[string]*captureFile),
	}
}

// ArrowPath is the file batches for table are appended to.
func (c *Capture) ArrowPath(table string) string {
	return filepath.Join(c.dir, ArrowDir, fileName(table)+".arrows")
}

// RowsPath is the file encoded rows for table are appended to.
func (c *Capture) RowsPath(table string) string {
	return filepath.Join(c.dir, RowsDir, fileName(table)+".jsonl")
}

// fileName keeps table names from escaping the capture directory.
func fileName(table string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(table)
}

// Batch appends rec to the table's Arrow file as one IPC stream.
func (c *Capture) Batch(table string, rec arrow.Record) {
	if c == nil || rec == nil {
		return
	}
	data, err := batch.EncodeStream(c.mem, rec)
	if err != nil {
		slog.Warn("debugcapture: encode batch failed", "table", table, "err", err)
		return
	}
	c.write(c.ArrowPath(table), data, table)
}

// rowLine is one line of the rows file.
type rowLine struct {
	RequestID string         `json:"request_id,omitempty"`
	Index     int            `json:"index"`
	Values    map[string]any `json:"values"`
}

// Rows appends rows to the table's JSON lines file when debug.rows is set.
func (c *Capture) Rows(table, requestID string, rows []transport.Row) {
	if c == nil || !c.rows || len(rows) == 0 {
		return
	}
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	for _, r := range rows {
		if err := enc.Encode(rowLine{RequestID: requestID, Index: r.Index, Values: r.Values}); err != nil {
			slog.Warn("debugcapture: encode row failed", "table", table, "row", r.Index, "err", err)
			return
		}
	}
	c.write(c.RowsPath(table), []byte(sb.String()), table)
}

// write issues data as a single Write so a rotation never splits a stream.
// A stream larger than the size limit gets a file of its own.
func (c *Capture) write(path string, data []byte, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	f := c.fileFor(path)
	if err := f.write(data, c.maxBytes()); err != nil {
		slog.Warn("debugcapture: write failed", "table", table, "path", path, "bytes", len(data), "err", err)
	}
}

// maxBytes mirrors lumberjack's limit, which defaults to 100 MB.
func (c *Capture) maxBytes() int64 {
	mb := c.maxSizeMB
	if mb <= 0 {
		mb = 100
	}
	return int64(mb) * 1024 * 1024
}

func (c *Capture) fileFor(path string) *captureFile {
	if f, ok := c.files[path]; ok {
		return f
	}
	f := &captureFile{log: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    c.maxSizeMB,
		MaxBackups: c.maxBackups,
		LocalTime:  false,
	}}
	c.files[path] = f
	return f
}

func (f *captureFile) write(data []byte, limit int64) error {
	if f.oversized {
		if err := f.log.Rotate(); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
		f.oversized = false
	}
	if int64(len(data)) <= limit {
		_, err := f.log.Write(data)
		return err
	}

	// lumberjack refuses writes above its limit.
	if info, err := os.Stat(f.log.Filename); err == nil && info.Size() > 0 {
		if err := f.log.Rotate(); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(f.log.Filename), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(f.log.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	_, werr := out.Write(data)
	f.oversized = true
	return errors.Join(werr, out.Close())
}

// Close closes every open file. It is safe to call more than once.
func (c *Capture) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, f := range c.files {
		if err := f.log.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.files = nil
	return errors.Join(errs...)
}
