package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/arrowship/arrowship/pkg/batch"
	"github.com/arrowship/arrowship/pkg/result"
)

// Defaults.
const (
	Extension          = ".arrows"
	DoneDir            = "done"
	QuarantineDir      = "quarantine"
	ErrorsSuffix       = ".errors.json"
	DefaultConcurrency = 4
)

// Sender sends one record.
type Sender interface {
	Send(ctx context.Context, rec arrow.Record) (*result.TransmissionResult, error)
}

// Options configures a Spool.
type Options struct {
	// Dir is watched for *.arrows files.
	Dir string

	// DoneDir and QuarantineDir default to Dir/done and Dir/quarantine.
	DoneDir       string
	QuarantineDir string

	// Concurrency bounds how many files are processed at once.
	Concurrency int
	Allocator   memory.Allocator
}

// Spool processes files from one directory.
type Spool struct {
	sender     Sender
	dir        string
	done       string
	quarantine string
	limit      int
	mem        memory.Allocator

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New validates opts and creates the output directories.
func New(sender Sender, opts Options) (*Spool, error) {
	if opts.Dir == "" {
		return nil, errors.New("spool: dir is required")
	}
	s := &Spool{
		sender:     sender,
		dir:        opts.Dir,
		done:       opts.DoneDir,
		quarantine: opts.QuarantineDir,
		limit:      opts.Concurrency,
		mem:        opts.Allocator,
		inflight:   make(map[string]struct{}),
	}
	if s.done == "" {
		s.done = filepath.Join(s.dir, DoneDir)
	}
	if s.quarantine == "" {
		s.quarantine = filepath.Join(s.dir, QuarantineDir)
	}
	if s.limit <= 0 {
		s.limit = DefaultConcurrency
	}
	if s.mem == nil {
		s.mem = memory.DefaultAllocator
	}
	for _, d := range []string{s.dir, s.done, s.quarantine} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("spool: create %s: %w", d, err)
		}
	}
	return s, nil
}

// RecordReport is the outcome of one record in a file.
type RecordReport struct {
	Record int                        `json:"record"`
	Result *result.TransmissionResult `json:"result"`
}

// FileReport summarises one processed file.
type FileReport struct {
	File       string         `json:"file"`
	Records    int            `json:"records"`
	Successful int            `json:"successful_rows"`
	Failed     int            `json:"failed_rows"`
	Error      string         `json:"error,omitempty"`
	Results    []RecordReport `json:"results,omitempty"`
}

// Quarantined reports whether any rows of the file were quarantined.
func (r *FileReport) Quarantined() bool { return r.Failed > 0 || r.Error != "" }

// ProcessDir processes every *.arrows file currently in the directory.
func (s *Spool) ProcessDir(ctx context.Context) ([]*FileReport, error) {
	paths, err := s.list()
	if err != nil {
		return nil, err
	}
	return s.ProcessFiles(ctx, paths)
}

func (s *Spool) list() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+Extension))
	if err != nil {
		return nil, fmt.Errorf("spool: list %s: %w", s.dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// ProcessFiles processes paths with bounded concurrency. Reports come back
// in the order of paths; files skipped because they are already being
// processed have no report. A failing file does not stop the others; the
// returned error joins every file's error.
func (s *Spool) ProcessFiles(ctx context.Context, paths []string) ([]*FileReport, error) {
	reports := make([]*FileReport, len(paths))
	errs := make([]error, len(paths))
	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, p := range paths {
		g.Go(func() error {
			reports[i], errs[i] = s.ProcessFile(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	out := reports[:0]
	for _, r := range reports {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

func (s *Spool) claim(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[path]; busy {
		return false
	}
	s.inflight[path] = struct{}{}
	return true
}

func (s *Spool) release(path string) {
	s.mu.Lock()
	delete(s.inflight, path)
	s.mu.Unlock()
}

// ProcessFile sends every record of path and writes its outputs. The
// returned error is reserved for problems that leave the file in place:
// cancellation and output write failures.
func (s *Spool) ProcessFile(ctx context.Context, path string) (*FileReport, error) {
	if !s.claim(path) {
		return nil, nil
	}
	defer s.release(path)

	name := filepath.Base(path)
	rep := &FileReport{File: name}
	out := &outputs{mem: s.mem}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("spool: open %s: %w", path, err)
	}
	readErr := batch.ReadStreams(s.mem, f, func(rec arrow.Record) error {
		return s.sendRecord(ctx, rep, out, rec)
	})
	f.Close()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if readErr != nil {
		rep.Error = readErr.Error()
		slog.Error("spool: unreadable file, quarantining", "file", name, "records_sent", rep.Records, "err", readErr)
		if len(out.done) > 0 {
			if err := writeAtomic(filepath.Join(s.done, name), out.done); err != nil {
				return rep, err
			}
		}
		if err := s.quarantineRaw(path, rep); err != nil {
			return rep, err
		}
		return rep, nil
	}

	if err := s.writeOutputs(name, rep, out); err != nil {
		return rep, err
	}
	if err := os.Remove(path); err != nil {
		return rep, fmt.Errorf("spool: remove %s: %w", path, err)
	}

	slog.Info("spool: file processed",
		"file", name,
		"records", rep.Records,
		"successful", rep.Successful,
		"failed", rep.Failed,
	)
	return rep, nil
}

// sendRecord sends rec and splits it into the outputs.
func (s *Spool) sendRecord(ctx context.Context, rep *FileReport, out *outputs, rec arrow.Record) error {
	idx := rep.Records
	rep.Records++

	res, err := s.sender.Send(ctx, rec)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	rep.Results = append(rep.Results, RecordReport{Record: idx, Result: res})

	if err != nil {
		// The whole record goes to quarantine.
		rep.Failed += int(rec.NumRows())
		return out.addQuarantine(rec)
	}

	rep.Successful += res.SuccessfulCount()
	rep.Failed += res.FailedCount()

	ok, err := res.ExtractSuccessfulBatchWith(s.mem, rec)
	if err != nil {
		return err
	}
	if ok != nil {
		defer ok.Release()
		if err := out.addDone(ok); err != nil {
			return err
		}
	}

	bad, err := res.ExtractFailedBatchWith(s.mem, rec)
	if err != nil {
		return err
	}
	if bad != nil {
		defer bad.Release()
		if err := out.addQuarantine(bad); err != nil {
			return err
		}
	}
	return nil
}

func (s *Spool) writeOutputs(name string, rep *FileReport, out *outputs) error {
	if len(out.done) > 0 {
		if err := writeAtomic(filepath.Join(s.done, name), out.done); err != nil {
			return err
		}
	}
	if !rep.Quarantined() {
		return nil
	}
	if len(out.quarantine) > 0 {
		if err := writeAtomic(filepath.Join(s.quarantine, name), out.quarantine); err != nil {
			return err
		}
	}
	return s.writeReport(name, rep)
}

// quarantineRaw moves an unreadable file to quarantine with its report.
func (s *Spool) quarantineRaw(path string, rep *FileReport) error {
	name := filepath.Base(path)
	if err := os.Rename(path, filepath.Join(s.quarantine, name)); err != nil {
		return fmt.Errorf("spool: quarantine %s: %w", name, err)
	}
	return s.writeReport(name, rep)
}

func (s *Spool) writeReport(name string, rep *FileReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("spool: encode report: %w", err)
	}
	return writeAtomic(filepath.Join(s.quarantine, name+ErrorsSuffix), data)
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("spool: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("spool: rename %s: %w", tmp, err)
	}
	return nil
}

// outputs buffers the encoded done and quarantine streams of one file.
type outputs struct {
	mem        memory.Allocator
	done       []byte
	quarantine []byte
}

func (o *outputs) addDone(rec arrow.Record) error {
	data, err := batch.EncodeStream(o.mem, rec)
	if err != nil {
		return err
	}
	o.done = append(o.done, data...)
	return nil
}

func (o *outputs) addQuarantine(rec arrow.Record) error {
	data, err := batch.EncodeStream(o.mem, rec)
	if err != nil {
		return err
	}
	o.quarantine = append(o.quarantine, data...)
	return nil
}

// Run processes the files already present, then watches the directory and
// processes every *.arrows file created in it until ctx is cancelled. All
// files share one pool of Concurrency workers. A file that fails is logged
// and left in place; Run only returns on cancellation or a watcher failure.
func (s *Spool) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}
	slog.Info("spool: watching for files", "dir", s.dir, "concurrency", s.limit)

	pending, err := s.list()
	if err != nil {
		return err
	}

	work := make(chan string)
	var g errgroup.Group
	for i := 0; i < s.limit; i++ {
		g.Go(func() error {
			for path := range work {
				s.runFile(ctx, path)
			}
			return nil
		})
	}
	defer func() {
		close(work)
		_ = g.Wait()
	}()

	for {
		// Sending on a nil channel blocks, so the case is off while
		// nothing is pending.
		var next string
		var out chan<- string
		if len(pending) > 0 {
			next, out = pending[0], work
		}

		select {
		case <-ctx.Done():
			return nil

		case out <- next:
			pending = pending[1:]

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("spool: watcher closed")
			}
			if event.Has(fsnotify.Create) && strings.HasSuffix(event.Name, Extension) {
				pending = append(pending, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("spool: watcher closed")
			}
			slog.Error("spool: watcher error", "err", err)
		}
	}
}

// runFile processes one file for Run and logs a failure.
func (s *Spool) runFile(ctx context.Context, path string) {
	if _, err := s.ProcessFile(ctx, path); err != nil && ctx.Err() == nil {
		slog.Error("spool: file failed, left in place", "file", filepath.Base(path), "err", err)
	}
}
