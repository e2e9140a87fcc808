package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/spf13/cobra"

	"github.com/arrowship/arrowship/internal/metrics"
	"github.com/arrowship/arrowship/pkg/batch"
	"github.com/arrowship/arrowship/pkg/engine"
	"github.com/arrowship/arrowship/pkg/result"
)

type sendOptions struct {
	table      string
	quarantine string
	metricsOut string
}

// sendLine is one line of send output.
type sendLine struct {
	File   string                     `json:"file"`
	Record int                        `json:"record"`
	Result *result.TransmissionResult `json:"result"`
}

func newSendCommand(g *globals) *cobra.Command {
	o := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send <file.arrows> [file.arrows]...",
		Short: "Send Arrow IPC files",
		Long: `
Sends every record of each Arrow IPC file, one request per record, and prints
one JSON line per record with its result. Files may hold several
concatenated IPC streams.

With --quarantine, rejected rows of each file are appended to
<dir>/<file> as an Arrow IPC stream for later inspection or replay.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if o.table != "" {
				cfg.Table = o.table
			}

			rec := metrics.New()
			e, stop, err := newEngine(*cfg, rec)
			if err != nil {
				return err
			}
			defer stop()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var failed, total int
			for _, path := range args {
				f, n, err := o.sendFile(ctx, g, e, path)
				failed += f
				total += n
				if err != nil {
					return err
				}
			}

			if o.metricsOut != "" {
				if err := writeMetrics(o.metricsOut, rec); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d records failed", failed, total)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.table, "table", "", "Override the destination table from the config.")
	flags.StringVar(&o.quarantine, "quarantine", "", "Directory receiving rejected rows as Arrow IPC files.")
	flags.StringVar(&o.metricsOut, "metrics-out", "", "Write metrics in Prometheus text format to this file when done.")
	return cmd
}

// sendFile sends every record of path and reports how many records failed.
func (o *sendOptions) sendFile(ctx context.Context, g *globals, e *engine.Engine, path string) (failed, total int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	enc := json.NewEncoder(g.stdout)
	name := filepath.Base(path)
	var rejected []byte

	err = batch.ReadStreams(memory.DefaultAllocator, f, func(rec arrow.Record) error {
		res, sendErr := e.Send(ctx, rec)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := enc.Encode(sendLine{File: name, Record: total, Result: res}); err != nil {
			return err
		}
		total++
		if sendErr != nil || !res.Success() {
			failed++
		}
		if o.quarantine == "" {
			return nil
		}
		data, err := quarantineStream(res, sendErr, rec)
		if err != nil {
			return err
		}
		rejected = append(rejected, data...)
		return nil
	})
	if err != nil {
		return failed, total, fmt.Errorf("%s: %w", path, err)
	}

	if len(rejected) > 0 {
		if err := os.MkdirAll(o.quarantine, 0o755); err != nil {
			return failed, total, err
		}
		dst := filepath.Join(o.quarantine, name)
		if err := os.WriteFile(dst, rejected, 0o644); err != nil {
			return failed, total, err
		}
		slog.Info("arrowship: rejected rows quarantined", "file", name, "path", dst)
	}
	return failed, total, nil
}

// quarantineStream encodes the rows of rec that did not make it: all of them
// when the send failed, the rejected rows otherwise.
func quarantineStream(res *result.TransmissionResult, sendErr error, rec arrow.Record) ([]byte, error) {
	if sendErr != nil {
		if rec.NumRows() == 0 {
			return nil, nil
		}
		return batch.EncodeStream(memory.DefaultAllocator, rec)
	}
	bad, err := res.ExtractFailedBatch(rec)
	if err != nil || bad == nil {
		return nil, err
	}
	defer bad.Release()
	return batch.EncodeStream(memory.DefaultAllocator, bad)
}

func writeMetrics(path string, rec *metrics.Recorder) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rec.Dump(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
