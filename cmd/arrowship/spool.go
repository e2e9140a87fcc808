package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arrowship/arrowship/internal/metrics"
	"github.com/arrowship/arrowship/internal/spool"
)

type spoolOptions struct {
	spool.Options
	once       bool
	metricsOut string
}

func newSpoolCommand(g *globals) *cobra.Command {
	o := &spoolOptions{}
	cmd := &cobra.Command{
		Use:   "spool",
		Short: "Watch a directory and send the Arrow IPC files dropped into it",
		Long: `
Watches --dir for *.arrows files. Accepted rows go to done/<file>, rejected
rows to quarantine/<file> with a <file>.errors.json report, and the source
file is removed. Write files under a temporary name and rename them to
*.arrows once complete.

Changes to log.level in the config file apply without a restart.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			rec := metrics.New()
			e, stop, err := newEngine(*cfg, rec)
			if err != nil {
				return err
			}
			defer stop()

			sp, err := spool.New(e, o.Options)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if o.once {
				_, err = sp.ProcessDir(ctx)
			} else {
				if !g.fromEnv {
					go g.watchLevel(ctx, g.configPath)
				}
				err = sp.Run(ctx)
			}
			if err != nil {
				return err
			}
			if o.metricsOut != "" {
				return writeMetrics(o.metricsOut, rec)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.Dir, "dir", "", "Directory to watch for *.arrows files.")
	flags.StringVar(&o.DoneDir, "done-dir", "", "Directory for accepted rows (default <dir>/done).")
	flags.StringVar(&o.QuarantineDir, "quarantine-dir", "", "Directory for rejected rows (default <dir>/quarantine).")
	flags.IntVar(&o.Concurrency, "concurrency", spool.DefaultConcurrency, "Files processed at once.")
	flags.BoolVar(&o.once, "once", false, "Process the files present and exit instead of watching.")
	flags.StringVar(&o.metricsOut, "metrics-out", "", "Write metrics in Prometheus text format to this file on exit.")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}
