package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/arrowship/arrowship/internal/metrics"
	"github.com/arrowship/arrowship/pkg/auth"
	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/engine"
	"github.com/arrowship/arrowship/pkg/transport"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	fromEnv    bool
	logLevel   string

	level  *slog.LevelVar
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{level: new(slog.LevelVar), stdout: stdout, stderr: stderr}

	rc := &cobra.Command{
		Use:   "arrowship",
		Short: "Send Arrow record batches to an ingestion endpoint",
		Long: `
arrowship converts Arrow IPC files into rows and sends them to an ingestion
service with OAuth client-credentials auth, retries and per-row results.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewJSONHandler(g.stderr, &slog.HandlerOptions{Level: g.level})))
			if g.logLevel != "" {
				return g.setLevel(g.logLevel)
			}
			return nil
		},
	}

	flags := rc.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "arrowship.yaml", "Path to the YAML config file.")
	flags.BoolVar(&g.fromEnv, "env", false, "Read the config from ARROWSHIP_* environment variables instead of a file.")
	flags.StringVar(&g.logLevel, "log-level", "", "Override log.level from the config: debug | info | warn | error.")

	rc.AddCommand(newValidateCommand(g))
	rc.AddCommand(newSendCommand(g))
	rc.AddCommand(newSpoolCommand(g))
	rc.AddCommand(newCheckCommand(g))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// loadConfig reads the config and applies its log level unless --log-level
// was given.
func (g *globals) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.fromEnv {
		cfg, err = config.LoadEnv()
	} else {
		cfg, err = config.Load(g.configPath)
	}
	if err != nil {
		return nil, err
	}
	if g.logLevel == "" && cfg.Log.Level != "" {
		if err := g.setLevel(cfg.Log.Level); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (g *globals) setLevel(s string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("log level %q: %w", s, err)
	}
	g.level.Set(l)
	return nil
}

// newEngine builds an engine whose token requests trust the same CAs as the
// transport. stop shuts the engine down and drops its token.
func newEngine(cfg config.Config, rec *metrics.Recorder) (e *engine.Engine, stop func(), err error) {
	opts := []engine.Option{engine.WithMetrics(rec)}
	var mgr *auth.Manager
	if !cfg.WriterDisabled {
		tlsCfg, err := transport.TLSConfig(cfg.Transport.TLS)
		if err != nil {
			return nil, nil, err
		}
		client := &http.Client{
			Timeout:   cfg.Transport.Timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		}
		mgr, err = auth.NewManager(cfg,
			auth.WithHTTPClient(client),
			auth.WithRefreshHook(func() { rec.TokenRefresh(1) }),
		)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, engine.WithAuth(mgr))
	}

	e, err = engine.New(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	stop = func() {
		if err := e.Shutdown(); err != nil {
			slog.Warn("arrowship: engine shutdown", "err", err)
		}
		if mgr != nil {
			mgr.Close()
		}
	}
	return e, stop, nil
}
