package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/arrowship/arrowship/internal/sandbox"
)

type options struct {
	httpAddr        string
	grpcAddr        string
	clientID        string
	clientSecret    string
	clientSecretEnv string
	tokenTTL        time.Duration
	retention       time.Duration
	rejects         []string
	tlsCert         string
	tlsKey          string
	logLevel        string
}

func newRootCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "ingest-sandbox",
		Short: "Run a local ingestion service for arrowship",
		Long: `
Serves POST /v1/tables/{table}/rows over HTTP and IngestRows over gRPC, plus
an OAuth client-credentials token endpoint at /oidc/v1/token. Accepted rows
are kept in memory.

--reject takes rules of the form column=value[:ErrorKind] to reject matching
rows, or !column to reject rows missing a value.
`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
				return fmt.Errorf("log level %q: %w", o.logLevel, err)
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

			srv, err := newServer(o)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return srv.serve(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.httpAddr, "http-addr", ":8443", "HTTP listen address; empty disables HTTP.")
	flags.StringVar(&o.grpcAddr, "grpc-addr", ":9443", "gRPC listen address; empty disables gRPC.")
	flags.StringVar(&o.clientID, "client-id", "", "OAuth client ID; empty disables auth.")
	flags.StringVar(&o.clientSecret, "client-secret", "", "OAuth client secret.")
	flags.StringVar(&o.clientSecretEnv, "client-secret-env", "", "Environment variable holding the client secret.")
	flags.DurationVar(&o.tokenTTL, "token-ttl", sandbox.DefaultTokenTTL, "Lifetime of issued tokens.")
	flags.DurationVar(&o.retention, "retention", 0, "Drop accepted rows older than this; 0 keeps them.")
	flags.StringArrayVar(&o.rejects, "reject", nil, "Row rejection rule, repeatable.")
	flags.StringVar(&o.tlsCert, "tls-cert", "", "TLS certificate file.")
	flags.StringVar(&o.tlsKey, "tls-key", "", "TLS key file.")
	flags.StringVar(&o.logLevel, "log-level", "info", "debug | info | warn | error.")
	return cmd
}

// server owns the listeners of one sandbox run.
type server struct {
	svc     *sandbox.Service
	httpLis net.Listener
	grpcLis net.Listener
	httpSrv *http.Server
	grpcSrv *grpc.Server
	tls     bool
}

func newServer(o *options) (*server, error) {
	secret := o.clientSecret
	if o.clientSecretEnv != "" {
		if v := os.Getenv(o.clientSecretEnv); v != "" {
			secret = v
		}
	}
	if o.clientID != "" && secret == "" {
		return nil, errors.New("--client-id needs --client-secret or --client-secret-env")
	}
	if (o.tlsCert == "") != (o.tlsKey == "") {
		return nil, errors.New("--tls-cert and --tls-key must be set together")
	}
	if o.httpAddr == "" && o.grpcAddr == "" {
		return nil, errors.New("at least one of --http-addr and --grpc-addr is required")
	}

	rules := make([]sandbox.Rule, 0, len(o.rejects))
	for _, s := range o.rejects {
		r, err := sandbox.ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	s := &server{
		svc: sandbox.New(sandbox.Options{
			ClientID:     o.clientID,
			ClientSecret: secret,
			TokenTTL:     o.tokenTTL,
			Retention:    o.retention,
			Rules:        rules,
		}),
		tls: o.tlsCert != "",
	}

	if o.grpcAddr != "" {
		opts := s.svc.ServerOptions()
		if s.tls {
			creds, err := credentials.NewServerTLSFromFile(o.tlsCert, o.tlsKey)
			if err != nil {
				return nil, fmt.Errorf("load tls key pair: %w", err)
			}
			opts = append(opts, grpc.Creds(creds))
		}
		s.grpcSrv = grpc.NewServer(opts...)
		s.svc.RegisterGRPC(s.grpcSrv)

		lis, err := net.Listen("tcp", o.grpcAddr)
		if err != nil {
			return nil, fmt.Errorf("listen grpc %s: %w", o.grpcAddr, err)
		}
		s.grpcLis = lis
	}

	if o.httpAddr != "" {
		s.httpSrv = &http.Server{
			Handler:           s.svc.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		if s.tls {
			cert, err := loadKeyPair(o.tlsCert, o.tlsKey)
			if err != nil {
				s.close()
				return nil, err
			}
			s.httpSrv.TLSConfig = cert
		}
		lis, err := net.Listen("tcp", o.httpAddr)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("listen http %s: %w", o.httpAddr, err)
		}
		s.httpLis = lis
	}

	if !s.tls {
		slog.Warn("sandbox: serving without TLS; arrowship clients require https endpoints")
	}
	return s, nil
}

// serve runs until ctx is cancelled, then stops both servers.
func (s *server) serve(ctx context.Context) error {
	go s.svc.Run(ctx)

	errc := make(chan error, 2)
	if s.grpcSrv != nil {
		go func() {
			slog.Info("sandbox: gRPC receiver listening", "addr", s.grpcLis.Addr().String(), "tls", s.tls)
			errc <- s.grpcSrv.Serve(s.grpcLis)
		}()
	}
	if s.httpSrv != nil {
		go func() {
			slog.Info("sandbox: HTTP receiver listening", "addr", s.httpLis.Addr().String(), "tls", s.tls)
			var err error
			if s.tls {
				err = s.httpSrv.ServeTLS(s.httpLis, "", "")
			} else {
				err = s.httpSrv.Serve(s.httpLis)
			}
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errc <- err
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		slog.Error("sandbox: server stopped", "err", err)
	}

	slog.Info("sandbox: shutting down")
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
	if s.httpSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutCtx) //nolint:errcheck
	}
	return err
}

// close releases listeners of a server that never started serving.
func (s *server) close() {
	if s.grpcLis != nil {
		s.grpcLis.Close()
	}
	if s.httpLis != nil {
		s.httpLis.Close()
	}
}
