package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arrowship/arrowship/internal/preflight"
	"github.com/arrowship/arrowship/pkg/config"
)

func newCheckCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the endpoint and token issuer are reachable over TLS",
		Long: `
Dials endpoint and catalog_url with the configured TLS settings and prints a
JSON report per address with the leaf certificate's issuer, expiry and
status (valid | expiring | expired | unreachable).
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			targets := []string{cfg.Endpoint}
			if cfg.CatalogURL != "" && cfg.CatalogURL != cfg.Endpoint {
				targets = append(targets, cfg.CatalogURL)
			}
			return checkTargets(cmd, g, cfg.Transport.TLS, targets)
		},
	}
}

func checkTargets(cmd *cobra.Command, g *globals, tlsCfg config.TLSConfig, targets []string) error {
	enc := json.NewEncoder(g.stdout)
	enc.SetIndent("", "  ")

	var unreachable int
	for _, target := range targets {
		rep, err := preflight.Check(cmd.Context(), target, tlsCfg)
		if err != nil {
			return err
		}
		if err := enc.Encode(rep); err != nil {
			return err
		}
		if !rep.Reachable() {
			unreachable++
		}
	}
	if unreachable > 0 {
		return fmt.Errorf("%d of %d addresses unreachable", unreachable, len(targets))
	}
	return nil
}
