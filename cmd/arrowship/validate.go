package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			mode := "send"
			if cfg.WriterDisabled {
				mode = "dry-run"
			}
			fmt.Fprintf(g.stdout, "config OK: endpoint=%s table=%s transport=%s mode=%s\n",
				cfg.Endpoint, cfg.Table, cfg.Transport.Kind, mode)
			return nil
		},
	}
}
