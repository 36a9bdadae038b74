package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yuuki/icmping/internal/config"
	"github.com/yuuki/icmping/internal/pinger"
)

var version = "0.1.0"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "icmping [flags] <host>",
		Short:         "Send ICMP echo requests to a host and report round-trip times",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()

			if createConfig, _ := flags.GetBool("create-config"); createConfig {
				path, _ := flags.GetString("config-output")
				if err := config.WriteDefaultConfig(path); err != nil {
					return fmt.Errorf("error creating default config: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created default configuration at %s\n", path)
				return nil
			}

			if len(args) == 0 {
				return errors.New("destination host is required")
			}

			cfg, err := config.Load(flags, args[0])
			if err != nil {
				return err
			}

			p, err := pinger.New(cmd.Context(), cfg, version, pinger.WithSignals())
			if err != nil {
				return err
			}
			return p.Run(cmd.Context())
		},
	}

	config.SetupFlags(cmd.Flags())
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "icmping: %v\n", err)
		os.Exit(1)
	}
}
