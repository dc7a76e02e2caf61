package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/linkstage/internal/config"
	"github.com/AaronLay10/linkstage/internal/version"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the linkstage command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "linkstage",
		Short:         "Choreographed linked-list visualiser",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to stage.yaml (defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	return cmd
}

// loadConfig reads the stage file, or returns a version 1 config with all
// defaults when no path was given.
func (o *RootOptions) loadConfig() (*config.StageConfig, error) {
	if o.ConfigPath == "" {
		return &config.StageConfig{Version: 1}, nil
	}
	cfg, err := config.LoadStageConfig(o.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", o.ConfigPath, err)
	}
	return cfg, nil
}
