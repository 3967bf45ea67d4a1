package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbserial/config"
	"github.com/ardnew/usbserial/pkg"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentCLI

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "serialctl",
		Short:        "Validate and simulate composite USB-serial driver sets.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "usbserial.yaml", "configuration file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose (debug) logging")

	root.AddCommand(newValidateCmd(), newSimulateCmd())
	return root
}

// loadConfig reads and validates the configuration named by --config and
// applies its logging section. --verbose overrides the configured level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	c, err := config.ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	pkg.SetLogOutput(cmd.ErrOrStderr())
	if err := c.Log.Apply(); err != nil {
		return nil, err
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}

	pkg.LogDebug(component, "configuration loaded",
		"file", path,
		"sets", len(c.Drivers))
	return c, nil
}
