package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/crasgo/internal/conf"
)

// configCommand prints the effective, fully-resolved settings (defaults,
// config file, and environment overrides merged) as YAML, the same
// dump_* diagnostic family covers for device/stream state (§6), followed
// by any soft configuration warnings from conf.Diagnose.
func configCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective server configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := settings.DumpYAML()
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			diag := conf.Diagnose(settings)
			for _, w := range diag.Warnings {
				fmt.Println("warning:", w)
			}
			for _, e := range diag.Errors {
				fmt.Println("error:", e)
			}
			return nil
		},
	}
}

// versionCommand prints the build-time metadata (version, build date,
// system id) attached to crash reports.
func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := conf.BuildContext()
			fmt.Printf("version: %s\nbuild date: %s\nsystem id: %s\n",
				ctx.Version(), ctx.BuildDate(), ctx.SystemID())
			return nil
		},
	}
}
