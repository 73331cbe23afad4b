package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build, Go, Gofulmen and Crucible versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		v := handlers.CurrentVersion()

		_, _ = fmt.Fprintf(out, "%s %s\n", v.App.Name, v.App.Version)
		if !extended {
			return nil
		}
		_, _ = fmt.Fprintf(out, "Commit: %s\n", v.App.Commit)
		_, _ = fmt.Fprintf(out, "Built: %s\n", v.App.BuildDate)
		_, _ = fmt.Fprintf(out, "Go: %s (%s)\n", v.App.GoVersion, v.Runtime.Platform)
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintf(out, "Gofulmen: %s\n", v.Dependencies.Gofulmen)
		_, _ = fmt.Fprintf(out, "Crucible: %s\n", v.Dependencies.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
