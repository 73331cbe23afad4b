package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/observability"
	"github.com/docpilot/docpilot/internal/output"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
)

var (
	collectionsIncludeDefault bool
	collectionDescription     string
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage Discovery collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections in the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close() // nolint:errcheck // best-effort cleanup

		collections, err := a.documents.ListCollections(cmd.Context(), collectionsIncludeDefault)
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatCollections(collections)
		})
	},
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close() // nolint:errcheck // best-effort cleanup

		collection, err := a.documents.CreateCollection(cmd.Context(), strings.TrimSpace(args[0]), collectionDescription)
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatCollections([]discovery.Collection{*collection})
		})
	},
}

// openApp loads configuration and wires the services for a one-shot command.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, observability.CLILogger)
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
	collectionsCmd.AddCommand(collectionsListCmd, collectionsCreateCmd)

	collectionsListCmd.Flags().BoolVar(&collectionsIncludeDefault, "include-default", false, "include the default collection")
	collectionsCreateCmd.Flags().StringVar(&collectionDescription, "description", "", "collection description")
	addOutputFlags(collectionsListCmd)
	addOutputFlags(collectionsCreateCmd)
}
