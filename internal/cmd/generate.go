package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/output"
	"github.com/docpilot/docpilot/internal/rag"
)

var generateInput rag.GenerateInput

var generateCmd = &cobra.Command{
	Use:   "generate <question>",
	Short: "Answer a question from a collection",
	Long: `Retrieve passages for the question from watsonx Discovery and let the
foundation model answer from them.

Asking "what documents are available?" lists the collection instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close() // nolint:errcheck // best-effort cleanup

		in := generateInput
		in.Question = strings.Join(args, " ")
		result, err := a.answers.Generate(cmd.Context(), in)
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatAnswer(result)
		})
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	flags := generateCmd.Flags()
	flags.StringVar(&generateInput.ModelID, "model", "", "model id (default from config)")
	flags.StringVarP(&generateInput.CollectionID, "collection", "c", "", "collection id (default from config)")
	flags.StringVar(&generateInput.DecodingMethod, "decoding-method", "", "greedy or sample")
	flags.IntVar(&generateInput.MinNewTokens, "min-new-tokens", 0, "minimum generated tokens")
	flags.IntVar(&generateInput.MaxNewTokens, "max-new-tokens", 0, "maximum generated tokens")
	flags.Float64Var(&generateInput.RepetitionPenalty, "repetition-penalty", 0, "repetition penalty")
	addOutputFlags(generateCmd)
}
