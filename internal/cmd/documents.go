package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/output"
	"github.com/docpilot/docpilot/internal/rag"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
)

var (
	documentsCollection string
	documentsCount      int
	documentsStatuses   []string

	documentName     string
	documentMetadata string

	queryFilter           string
	queryDocumentPassages bool
	queryAnswers          bool

	documentOut string
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List, add, query and fetch documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in a collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close() // nolint:errcheck // best-effort cleanup

		list, err := a.documents.ListDocuments(cmd.Context(), documentsCollection, documentsCount, documentsStatuses...)
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatDocuments(list)
		})
	},
}

var documentsAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Upload a file to a collection",
	Long: `Upload a file to a collection. Content already indexed in the collection
(same SHA-256) is not uploaded again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		var metadata map[string]any
		if raw := strings.TrimSpace(documentMetadata); raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				return fmt.Errorf("--metadata must be a JSON object: %w", err)
			}
		}

		name := strings.TrimSpace(documentName)
		if name == "" {
			name = filepath.Base(args[0])
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close() // nolint:errcheck // best-effort cleanup

		result, err := a.documents.AddDocument(cmd.Context(), rag.AddDocumentInput{
			CollectionID: documentsCollection,
			Filename:     name,
			Content:      content,
			Metadata:     metadata,
		})
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatUpload(result)
		})
	},
}

var documentsQueryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a natural language query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close() // nolint:errcheck // best-effort cleanup

		passages := discovery.DefaultPassages()
		passages.PerDocument = queryDocumentPassages
		passages.FindAnswers = queryAnswers

		result, err := a.documents.Query(cmd.Context(), rag.QueryInput{
			CollectionID:         documentsCollection,
			NaturalLanguageQuery: strings.Join(args, " "),
			Filter:               queryFilter,
			Count:                documentsCount,
			Passages:             &passages,
		})
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatQuery(result)
		})
	},
}

var documentsGetCmd = &cobra.Command{
	Use:   "get <document-id>",
	Short: "Write the stored content of an uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close() // nolint:errcheck // best-effort cleanup

		doc, err := a.documents.GetDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		sink, err := openSink(cmd, documentOut)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()
		_, err = sink.writer.Write(doc.Content)
		return err
	},
}

func init() {
	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(documentsListCmd, documentsAddCmd, documentsQueryCmd, documentsGetCmd)

	documentsCmd.PersistentFlags().StringVarP(&documentsCollection, "collection", "c", "", "collection id (default from config)")

	documentsListCmd.Flags().IntVar(&documentsCount, "count", 0, "maximum documents to list")
	documentsListCmd.Flags().StringSliceVar(&documentsStatuses, "status", nil, "only documents with this status (repeatable)")
	addOutputFlags(documentsListCmd)

	documentsAddCmd.Flags().StringVar(&documentName, "name", "", "filename to index under (default: base name of file)")
	documentsAddCmd.Flags().StringVar(&documentMetadata, "metadata", "", "metadata as a JSON object")
	addOutputFlags(documentsAddCmd)

	documentsQueryCmd.Flags().IntVar(&documentsCount, "count", 0, "maximum results")
	documentsQueryCmd.Flags().StringVar(&queryFilter, "filter", "", "Discovery query filter")
	documentsQueryCmd.Flags().BoolVar(&queryDocumentPassages, "document-passages", true, "group passages per document")
	documentsQueryCmd.Flags().BoolVar(&queryAnswers, "answers", false, "extract answers from passages")
	addOutputFlags(documentsQueryCmd)

	documentsGetCmd.Flags().StringVar(&documentOut, "out", "", "write content to a file (default stdout)")
}
