package output

import (
	"fmt"
	"strings"

	"github.com/docpilot/docpilot/internal/rag"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
)

// MarkdownFormatter renders results as Markdown.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatAnswer(result *rag.GenerateResult) (string, error) {
	if result == nil {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", strings.TrimSpace(result.Question)))
	sb.WriteString(strings.TrimSpace(result.GeneratedText))
	sb.WriteString("\n")
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatCollections(collections []discovery.Collection) (string, error) {
	var sb strings.Builder
	sb.WriteString("| ID | Name | Description |\n")
	sb.WriteString("|----|------|-------------|\n")
	for _, c := range collections {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n",
			escapeMarkdownCell(c.CollectionID),
			escapeMarkdownCell(c.Name),
			escapeMarkdownCell(c.Description),
		))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatDocuments(list *rag.DocumentList) (string, error) {
	var sb strings.Builder
	sb.WriteString("| ID | Filename | Status |\n")
	sb.WriteString("|----|----------|--------|\n")
	if list != nil {
		for _, doc := range list.Documents {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n",
				escapeMarkdownCell(doc.DocumentID),
				escapeMarkdownCell(doc.Filename),
				escapeMarkdownCell(doc.Status),
			))
		}
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatUpload(result *rag.AddDocumentResult) (string, error) {
	if result == nil {
		return "", nil
	}
	verb := "Added"
	if result.Duplicate {
		verb = "Already indexed"
	}
	return fmt.Sprintf("%s `%s` to collection `%s`\n", verb, result.DocumentID, result.CollectionID), nil
}

func (f *MarkdownFormatter) FormatQuery(result *rag.QueryResult) (string, error) {
	var sb strings.Builder
	if result == nil {
		return "", nil
	}
	for i, doc := range result.Documents {
		title := metadataString(doc.Metadata, "document_id")
		if title == "" {
			title = fmt.Sprintf("Result %d", i+1)
		}
		sb.WriteString(fmt.Sprintf("### %s\n\n%s\n\n", title, strings.TrimSpace(doc.PageContent)))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatThrottles(statuses []throttle.Status) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Limiter | Mode | Limit | Interval (ms) | Enabled | Queued |\n")
	sb.WriteString("|---------|------|-------|---------------|---------|--------|\n")
	for _, s := range statuses {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %t | %d |\n",
			escapeMarkdownCell(s.Name), s.Mode, s.Limit, s.IntervalMs, s.Enabled, s.QueueSize))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "|", "\\|")
}
