package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/docpilot/docpilot/internal/rag"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
)

const passageExcerpt = 100

// TableFormatter renders results as ASCII tables.
type TableFormatter struct{}

// FormatAnswer boxes the generated answer under its question.
func (f *TableFormatter) FormatAnswer(result *rag.GenerateResult) (string, error) {
	if result == nil {
		return "", nil
	}
	body := strings.Join([]string{"Q: " + result.Question, "", strings.TrimSpace(result.GeneratedText)}, "\n")
	return ascii.DrawBox(body, 0), nil
}

func (f *TableFormatter) FormatCollections(collections []discovery.Collection) (string, error) {
	t := newTable(table.Row{"ID", "Name", "Description"})
	for _, c := range collections {
		t.AppendRow(table.Row{c.CollectionID, c.Name, c.Description})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d collections", len(collections))})
	return t.Render(), nil
}

func (f *TableFormatter) FormatDocuments(list *rag.DocumentList) (string, error) {
	t := newTable(table.Row{"ID", "Filename", "Status"})
	count := 0
	if list != nil {
		for _, doc := range list.Documents {
			t.AppendRow(table.Row{doc.DocumentID, doc.Filename, doc.Status})
		}
		count = list.Count
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d documents", count)})
	return t.Render(), nil
}

func (f *TableFormatter) FormatUpload(result *rag.AddDocumentResult) (string, error) {
	if result == nil {
		return "", nil
	}
	t := newTable(table.Row{"Document", "Collection", "Duplicate"})
	t.AppendRow(table.Row{result.DocumentID, result.CollectionID, result.Duplicate})
	return t.Render(), nil
}

func (f *TableFormatter) FormatQuery(result *rag.QueryResult) (string, error) {
	t := newTable(table.Row{"#", "Document", "Passage"})
	if result != nil {
		for i, doc := range result.Documents {
			t.AppendRow(table.Row{i + 1, metadataString(doc.Metadata, "document_id"), excerpt(doc.PageContent, passageExcerpt)})
		}
	}
	return t.Render(), nil
}

func (f *TableFormatter) FormatThrottles(statuses []throttle.Status) (string, error) {
	t := newTable(table.Row{"Limiter", "Mode", "Limit", "Interval", "Enabled", "Queued"})
	for _, s := range statuses {
		t.AppendRow(table.Row{s.Name, s.Mode, s.Limit, time.Duration(s.IntervalMs) * time.Millisecond, s.Enabled, s.QueueSize})
	}
	return t.Render(), nil
}

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(header)
	return t
}
