package output

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docpilot/docpilot/internal/rag"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleDocuments() *rag.DocumentList {
	return &rag.DocumentList{
		Documents: []rag.DocumentSummary{
			{DocumentID: "d1", Filename: "guide.pdf", Status: "available"},
			{DocumentID: "d2", Filename: "a|b.txt", Status: "processing"},
		},
		Count: 2,
	}
}

func TestTableFormatter(t *testing.T) {
	f := NewFormatter(FormatTable)

	rendered, err := f.FormatDocuments(sampleDocuments())
	require.NoError(t, err)
	require.Contains(t, rendered, "guide.pdf")
	require.Contains(t, rendered, "2 DOCUMENTS")

	rendered, err = f.FormatCollections([]discovery.Collection{{CollectionID: "c1", Name: "manuals"}})
	require.NoError(t, err)
	require.Contains(t, rendered, "manuals")

	rendered, err = f.FormatAnswer(&rag.GenerateResult{Question: "why?", GeneratedText: "because"})
	require.NoError(t, err)
	require.Contains(t, rendered, "Q: why?")
	require.Contains(t, rendered, "because")

	rendered, err = f.FormatQuery(&rag.QueryResult{Documents: []discovery.Document{{
		PageContent: strings.Repeat("word ", 50),
		Metadata:    map[string]any{"document_id": "d9"},
	}}, Count: 1})
	require.NoError(t, err)
	require.Contains(t, rendered, "d9")
	require.Contains(t, rendered, "…")
}

func TestJSONFormatter(t *testing.T) {
	f := NewFormatter(FormatJSON)

	rendered, err := f.FormatCollections(nil)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &payload))
	require.Equal(t, []any{}, payload["collections"])
	require.EqualValues(t, 0, payload["count"])

	rendered, err = f.FormatUpload(&rag.AddDocumentResult{DocumentID: "d1", CollectionID: "c1"})
	require.NoError(t, err)
	require.Contains(t, rendered, "\"documentId\": \"d1\"")
}

func TestMarkdownFormatter(t *testing.T) {
	f := NewFormatter(FormatMarkdown)

	rendered, err := f.FormatDocuments(sampleDocuments())
	require.NoError(t, err)
	require.Contains(t, rendered, "| d2 | a\\|b.txt | processing |")

	rendered, err = f.FormatUpload(&rag.AddDocumentResult{DocumentID: "d1", CollectionID: "c1", Duplicate: true})
	require.NoError(t, err)
	require.Equal(t, "Already indexed `d1` to collection `c1`\n", rendered)

	rendered, err = f.FormatQuery(&rag.QueryResult{Documents: []discovery.Document{{PageContent: "text"}}})
	require.NoError(t, err)
	require.Contains(t, rendered, "### Result 1")
}

func TestExcerpt(t *testing.T) {
	require.Equal(t, "a b c", excerpt("a\n b   c", 10))
	require.Equal(t, "abcd…", excerpt("abcdefgh", 5))
}

func TestFormatThrottles(t *testing.T) {
	statuses := []throttle.Status{{Name: "generative", Mode: throttle.ModeWindowed, Limit: 2, IntervalMs: 1000, Enabled: true, QueueSize: 3}}

	rendered, err := NewFormatter(FormatTable).FormatThrottles(statuses)
	require.NoError(t, err)
	require.Contains(t, rendered, "generative")
	require.Contains(t, rendered, "1s")

	rendered, err = NewFormatter(FormatMarkdown).FormatThrottles(statuses)
	require.NoError(t, err)
	require.Contains(t, rendered, "| generative | windowed | 2 | 1000 | true | 3 |")
}
