package output

import (
	"encoding/json"

	"github.com/docpilot/docpilot/internal/rag"
	"github.com/docpilot/docpilot/internal/throttle"
	"github.com/docpilot/docpilot/internal/watsonx/discovery"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatAnswer(result *rag.GenerateResult) (string, error) {
	return f.marshal(result)
}

func (f *JSONFormatter) FormatCollections(collections []discovery.Collection) (string, error) {
	if collections == nil {
		collections = []discovery.Collection{}
	}
	return f.marshal(map[string]any{
		"collections": collections,
		"count":       len(collections),
	})
}

func (f *JSONFormatter) FormatDocuments(list *rag.DocumentList) (string, error) {
	if list == nil {
		list = &rag.DocumentList{Documents: []rag.DocumentSummary{}}
	}
	return f.marshal(list)
}

func (f *JSONFormatter) FormatUpload(result *rag.AddDocumentResult) (string, error) {
	return f.marshal(result)
}

func (f *JSONFormatter) FormatQuery(result *rag.QueryResult) (string, error) {
	return f.marshal(result)
}

func (f *JSONFormatter) FormatThrottles(statuses []throttle.Status) (string, error) {
	if statuses == nil {
		statuses = []throttle.Status{}
	}
	return f.marshal(map[string]any{"limiters": statuses})
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
