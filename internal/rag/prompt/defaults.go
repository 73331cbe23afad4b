package prompt

import (
	"embed"
	"fmt"
)

// DefaultSlug names the prompt used when none is configured.
const DefaultSlug = "rag-answer"

//go:embed prompts/*.md
var defaultPromptsFS embed.FS

// LoadDefaults loads the embedded prompt set.
func LoadDefaults() ([]*Prompt, error) {
	entries, err := defaultPromptsFS.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("read embedded prompts: %w", err)
	}
	results := make([]*Prompt, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := defaultPromptsFS.ReadFile("prompts/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read embedded prompt %s: %w", entry.Name(), err)
		}
		prompt, err := Load(entry.Name(), data)
		if err != nil {
			return nil, err
		}
		results = append(results, prompt)
	}
	return results, nil
}

// DefaultRegistry builds a registry from embedded prompts, with prompts from
// dir (if set) replacing embedded ones of the same slug.
func DefaultRegistry(dir string) (*InMemoryRegistry, error) {
	prompts, err := LoadDefaults()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return NewRegistry(prompts)
	}

	overrides, err := LoadFromDir(dir)
	if err != nil {
		return nil, err
	}
	bySlug := make(map[string]int, len(prompts))
	for i, p := range prompts {
		bySlug[p.Config.Slug] = i
	}
	for _, p := range overrides {
		if i, ok := bySlug[p.Config.Slug]; ok {
			prompts[i] = p
			continue
		}
		prompts = append(prompts, p)
	}
	return NewRegistry(prompts)
}
