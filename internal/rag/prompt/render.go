package prompt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Render substitutes {{name}} placeholders with vars. Every required
// variable must be present.
func (p *Prompt) Render(vars map[string]string) (string, error) {
	if p == nil {
		return "", errors.New("prompt is required")
	}
	for _, name := range p.Config.Input.RequiredVariables {
		if _, ok := vars[name]; !ok {
			return "", fmt.Errorf("prompt %s: missing variable %q", p.Config.Slug, name)
		}
	}
	return applyVars(p.Config.Template, vars), nil
}

// Overhead is the template length in characters, placeholders included. It is
// what the template costs against a model's input budget.
func (p *Prompt) Overhead() int {
	if p == nil {
		return 0
	}
	return utf8.RuneCountInString(p.Config.Template)
}

func applyVars(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
