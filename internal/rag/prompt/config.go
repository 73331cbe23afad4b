package prompt

// Config describes a prompt definition loaded from Markdown with YAML
// frontmatter.
type Config struct {
	Slug        string     `yaml:"slug" json:"slug" validate:"required"`
	Name        string     `yaml:"name,omitempty" json:"name,omitempty"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string     `yaml:"version,omitempty" json:"version,omitempty"`
	Input       InputSpec  `yaml:"input,omitempty" json:"input,omitempty"`
	Template    string     `yaml:"template,omitempty" json:"template,omitempty" validate:"required"`
	Parameters  Parameters `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// InputSpec lists the variables a template uses.
type InputSpec struct {
	RequiredVariables []string `yaml:"required_variables,omitempty" json:"required_variables,omitempty"`
	OptionalVariables []string `yaml:"optional_variables,omitempty" json:"optional_variables,omitempty"`
}

// Parameters are decoding hints for the model.
type Parameters struct {
	DecodingMethod    string  `yaml:"decoding_method,omitempty" json:"decoding_method,omitempty" validate:"omitempty,oneof=greedy sample"`
	MaxNewTokens      int     `yaml:"max_new_tokens,omitempty" json:"max_new_tokens,omitempty" validate:"gte=0"`
	RepetitionPenalty float64 `yaml:"repetition_penalty,omitempty" json:"repetition_penalty,omitempty" validate:"gte=0"`
}

// Prompt wraps a validated prompt configuration with its source.
type Prompt struct {
	Config Config
	Source string
}
