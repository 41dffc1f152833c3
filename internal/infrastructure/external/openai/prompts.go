package openai

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// PromptConfig holds the extraction prompt and model parameters. It is
// compiled into the binary and never takes caller input.
type PromptConfig struct {
	InvoiceExtraction struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
		System      string  `yaml:"system"`
		User        string  `yaml:"user"`
	} `yaml:"invoice_extraction"`
}

// LoadPrompts parses the embedded prompt configuration
func LoadPrompts() (*PromptConfig, error) {
	var prompts PromptConfig
	if err := yaml.Unmarshal(promptsYAML, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}
	if prompts.InvoiceExtraction.System == "" || prompts.InvoiceExtraction.User == "" {
		return nil, fmt.Errorf("extraction prompt is empty")
	}
	return &prompts, nil
}
