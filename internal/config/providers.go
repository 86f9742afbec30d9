package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is one entry of the LLM provider catalogue.
type ProviderConfig struct {
	ID            string  `yaml:"id"`
	Shape         string  `yaml:"shape"`
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	Endpoint      string  `yaml:"endpoint"`
	Stream        bool    `yaml:"stream"`
	CredentialEnv string  `yaml:"credential_env"`
	APIKey        string  `yaml:"-"`
}

// DefaultProviders returns the built-in catalogue.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID: "deepseek", Shape: "openai", Model: "deepseek-chat",
			Temperature: 0.7, MaxTokens: 2048, Stream: true,
			Endpoint:      "https://api.deepseek.com/chat/completions",
			CredentialEnv: "DEEPSEEK_API_KEY",
		},
		{
			ID: "openai", Shape: "openai", Model: "gpt-4o-mini",
			Temperature: 0.7, MaxTokens: 2048, Stream: true,
			Endpoint:      "https://api.openai.com/v1/chat/completions",
			CredentialEnv: "OPENAI_API_KEY",
		},
		{
			ID: "qwen", Shape: "openai", Model: "qwen-plus",
			Temperature: 0.7, MaxTokens: 2048, Stream: false,
			Endpoint:      "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions",
			CredentialEnv: "QWEN_API_KEY",
		},
		{
			ID: "anthropic", Shape: "anthropic", Model: "claude-3-5-haiku-latest",
			Temperature: 0.7, MaxTokens: 2048, Stream: true,
			Endpoint:      "https://api.anthropic.com/v1/messages",
			CredentialEnv: "ANTHROPIC_API_KEY",
		},
	}
}

type catalogueFile struct {
	Providers []yaml.Node `yaml:"providers"`
}

// LoadProviderCatalogue reads a YAML catalogue and merges it over base.
// Entries matching an existing id override only the fields they set; new ids
// are appended.
//
//	providers:
//	  - id: openai
//	    model: gpt-4o
//	  - id: local
//	    shape: openai
//	    endpoint: http://localhost:11434/v1/chat/completions
func LoadProviderCatalogue(path string, base []ProviderConfig) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider catalogue: %w", err)
	}
	return parseProviderCatalogue(data, base)
}

func parseProviderCatalogue(data []byte, base []ProviderConfig) ([]ProviderConfig, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing provider catalogue: %w", err)
	}

	out := make([]ProviderConfig, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.ID] = i
	}

	for n := range file.Providers {
		node := &file.Providers[n]
		var head struct {
			ID string `yaml:"id"`
		}
		if err := node.Decode(&head); err != nil {
			return nil, fmt.Errorf("provider entry %d: %w", n, err)
		}
		if head.ID == "" {
			return nil, fmt.Errorf("provider entry %d: id is required", n)
		}

		if i, ok := index[head.ID]; ok {
			// Decoding into the existing entry leaves unset fields untouched.
			if err := node.Decode(&out[i]); err != nil {
				return nil, fmt.Errorf("provider %s: %w", head.ID, err)
			}
			continue
		}

		p := ProviderConfig{Temperature: 0.7, MaxTokens: 2048, Shape: "openai"}
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("provider %s: %w", head.ID, err)
		}
		if p.CredentialEnv == "" {
			p.CredentialEnv = strings.ToUpper(strings.ReplaceAll(p.ID, "-", "_")) + "_API_KEY"
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	return out, nil
}
