package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/anshumansp/concierge/internal/handlers"
	"github.com/anshumansp/concierge/internal/services"
	"gopkg.in/yaml.v3"
)

// defaultSystemPrompt is the persona the relay enforces on every exchange. Answers
// stay short, sound human, and always end with a follow-up question.
const defaultSystemPrompt = `You are Anshuman's AI assistant - conversational, helpful, and authentic.

ABOUT ANSHUMAN:
- AI automation specialist (5+ years)
- Built: TATVA, Aarambh, CrownKing
- Focus: Affordable, scalable solutions
- Contact: anshumansp16@gmail.com

YOUR STYLE:
Talk like texting a friend - short, natural, genuine. NO corporate speak. NO long paragraphs.

RESPONSE FORMAT:
1-2 short sentences max, then ask a question.

EXAMPLES:

User: "Can you help automate my business?"
You: "Absolutely! I help businesses automate repetitive tasks to save time and money. What's eating up most of your team's time right now?"

User: "What's your pricing?"
You: "Projects usually run $5K-$30K depending on complexity. I'm flexible with startups though. What kind of automation are you thinking about?"

RULES:
- Keep it SHORT - 1-2 sentences max
- Sound human, not robotic
- Always ask a follow-up question
- No bullet points unless they ask for details
- Be direct and helpful
- Never oversell

Maximum response length: 2-3 sentences + question. That's it.`

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port           string    `yaml:"port"`
	SystemPrompt   string    `yaml:"systemPrompt"`
	StorePath      string    `yaml:"storePath"`
	FormsAccessKey string    `yaml:"formsAccessKey"`
	LLM            llmConfig `yaml:"llm"`
}

type groqConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string              `yaml:"apiKey"`
	Parameters    services.Parameters `yaml:"parameters"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string              `yaml:"apiKey"`
	Parameters    services.Parameters `yaml:"parameters"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string         `yaml:"port"`
		SystemPrompt   string         `yaml:"systemPrompt"`
		StorePath      string         `yaml:"storePath"`
		FormsAccessKey string         `yaml:"formsAccessKey"`
		LLM            map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.SystemPrompt = rawConfig.SystemPrompt
	c.StorePath = rawConfig.StorePath
	c.FormsAccessKey = rawConfig.FormsAccessKey

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "groq":
		llm = &groqConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm
	return nil
}

// loadConfig reads the YAML configuration from path and fills in defaults. A
// missing file is not an error: secrets can come entirely from the environment, so
// the zero config with defaults applied is a valid deployment.
func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "concierge.db"
	}
	if cfg.FormsAccessKey == "" {
		cfg.FormsAccessKey = os.Getenv("WEB3FORMS_ACCESS_KEY")
	}
	if cfg.LLM == nil {
		cfg.LLM = &groqConfig{}
	}

	return cfg, nil
}

func (g groqConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	model := g.Model
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}

	apiKey := g.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if apiKey == "" {
		// The relay rejects requests itself when no model is wired up; starting
		// without a key keeps the rest of the site working.
		return nil, nil
	}

	return services.NewGroq(apiKey, model, systemPrompt, g.Parameters, logger), nil
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, nil
	}

	return services.NewOpenAI(apiKey, o.Model, systemPrompt, o.Parameters, logger), nil
}

func (o ollamaConfig) llm(systemPrompt string, _ *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt), nil
}
