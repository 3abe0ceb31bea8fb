package services

// Parameters holds the sampling configuration shared by the LLM providers. The
// defaults match the persona tuning used in production: a slightly warm temperature,
// a hard output cap that keeps answers short, and plain nucleus sampling.
type Parameters struct {
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
	TopP        float32 `yaml:"topP"`
}

// DefaultParameters returns the sampling parameters used when the configuration
// leaves them unset.
func DefaultParameters() Parameters {
	return Parameters{
		Temperature: 0.8,
		MaxTokens:   300,
		TopP:        1.0,
	}
}

func (p Parameters) withDefaults() Parameters {
	def := DefaultParameters()
	if p.Temperature == 0 {
		p.Temperature = def.Temperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = def.MaxTokens
	}
	if p.TopP == 0 {
		p.TopP = def.TopP
	}
	return p
}
