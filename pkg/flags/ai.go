package flags

import (
	"github.com/spf13/pflag"

	"github.com/roamerhq/roamer/pkg/ai"
)

// AIFlags configures the plan-generation model. With no endpoint set the
// worker runs rule-based planning only.
type AIFlags struct {
	Endpoint string
	Model    string
}

func NewAIFlags() *AIFlags {
	return &AIFlags{}
}

func (f *AIFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Endpoint, "ai-endpoint", "", "URL for an OpenAI-compatible endpoint. Set OPENAI_API_KEY to specify an API key.")
	fs.StringVar(&f.Model, "ai-model", "meta-llama/Llama-3.1-8B-Instruct", "The model used to generate trip plans")
}

// GetLLMClient returns the chat client, or nil when no endpoint is
// configured.
func (f *AIFlags) GetLLMClient() *ai.LLMClient {
	if f.Endpoint == "" {
		return nil
	}
	return ai.NewLLMClient(f.Endpoint, f.Model)
}
