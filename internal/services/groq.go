package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"

	"github.com/anshumansp/concierge/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Groq provides an implementation of the LLM interface for interacting with Groq's
// hosted language models. Groq speaks the OpenAI chat completion wire protocol, so
// the request and streaming response shapes mirror that API.
type Groq struct {
	apiKey       string
	model        string
	systemPrompt string
	endpoint     string

	params Parameters

	client *http.Client

	logger *slog.Logger
}

type groqChatRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float32       `json:"top_p"`
	Stream      bool          `json:"stream"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqStreamingResponse struct {
	Choices []groqStreamingChoice `json:"choices"`
}

type groqStreamingChoice struct {
	Delta groqMessage `json:"delta"`
}

const groqAPIEndpoint = "https://api.groq.com/openai/v1"

// NewGroq creates a new Groq instance with the specified API key, model name, and
// system prompt. Sampling parameters left at their zero value fall back to the
// defaults in DefaultParameters.
func NewGroq(apiKey, model, systemPrompt string, params Parameters, logger *slog.Logger) Groq {
	return Groq{
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		endpoint:     groqAPIEndpoint,
		params:       params.withDefaults(),
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "groq")),
	}
}

// Chat streams completion fragments from the Groq API for the given conversation.
// The system prompt is always inserted ahead of the supplied messages. The returned
// iterator yields text fragments in arrival order; a request or stream failure is
// yielded as the final error. Cancelling the context stops the stream silently.
func (g Groq) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]groqMessage, len(messages))
		for i, msg := range messages {
			msgs[i] = groqMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			}
		}
		msgs = slices.Insert(msgs, 0, groqMessage{
			Role:    "system",
			Content: g.systemPrompt,
		})

		reqBody := groqChatRequest{
			Model:       g.model,
			Messages:    msgs,
			Temperature: g.params.Temperature,
			MaxTokens:   g.params.MaxTokens,
			TopP:        g.params.TopP,
			Stream:      true,
		}

		body, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}
		g.logger.Debug("Request", slog.String("req", string(body)))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			g.endpoint+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.apiKey)

		resp, err := g.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, msg))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}

			if ev.Data == "[DONE]" {
				break
			}

			var res groqStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield("", fmt.Errorf("error unmarshaling response: %w", err))
				return
			}

			if len(res.Choices) == 0 {
				continue
			}

			if content := res.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
	}
}
