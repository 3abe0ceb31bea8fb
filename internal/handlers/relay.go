package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/anshumansp/concierge/internal/models"
)

// LLM represents a hosted language model that provides streaming chat completions.
// It accepts a context and a sequence of messages, returning an iterator that yields
// response fragments and potential errors. Implementations insert the persona system
// prompt themselves.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// Relay is the stateless endpoint that proxies a single visitor message to the
// hosted model and re-emits the model's output as a live event stream. Each request
// is independent: the relay holds exactly one upstream stream and one downstream
// stream per request and pipes fragments through in arrival order, with no
// buffering of the whole response.
type Relay struct {
	llm LLM

	logger *slog.Logger
}

// NewRelay creates a Relay backed by the given model. A nil llm marks the relay as
// unconfigured; requests are then rejected with a service error before any upstream
// call, which is how a missing API credential surfaces at this endpoint.
func NewRelay(llm LLM, logger *slog.Logger) Relay {
	return Relay{
		llm:    llm,
		logger: logger.With(slog.String("module", "relay")),
	}
}

type relayRequest struct {
	Message string `json:"message"`
}

type relayFrame struct {
	Content string `json:"content"`
}

// HandleChat processes a chat relay request. It expects a JSON body with a
// non-empty "message" field and responds with a text/event-stream body of
// `data: {"content": ...}` frames followed by the `data: [DONE]` sentinel.
//
// Failures before the first fragment produce a JSON error body with a matching
// status code. Failures after streaming has begun terminate the stream without the
// sentinel; clients must treat any stream that ends without the sentinel as
// abnormal.
func (r Relay) HandleChat(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body relayRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "Message is required")
		return
	}

	if r.llm == nil {
		r.logger.Error("Model API key not configured")
		writeJSONError(w, http.StatusInternalServerError, "AI service not configured")
		return
	}

	messages := []models.Message{
		{
			Role:    models.RoleUser,
			Content: body.Message,
		},
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		r.logger.Error("Response writer does not support streaming")
		writeJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	streaming := false
	for fragment, err := range r.llm.Chat(req.Context(), messages) {
		if err != nil {
			if !streaming {
				r.logger.Error("Model request failed", slog.String("err", err.Error()))
				writeJSONError(w, http.StatusInternalServerError,
					"Failed to get AI response. Please try again.")
				return
			}
			// Mid-stream failure: terminate without the sentinel so the client
			// sees the truncation instead of a false completion.
			r.logger.Error("Model stream failed", slog.String("err", err.Error()))
			return
		}
		if fragment == "" {
			continue
		}

		if !streaming {
			startEventStream(w)
			streaming = true
		}

		data, err := json.Marshal(relayFrame{Content: fragment})
		if err != nil {
			r.logger.Error("Failed to marshal frame", slog.String("err", err.Error()))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	if !streaming {
		startEventStream(w)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func startEventStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
