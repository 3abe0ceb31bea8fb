package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Web3Forms delivers lead submissions to the Web3Forms API, which forwards them as
// email. The API is treated as opaque: form-encoded fields in, a boolean success
// acknowledgment out.
type Web3Forms struct {
	accessKey string
	endpoint  string

	client *http.Client

	logger *slog.Logger
}

// Submission is a single set of fields sent to the forms API. The Botcheck honeypot
// is always submitted empty; a filled value marks the submission as spam upstream.
type Submission struct {
	Name    string
	Email   string
	Subject string
	Message string
}

type web3FormsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

const web3FormsEndpoint = "https://api.web3forms.com/submit"

// ErrNotConfigured is returned by Submit when no access key is configured.
var ErrNotConfigured = errors.New("forms access key is not configured")

// NewWeb3Forms creates a new Web3Forms instance with the specified access key. An
// empty access key degrades Submit into returning ErrNotConfigured, which callers
// surface as a submission failure rather than a startup error.
func NewWeb3Forms(accessKey string, logger *slog.Logger) Web3Forms {
	return Web3Forms{
		accessKey: accessKey,
		endpoint:  web3FormsEndpoint,
		client:    &http.Client{},
		logger:    logger.With(slog.String("module", "web3forms")),
	}
}

// Submit posts the submission to the forms API and returns an error unless the API
// acknowledges success.
func (w Web3Forms) Submit(ctx context.Context, sub Submission) error {
	if w.accessKey == "" {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("access_key", w.accessKey)
	form.Set("name", sub.Name)
	form.Set("email", sub.Email)
	form.Set("subject", sub.Subject)
	form.Set("message", sub.Message)
	form.Set("botcheck", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	var res web3FormsResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}

	if !res.Success {
		w.logger.Error("Submission rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("message", res.Message))
		if res.Message == "" {
			res.Message = "failed to submit"
		}
		return fmt.Errorf("submission rejected: %s", res.Message)
	}

	return nil
}
