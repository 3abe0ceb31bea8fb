package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anshumansp/concierge/internal/models"
	"github.com/anshumansp/concierge/internal/services"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// FormSender delivers a lead submission to the external form-relay API. A nil error
// means the API acknowledged the submission.
type FormSender interface {
	Submit(ctx context.Context, sub services.Submission) error
}

// Store persists the transcript and accepted leads. Implementations may rewrite
// record IDs on insert; the returned ID is the one to use for later updates.
type Store interface {
	AddMessage(ctx context.Context, conversationID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, conversationID string, message models.Message) error
	AddLead(ctx context.Context, lead models.Lead) (string, error)
}

// State is a point-in-time snapshot of a conversation, safe to hand to a rendering
// layer. Messages is a copy; mutating it does not affect the controller.
type State struct {
	Mode        models.Mode
	Messages    []models.Message
	IsStreaming bool
	Lead        models.LeadForm
}

// SuggestedQuestions are the prompts offered on the welcome screen before the first
// exchange.
var SuggestedQuestions = []string{
	"How can automation help my business?",
	"What does your process look like?",
}

const (
	streamFallbackContent = "I apologize, but I'm having trouble connecting right now. " +
		"Please email me directly at anshumansp16@gmail.com"
	leadFallbackContent = "I apologize, but there was an issue submitting your information. " +
		"Please email me directly at anshumansp16@gmail.com with your details."
)

// Controller owns the state of a single conversation: the ordered message list, the
// interaction mode, and the streaming gate. It mediates between visitor input, the
// chat relay, and the lead-capture submission. All methods are safe for concurrent
// use, though the streaming gate admits at most one in-flight exchange at a time.
type Controller struct {
	id       string
	relayURL string

	client *http.Client
	forms  FormSender
	store  Store

	logger   *slog.Logger
	onUpdate func()

	mu        sync.Mutex
	mode      models.Mode
	messages  []models.Message
	lead      models.LeadForm
	streaming bool

	decodeSkips atomic.Int64
}

// Options configures a Controller. RelayURL and Forms are required; Store, OnUpdate
// and HTTPClient are optional.
type Options struct {
	// ID identifies the conversation, used as the persistence key.
	ID string
	// RelayURL is the chat relay endpoint the controller posts visitor messages to.
	RelayURL string
	// Forms delivers lead submissions.
	Forms FormSender
	// Store, when set, persists the transcript and accepted leads.
	Store Store
	// HTTPClient is used for relay calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// New creates a Controller in the welcome mode with an empty transcript.
func New(opts Options, logger *slog.Logger) *Controller {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Controller{
		id:       opts.ID,
		relayURL: opts.RelayURL,
		client:   client,
		forms:    opts.Forms,
		store:    opts.Store,
		logger: logger.With(slog.String("module", "conversation"), slog.String("conversationID", opts.ID)),
		mode:   models.ModeWelcome,
	}
}

// SetOnUpdate registers a callback invoked after every observable state change.
// The rendering layer uses this to push transcript updates to subscribers; the
// controller itself never depends on a renderer. Not safe to call once the
// conversation is in use.
func (c *Controller) SetOnUpdate(fn func()) {
	c.onUpdate = fn
}

// ID returns the conversation identifier.
func (c *Controller) ID() string {
	return c.id
}

// Snapshot returns a copy of the current conversation state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]models.Message, len(c.messages))
	copy(msgs, c.messages)
	return State{
		Mode:        c.mode,
		Messages:    msgs,
		IsStreaming: c.streaming,
		Lead:        c.lead,
	}
}

// DecodeSkips reports how many malformed stream frames have been dropped over the
// lifetime of the conversation. Skips are non-fatal; the counter exists so the
// behavior is observable instead of genuinely silent.
func (c *Controller) DecodeSkips() int64 {
	return c.decodeSkips.Load()
}

// SendMessage runs one full exchange: it appends the visitor message and an empty
// assistant placeholder, posts the text to the relay, and accumulates streamed
// fragments into the placeholder in arrival order until the [DONE] sentinel. The
// call is a no-op when text is blank or an exchange is already in flight. It blocks
// until the stream terminates; callers wanting fire-and-forget run it in a
// goroutine.
//
// Any stream termination without the sentinel, including a non-OK relay status,
// replaces the assistant content wholesale with a fallback directing the visitor to
// a direct contact channel. There is no automatic retry.
func (c *Controller) SendMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if text == "" || c.streaming {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	userMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: now,
	}
	assistantMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: now,
	}
	c.messages = append(c.messages, userMsg, assistantMsg)
	// The placeholder index doubles as the exchange check for ShowActions: the
	// second exchange onwards lands at index >= 2.
	assistantIdx := len(c.messages) - 1
	c.mode = Transition(c.mode, EventSend)
	c.streaming = true
	c.mu.Unlock()

	c.persistNew(ctx, assistantIdx-1)
	c.persistNew(ctx, assistantIdx)
	c.notify()

	c.stream(ctx, text, assistantIdx)
}

func (c *Controller) stream(ctx context.Context, text string, assistantIdx int) {
	body, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		c.fail(ctx, assistantIdx, fmt.Errorf("error marshaling request: %w", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(body))
	if err != nil {
		c.fail(ctx, assistantIdx, fmt.Errorf("error creating request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.fail(ctx, assistantIdx, fmt.Errorf("error sending request: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.fail(ctx, assistantIdx, fmt.Errorf("unexpected status code %d", resp.StatusCode))
		return
	}

	sawSentinel := false
	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			c.fail(ctx, assistantIdx, fmt.Errorf("error reading stream: %w", err))
			return
		}

		if ev.Data == "[DONE]" {
			sawSentinel = true
			break
		}

		var frame struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &frame); err != nil {
			c.decodeSkips.Add(1)
			continue
		}
		if frame.Content == "" {
			continue
		}

		c.mu.Lock()
		c.messages[assistantIdx].Content += frame.Content
		c.mu.Unlock()
		c.notify()
	}

	// The sentinel is the only positive completion signal; a stream that merely
	// stops is treated the same as one that errored.
	if !sawSentinel {
		c.fail(ctx, assistantIdx, fmt.Errorf("stream ended without sentinel"))
		return
	}

	c.mu.Lock()
	cleared := c.clearActionsLocked()
	if assistantIdx >= 2 {
		c.messages[assistantIdx].ShowActions = true
	}
	c.streaming = false
	final := c.messages[assistantIdx]
	c.mu.Unlock()

	for _, msg := range cleared {
		c.persistUpdate(ctx, msg)
	}
	c.persistUpdate(ctx, final)
	c.notify()
}

// clearActionsLocked drops the follow-up affordance from every message so that at
// most one assistant message, the most recent completed one, carries it. Returns
// the messages that changed so callers can persist them. Callers must hold c.mu.
func (c *Controller) clearActionsLocked() []models.Message {
	var changed []models.Message
	for i := range c.messages {
		if c.messages[i].ShowActions {
			c.messages[i].ShowActions = false
			changed = append(changed, c.messages[i])
		}
	}
	return changed
}

func (c *Controller) fail(ctx context.Context, assistantIdx int, err error) {
	c.logger.Error("Exchange failed", slog.String("err", err.Error()))

	c.mu.Lock()
	cleared := c.clearActionsLocked()
	c.messages[assistantIdx].Content = streamFallbackContent
	c.streaming = false
	final := c.messages[assistantIdx]
	c.mu.Unlock()

	for _, msg := range cleared {
		c.persistUpdate(ctx, msg)
	}
	c.persistUpdate(ctx, final)
	c.notify()
}

// OpenLeadForm switches the conversation into lead-capture mode.
func (c *Controller) OpenLeadForm() {
	c.mu.Lock()
	c.mode = Transition(c.mode, EventOpenLeadForm)
	c.mu.Unlock()
	c.notify()
}

// CancelLeadForm dismisses the lead form and returns to conversing, discarding any
// fields entered so far.
func (c *Controller) CancelLeadForm() {
	c.mu.Lock()
	c.mode = Transition(c.mode, EventCancelLeadForm)
	c.lead = models.LeadForm{}
	c.mu.Unlock()
	c.notify()
}

// SubmitLead packages the full transcript together with the structured contact
// fields and posts them to the forms API. On success a personalized confirmation is
// appended to the transcript; on failure a fixed apology is appended instead. Either
// way the lead form is exited and its fields are discarded, matching the observed
// behavior of the widget this replaces.
func (c *Controller) SubmitLead(ctx context.Context, form models.LeadForm) {
	c.mu.Lock()
	c.lead = form
	transcript := renderTranscript(c.messages)
	c.mu.Unlock()

	sub := services.Submission{
		Name:    form.Name,
		Email:   form.Email,
		Subject: fmt.Sprintf("New Lead: %s - %s", form.Company, form.Timeline),
		Message: leadEmailBody(form, transcript),
	}

	err := c.forms.Submit(ctx, sub)

	now := time.Now()
	c.mu.Lock()
	// The confirmation becomes the most recent assistant message, so the
	// follow-up affordance moves off whichever reply carried it.
	cleared := c.clearActionsLocked()
	if err != nil {
		c.logger.Error("Lead submission failed", slog.String("err", err.Error()))
		c.messages = append(c.messages, models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Content:   leadFallbackContent,
			Timestamp: now,
		})
		c.mode = Transition(c.mode, EventLeadFailed)
	} else {
		c.messages = append(c.messages, models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Content:   thankYouContent(form),
			Timestamp: now,
		})
		c.mode = Transition(c.mode, EventLeadSubmitted)
	}
	c.lead = models.LeadForm{}
	confirmationIdx := len(c.messages) - 1
	c.mu.Unlock()

	for _, msg := range cleared {
		c.persistUpdate(ctx, msg)
	}
	c.persistNew(ctx, confirmationIdx)
	if err == nil && c.store != nil {
		lead := models.Lead{
			ID:             uuid.New().String(),
			ConversationID: c.id,
			Form:           form,
			SubmittedAt:    now,
		}
		if _, err := c.store.AddLead(ctx, lead); err != nil {
			c.logger.Error("Failed to persist lead", slog.String("err", err.Error()))
		}
	}
	c.notify()
}

func renderTranscript(messages []models.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		label := "AI"
		if msg.Role == models.RoleUser {
			label = "Visitor"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, msg.Content))
	}
	return strings.Join(lines, "\n\n")
}

func leadEmailBody(form models.LeadForm, transcript string) string {
	return fmt.Sprintf(`NEW LEAD FROM AI CHATBOT
========================

CONTACT INFORMATION:
--------------------
Name: %s
Email: %s
Company: %s
Budget Range: %s
Timeline: %s

CONVERSATION TRANSCRIPT:
------------------------
%s

===========================
Sent from: AI Automation Chatbot
Time: %s`,
		form.Name, form.Email, form.Company, form.Budget, form.Timeline,
		transcript, time.Now().Format("1/2/2006, 3:04:05 PM"))
}

func thankYouContent(form models.LeadForm) string {
	return fmt.Sprintf("Thank you, %s!\n\nI've received your information and conversation details. "+
		"I'll review our chat and get back to you within 24 hours at %s.\n\n"+
		"Looking forward to discussing how we can transform your business with AI automation!",
		form.Name, form.Email)
}

// persistNew stores the message at the given index and adopts the ID assigned by
// the store, so later updates address the stored record.
func (c *Controller) persistNew(ctx context.Context, idx int) {
	if c.store == nil {
		return
	}

	c.mu.Lock()
	msg := c.messages[idx]
	c.mu.Unlock()

	storedID, err := c.store.AddMessage(ctx, c.id, msg)
	if err != nil {
		c.logger.Error("Failed to persist message", slog.String("err", err.Error()))
		return
	}

	c.mu.Lock()
	if c.messages[idx].ID == msg.ID {
		c.messages[idx].ID = storedID
	}
	c.mu.Unlock()
}

func (c *Controller) persistUpdate(ctx context.Context, msg models.Message) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdateMessage(ctx, c.id, msg); err != nil {
		c.logger.Error("Failed to update message", slog.String("err", err.Error()))
	}
}

func (c *Controller) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}
