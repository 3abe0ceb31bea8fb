package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	concierge "github.com/anshumansp/concierge"
	"github.com/anshumansp/concierge/internal/conversation"
	"github.com/anshumansp/concierge/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// Store defines the persistence surface for the widget server. It covers the
// conversation registry, per-conversation transcripts, and accepted leads. The
// interface supports both atomic operations and bulk retrieval.
type Store interface {
	AddConversation(ctx context.Context, conv models.Conversation) (string, error)

	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	AddMessage(ctx context.Context, conversationID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, conversationID string, message models.Message) error

	AddLead(ctx context.Context, lead models.Lead) (string, error)
}

// Main handles the chat widget: it serves the widget page, drives a conversation
// controller per visitor, and pushes rendered transcript updates to the browser
// over server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	relayURL    string
	relayClient *http.Client
	forms       conversation.FormSender
	store       Store

	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]*conversation.Controller
}

var messagesSSEType = sse.Type("messages")

// NewMain creates a new Main instance. relayURL is the address of the chat relay
// endpoint the controllers post to; forms delivers lead submissions; store persists
// transcripts and may be nil in tests. It parses the required HTML templates from
// the embedded filesystem and configures the SSE server so each client subscribes
// to its own conversation topic.
func NewMain(relayURL string, forms conversation.FormSender, store Store, logger *slog.Logger) (*Main, error) {
	tmpl, err := template.ParseFS(
		concierge.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, err
	}

	return &Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				// Clients subscribe only to the conversation they are viewing.
				conversationID := s.Req.URL.Query().Get("conversation_id")
				if conversationID != "" {
					topics = append(topics, conversationTopic(conversationID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:     tmpl,
		relayURL:      relayURL,
		relayClient:   http.DefaultClient,
		forms:         forms,
		store:         store,
		logger:        logger.With(slog.String("module", "handlers")),
		conversations: make(map[string]*conversation.Controller),
	}, nil
}

func conversationTopic(conversationID string) string {
	return fmt.Sprintf("conversation-%s", conversationID)
}

// HandleSSE serves the server-sent events endpoint clients use to receive live
// transcript updates.
func (m *Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close message to
// all connected clients and waits up to 5 seconds for connections to terminate.
func (m *Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// The SSE spec requires data on every message, even a goodbye.
	e.AppendData("bye")

	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

type viewMessage struct {
	ID          string
	Role        string
	Content     string
	HTML        template.HTML
	ShowActions bool
	Timestamp   time.Time
}

type homePageData struct {
	ConversationID     string
	Mode               models.Mode
	IsStreaming        bool
	Messages           []viewMessage
	SuggestedQuestions []string
}

// HandleHome serves the widget page. With a conversation_id query parameter it
// renders the current state of that conversation; a conversation that is no longer
// live (for example after a restart) is rendered read-only from the store.
func (m *Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	data := homePageData{
		Mode:               models.ModeWelcome,
		SuggestedQuestions: conversation.SuggestedQuestions,
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID != "" {
		data.ConversationID = conversationID
		if ctrl := m.controller(conversationID); ctrl != nil {
			state := ctrl.Snapshot()
			data.Mode = state.Mode
			data.IsStreaming = state.IsStreaming
			data.Messages = m.renderMessages(state.Messages)
		} else if m.store != nil {
			messages, err := m.store.Messages(r.Context(), conversationID)
			if err != nil {
				m.logger.Error("Failed to load messages",
					slog.String("conversationID", conversationID),
					slog.String("err", err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if len(messages) > 0 {
				data.Mode = models.ModeConversing
				data.Messages = m.renderMessages(messages)
			}
		}
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChats accepts a visitor message through a form POST and starts an exchange
// on the matching conversation, creating the conversation first when the visitor
// has none. The exchange itself runs asynchronously; the response carries the
// chatbox shell whose transcript is then filled over SSE.
func (m *Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	conversationID := r.FormValue("conversation_id")
	var ctrl *conversation.Controller
	if conversationID == "" {
		var err error
		ctrl, err = m.newConversation(r.Context())
		if err != nil {
			m.logger.Error("Failed to create conversation", slog.String("err", err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		ctrl = m.controller(conversationID)
		if ctrl == nil {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
	}

	go ctrl.SendMessage(context.Background(), msg)

	m.renderChatbox(w, ctrl)
}

// HandleLeadOpen switches the conversation into lead-capture mode and renders the
// lead form in place of the compose area.
func (m *Main) HandleLeadOpen(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := m.leadController(w, r)
	if !ok {
		return
	}

	ctrl.OpenLeadForm()
	m.renderChatbox(w, ctrl)
}

// HandleLeadCancel dismisses the lead form, discarding any entered fields.
func (m *Main) HandleLeadCancel(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := m.leadController(w, r)
	if !ok {
		return
	}

	ctrl.CancelLeadForm()
	m.renderChatbox(w, ctrl)
}

// HandleLeadSubmit packages the structured contact fields with the transcript and
// submits them. Name, email and company are required; the widget disables the
// submit button until they are filled, so a missing field here is a malformed
// request rather than a validation flow.
func (m *Main) HandleLeadSubmit(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := m.leadController(w, r)
	if !ok {
		return
	}

	form := models.LeadForm{
		Name:     r.FormValue("name"),
		Email:    r.FormValue("email"),
		Company:  r.FormValue("company"),
		Budget:   r.FormValue("budget"),
		Timeline: r.FormValue("timeline"),
	}
	if !form.Complete() {
		http.Error(w, "Name, email and company are required", http.StatusBadRequest)
		return
	}

	ctrl.SubmitLead(r.Context(), form)

	m.renderChatbox(w, ctrl)
}

func (m *Main) leadController(w http.ResponseWriter, r *http.Request) (*conversation.Controller, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	ctrl := m.controller(r.FormValue("conversation_id"))
	if ctrl == nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return nil, false
	}
	return ctrl, true
}

func (m *Main) newConversation(ctx context.Context) (*conversation.Controller, error) {
	conv := models.Conversation{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}

	if m.store != nil {
		newID, err := m.store.AddConversation(ctx, conv)
		if err != nil {
			return nil, fmt.Errorf("failed to add conversation: %w", err)
		}
		conv.ID = newID
	}

	var store conversation.Store
	if m.store != nil {
		store = m.store
	}

	ctrl := conversation.New(conversation.Options{
		ID:         conv.ID,
		RelayURL:   m.relayURL,
		Forms:      m.forms,
		Store:      store,
		HTTPClient: m.relayClient,
	}, m.logger)
	ctrl.SetOnUpdate(func() { m.publish(ctrl) })

	m.mu.Lock()
	m.conversations[conv.ID] = ctrl
	m.mu.Unlock()

	return ctrl, nil
}

func (m *Main) controller(conversationID string) *conversation.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations[conversationID]
}

// publish renders the conversation's transcript and pushes it to subscribers of the
// conversation topic.
func (m *Main) publish(ctrl *conversation.Controller) {
	html, err := m.renderChatboxString(ctrl)
	if err != nil {
		m.logger.Error("Failed to render chatbox",
			slog.String("conversationID", ctrl.ID()),
			slog.String("err", err.Error()))
		return
	}

	msg := sse.Message{Type: messagesSSEType}
	msg.AppendData(html)

	if err := m.sseSrv.Publish(&msg, conversationTopic(ctrl.ID())); err != nil {
		m.logger.Error("Failed to publish messages",
			slog.String("conversationID", ctrl.ID()),
			slog.String("err", err.Error()))
	}
}

func (m *Main) chatboxData(ctrl *conversation.Controller) homePageData {
	state := ctrl.Snapshot()
	return homePageData{
		ConversationID:     ctrl.ID(),
		Mode:               state.Mode,
		IsStreaming:        state.IsStreaming,
		Messages:           m.renderMessages(state.Messages),
		SuggestedQuestions: conversation.SuggestedQuestions,
	}
}

func (m *Main) renderChatbox(w http.ResponseWriter, ctrl *conversation.Controller) {
	if err := m.templates.ExecuteTemplate(w, "chatbox", m.chatboxData(ctrl)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m *Main) renderChatboxString(ctrl *conversation.Controller) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "chatbox", m.chatboxData(ctrl)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (m *Main) renderMessages(messages []models.Message) []viewMessage {
	vms := make([]viewMessage, 0, len(messages))
	for _, msg := range messages {
		vm := viewMessage{
			ID:          msg.ID,
			Role:        string(msg.Role),
			Content:     msg.Content,
			ShowActions: msg.ShowActions,
			Timestamp:   msg.Timestamp,
		}
		if msg.Role == models.RoleAssistant && msg.Content != "" {
			html, err := models.RenderContent(msg.Content)
			if err != nil {
				m.logger.Error("Failed to render content",
					slog.String("messageID", msg.ID),
					slog.String("err", err.Error()))
			} else {
				vm.HTML = html
			}
		}
		vms = append(vms, vm)
	}
	return vms
}
