package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anshumansp/concierge/internal/handlers"
	"github.com/anshumansp/concierge/internal/models"
	"github.com/anshumansp/concierge/internal/services"
)

type mockForms struct {
	err         error
	submissions []services.Submission
}

func (m *mockForms) Submit(_ context.Context, sub services.Submission) error {
	m.submissions = append(m.submissions, sub)
	return m.err
}

type mockStore struct {
	messagesErr error

	mu       sync.Mutex
	messages map[string][]models.Message
	leads    []models.Lead
}

func (m *mockStore) AddConversation(_ context.Context, conv models.Conversation) (string, error) {
	return conv.ID, nil
}

func (m *mockStore) Messages(_ context.Context, conversationID string) ([]models.Message, error) {
	if m.messagesErr != nil {
		return nil, m.messagesErr
	}
	return m.stored(conversationID), nil
}

func (m *mockStore) AddMessage(_ context.Context, conversationID string, message models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages == nil {
		m.messages = make(map[string][]models.Message)
	}
	m.messages[conversationID] = append(m.messages[conversationID], message)
	return message.ID, nil
}

func (m *mockStore) UpdateMessage(_ context.Context, conversationID string, message models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, stored := range m.messages[conversationID] {
		if stored.ID == message.ID {
			m.messages[conversationID][i] = message
		}
	}
	return nil
}

func (m *mockStore) AddLead(_ context.Context, lead models.Lead) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads = append(m.leads, lead)
	return lead.ID, nil
}

func (m *mockStore) stored(conversationID string) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]models.Message, len(m.messages[conversationID]))
	copy(msgs, m.messages[conversationID])
	return msgs
}

func (m *mockStore) storedLeads() []models.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	leads := make([]models.Lead, len(m.leads))
	copy(leads, m.leads)
	return leads
}

// stubRelay emits a short completed stream, the shape controllers expect from the
// chat relay endpoint.
func stubRelay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"Happy to help.\"}\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestMain(t *testing.T, relayURL string, forms *mockForms, store handlers.Store) *handlers.Main {
	t.Helper()
	m, err := handlers.NewMain(relayURL, forms, store, discardLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	return m
}

var conversationIDPattern = regexp.MustCompile(`data-conversation-id="([^"]+)"`)

// startChat posts a first message and returns the new conversation's ID.
func startChat(t *testing.T, m *handlers.Main, message string) string {
	t.Helper()

	form := url.Values{"message": {message}}
	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	m.HandleChats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HandleChats() status = %v, want %v; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	match := conversationIDPattern.FindStringSubmatch(w.Body.String())
	if match == nil {
		t.Fatalf("HandleChats() body has no conversation ID: %s", w.Body.String())
	}
	return match[1]
}

// waitForExchange blocks until the store holds at least n messages for the
// conversation and the last of them has been filled in, i.e. the asynchronous
// exchange has completed.
func waitForExchange(t *testing.T, store *mockStore, conversationID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		messages := store.stored(conversationID)
		if len(messages) >= n && messages[n-1].Content != "" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("exchange did not complete: %+v", store.stored(conversationID))
}

func TestHandleHomeWelcome(t *testing.T) {
	m := newTestMain(t, "http://unused.invalid", &mockForms{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	m.HandleHome(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HandleHome() status = %v, want %v", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, "How can automation help my business?") {
		t.Errorf("HandleHome() body missing suggested questions: %s", body)
	}
}

func TestHandleHomeStoredConversation(t *testing.T) {
	store := &mockStore{messages: map[string][]models.Message{
		"1-old": {
			{ID: "1-a", Role: models.RoleUser, Content: "What do you charge?"},
			{ID: "2-b", Role: models.RoleAssistant, Content: "It depends on scope."},
		},
	}}
	m := newTestMain(t, "http://unused.invalid", &mockForms{}, store)

	req := httptest.NewRequest(http.MethodGet, "/?conversation_id=1-old", nil)
	w := httptest.NewRecorder()

	m.HandleHome(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HandleHome() status = %v, want %v", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, "What do you charge?") ||
		!strings.Contains(body, "It depends on scope.") {
		t.Errorf("HandleHome() body missing stored transcript: %s", body)
	}
}

func TestHandleHomeStoreFailure(t *testing.T) {
	store := &mockStore{messagesErr: errors.New("db closed")}
	m := newTestMain(t, "http://unused.invalid", &mockForms{}, store)

	req := httptest.NewRequest(http.MethodGet, "/?conversation_id=1-old", nil)
	w := httptest.NewRecorder()

	m.HandleHome(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("HandleHome() status = %v, want %v", w.Code, http.StatusInternalServerError)
	}
}

func TestHandleChatsValidation(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Missing message",
			method:     http.MethodPost,
			form:       url.Values{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown conversation",
			method:     http.MethodPost,
			form:       url.Values{"message": {"hi"}, "conversation_id": {"missing"}},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMain(t, "http://unused.invalid", &mockForms{}, nil)

			req := httptest.NewRequest(tt.method, "/chats", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			m.HandleChats(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleChatsStartsConversation(t *testing.T) {
	relay := stubRelay(t)
	store := &mockStore{}
	m := newTestMain(t, relay.URL, &mockForms{}, store)

	conversationID := startChat(t, m, "What's your pricing?")
	waitForExchange(t, store, conversationID, 2)

	messages := store.stored(conversationID)
	if len(messages) < 2 {
		t.Fatalf("persisted messages = %d, want at least 2", len(messages))
	}
	if messages[0].Role != models.RoleUser || messages[0].Content != "What's your pricing?" {
		t.Errorf("first persisted message = %+v, want the visitor message", messages[0])
	}
}

func TestActionsRenderOnLatestReplyOnly(t *testing.T) {
	relay := stubRelay(t)
	store := &mockStore{}
	m := newTestMain(t, relay.URL, &mockForms{}, store)

	conversationID := startChat(t, m, "What do you build?")
	waitForExchange(t, store, conversationID, 2)

	for i, msg := range []string{"How long does it take?", "And the cost?"} {
		form := url.Values{"message": {msg}, "conversation_id": {conversationID}}
		req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		m.HandleChats(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("HandleChats() status = %v, want %v", w.Code, http.StatusOK)
		}
		waitForExchange(t, store, conversationID, 4+2*i)
	}

	req := httptest.NewRequest(http.MethodGet, "/?conversation_id="+conversationID, nil)
	w := httptest.NewRecorder()
	m.HandleHome(w, req)

	if got := strings.Count(w.Body.String(), `class="actions"`); got != 1 {
		t.Errorf("rendered action blocks = %d, want 1", got)
	}
}

func TestHandleLeadSubmit(t *testing.T) {
	relay := stubRelay(t)
	forms := &mockForms{}
	store := &mockStore{}
	m := newTestMain(t, relay.URL, forms, store)

	conversationID := startChat(t, m, "Tell me about automation.")

	openForm := url.Values{"conversation_id": {conversationID}}
	req := httptest.NewRequest(http.MethodPost, "/leads/open", strings.NewReader(openForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	m.HandleLeadOpen(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("HandleLeadOpen() status = %v, want %v", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "lead-form") {
		t.Errorf("HandleLeadOpen() body missing lead form: %s", w.Body.String())
	}
	// Option values are the display strings; the lead email quotes them verbatim.
	if !strings.Contains(w.Body.String(), `value="$5K - $15K"`) ||
		!strings.Contains(w.Body.String(), `value="Urgent (1-2 weeks)"`) {
		t.Errorf("HandleLeadOpen() body missing display-string option values: %s", w.Body.String())
	}

	submitForm := url.Values{
		"conversation_id": {conversationID},
		"name":            {"Jane Doe"},
		"email":           {"jane@example.com"},
		"company":         {"Acme Corp"},
		"budget":          {"$5,000 - $10,000"},
		"timeline":        {"1-2 months"},
	}
	req = httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(submitForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	m.HandleLeadSubmit(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HandleLeadSubmit() status = %v, want %v", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "Thank you, Jane Doe!") {
		t.Errorf("HandleLeadSubmit() body missing confirmation: %s", w.Body.String())
	}
	if len(forms.submissions) != 1 {
		t.Fatalf("submissions = %d, want 1", len(forms.submissions))
	}
	leads := store.storedLeads()
	if len(leads) != 1 || leads[0].Form.Company != "Acme Corp" {
		t.Errorf("persisted leads = %+v, want the accepted lead", leads)
	}
}

func TestHandleLeadSubmitIncomplete(t *testing.T) {
	relay := stubRelay(t)
	m := newTestMain(t, relay.URL, &mockForms{}, nil)

	conversationID := startChat(t, m, "Hi.")

	form := url.Values{
		"conversation_id": {conversationID},
		"name":            {"Jane Doe"},
	}
	req := httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	m.HandleLeadSubmit(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("HandleLeadSubmit() status = %v, want %v", w.Code, http.StatusBadRequest)
	}
}

func TestHandleLeadUnknownConversation(t *testing.T) {
	m := newTestMain(t, "http://unused.invalid", &mockForms{}, nil)

	form := url.Values{"conversation_id": {"missing"}}
	req := httptest.NewRequest(http.MethodPost, "/leads/open", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	m.HandleLeadOpen(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("HandleLeadOpen() status = %v, want %v", w.Code, http.StatusNotFound)
	}
}
