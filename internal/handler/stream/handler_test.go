package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatHandler "github.com/zhouzirui/genchat/backend/internal/handler/chat"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
	"github.com/zhouzirui/genchat/backend/internal/model/preset"
	chatservice "github.com/zhouzirui/genchat/backend/internal/service/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/conversation"
	"github.com/zhouzirui/genchat/backend/internal/service/session"
	"github.com/zhouzirui/genchat/backend/internal/transport"
)

type fakeModel struct {
	mu     sync.Mutex
	stream func() *schema.StreamReader[string]
}

func (m *fakeModel) Predict(context.Context, []chat.Message) (string, error) { return "", nil }

func (m *fakeModel) PredictStream(context.Context, []chat.Message) (*schema.StreamReader[string], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream(), nil
}

func (m *fakeModel) PredictTitle(context.Context, []chat.Message) (string, error) {
	return "Greeting", nil
}

type event struct {
	name string
	data TurnEvent
}

func setup(t *testing.T, model *fakeModel) (*chi.Mux, *conversation.Service, *chatservice.Engine) {
	t.Helper()
	return setupWithRunners(t, model, nil)
}

func setupWithRunners(t *testing.T, model *fakeModel, runners map[string]Runner) (*chi.Mux, *conversation.Service, *chatservice.Engine) {
	t.Helper()
	backend := conversation.NewService()
	engine := chatservice.NewEngine(session.NewStore(), transport.New(model, backend, nil))
	t.Cleanup(engine.Wait)

	h := New(chatHandler.NewResolver(preset.NewMemoryStore(preset.Seed()), engine), runners, nil)
	r := chi.NewRouter()
	r.Route("/views/{view}", func(v chi.Router) {
		h.RegisterViewRoutes(v)
		v.Route("/conversations/{conversationID}", h.RegisterViewRoutes)
	})
	return r, backend, engine
}

func postTurn(r http.Handler, path, text string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]string{"text": text})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body))))
	return resp
}

func parseEvents(t *testing.T, body string) []event {
	t.Helper()
	var events []event
	var name string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var data TurnEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data))
			events = append(events, event{name: name, data: data})
		}
	}
	return events
}

func TestTurnStreamsDeltasAndFinalMessage(t *testing.T) {
	model := &fakeModel{stream: func() *schema.StreamReader[string] {
		return schema.StreamReaderFromArray([]string{"Hel", "lo", "!"})
	}}
	r, backend, engine := setup(t, model)

	resp := postTurn(r, "/views/chat/turns", "hi")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))

	events := parseEvents(t, resp.Body.String())
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "start", events[0].name)
	assert.Equal(t, "/chat", events[0].data.Key)
	assert.Equal(t, "end", events[len(events)-1].name)

	var streamed strings.Builder
	var final *chat.Message
	for _, e := range events {
		switch e.name {
		case "delta":
			streamed.WriteString(e.data.Content)
		case "message":
			final = e.data.Message
			require.NotNil(t, e.data.Conversation)
		case "error":
			t.Fatalf("unexpected error event: %s", e.data.Error)
		}
	}
	assert.Equal(t, "Hello!", streamed.String())
	require.NotNil(t, final)
	assert.Equal(t, "Hello!", final.Content)
	assert.NotEmpty(t, final.ID)
	assert.False(t, final.CreatedAt.IsZero())

	engine.Wait()
	conv, ok := engine.Store().Conversation("/chat")
	require.True(t, ok)
	assert.Equal(t, "Greeting", conv.Title)

	stored, err := backend.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestTurnRejectedWhileBusy(t *testing.T) {
	r, _, engine := setup(t, &fakeModel{})
	engine.Store().Init("/chat", "sys")
	engine.Store().SetBusy("/chat", true)

	resp := postTurn(r, "/views/chat/turns", "hi")
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestConcurrentTurnRejected(t *testing.T) {
	sr, sw := schema.Pipe[string](0)
	model := &fakeModel{stream: func() *schema.StreamReader[string] { return sr }}
	r, _, engine := setup(t, model)

	var wg sync.WaitGroup
	first := httptest.NewRecorder()
	wg.Add(1)
	go func() {
		defer wg.Done()
		body := strings.NewReader(`{"text":"first"}`)
		r.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/views/chat/turns", body))
	}()

	require.Eventually(t, func() bool { return engine.Store().Busy("/chat") }, time.Second, 5*time.Millisecond)

	second := postTurn(r, "/views/chat/turns", "second")
	assert.Equal(t, http.StatusConflict, second.Code)

	sw.Send("ok", nil)
	sw.Close()
	wg.Wait()
	assert.Equal(t, http.StatusOK, first.Code)
}

func TestTurnValidation(t *testing.T) {
	r, _, _ := setup(t, &fakeModel{})

	assert.Equal(t, http.StatusBadRequest, postTurn(r, "/views/chat/turns", "  ").Code)
	assert.Equal(t, http.StatusNotFound, postTurn(r, "/views/nope/turns", "hi").Code)
	assert.Equal(t, http.StatusNotFound, postTurn(r, "/views/chat/conversations/missing/turns", "hi").Code)
}

func TestTurnReportsStreamFailure(t *testing.T) {
	model := &fakeModel{stream: func() *schema.StreamReader[string] {
		sr, sw := schema.Pipe[string](2)
		sw.Send("part", nil)
		sw.Send("", assert.AnError)
		sw.Close()
		return sr
	}}
	r, _, engine := setup(t, model)

	resp := postTurn(r, "/views/chat/turns", "hi")
	events := parseEvents(t, resp.Body.String())
	last := events[len(events)-1]
	assert.Equal(t, "error", last.name)
	assert.Contains(t, last.data.Error, assert.AnError.Error())

	assert.False(t, engine.Store().Busy("/chat"))
	msgs, _ := engine.Store().Messages("/chat")
	assert.Equal(t, "part", msgs[len(msgs)-1].Content)
}

func TestTurnFollowsReplyWhenRunnerPushesFirst(t *testing.T) {
	model := &fakeModel{stream: func() *schema.StreamReader[string] {
		return schema.StreamReaderFromArray([]string{"an", "swer"})
	}}
	runners := map[string]Runner{
		"rag": func(ctx context.Context, handle *chatservice.Chat, text string, opts ...chatservice.TurnOption) error {
			if err := handle.PushMessage(chat.RoleUser, "context note"); err != nil {
				return err
			}
			if err := handle.PushMessage(chat.RoleAssistant, "noted"); err != nil {
				return err
			}
			return handle.SubmitTurn(ctx, text, opts...)
		},
	}
	r, _, engine := setupWithRunners(t, model, runners)

	resp := postTurn(r, "/views/rag/turns", "question")
	require.Equal(t, http.StatusOK, resp.Code)
	engine.Wait()

	var streamed strings.Builder
	var final *chat.Message
	for _, e := range parseEvents(t, resp.Body.String()) {
		switch e.name {
		case "delta":
			streamed.WriteString(e.data.Content)
		case "message":
			final = e.data.Message
		case "error":
			t.Fatalf("unexpected error event: %s", e.data.Error)
		}
	}
	assert.Equal(t, "answer", streamed.String())
	require.NotNil(t, final)
	assert.Equal(t, chat.RoleAssistant, final.Role)
	assert.Equal(t, "answer", final.Content)

	view := engine.Store().View("/rag")
	require.Len(t, view.Messages, 4)
	assert.Equal(t, "noted", view.Messages[1].Content)
}

func TestTurnReportsRunnerFailureBeforeTurn(t *testing.T) {
	runners := map[string]Runner{
		"rag": func(context.Context, *chatservice.Chat, string, ...chatservice.TurnOption) error {
			return assert.AnError
		},
	}
	r, _, engine := setupWithRunners(t, &fakeModel{}, runners)

	resp := postTurn(r, "/views/rag/turns", "question")
	events := parseEvents(t, resp.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.name)
	for _, e := range events {
		assert.NotEqual(t, "delta", e.name)
	}
	assert.True(t, engine.Store().View("/rag").IsEmpty)
}
