package extract

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/genchat/backend/internal/model/chat"
)

type scriptedPredictor struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     [][]chat.Message
}

func (p *scriptedPredictor) Predict(_ context.Context, messages []chat.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.calls)
	p.calls = append(p.calls, append([]chat.Message(nil), messages...))
	var err error
	if n < len(p.errs) {
		err = p.errs[n]
	}
	if err != nil {
		return "", err
	}
	if n >= len(p.responses) {
		return "", errors.New("script exhausted")
	}
	return p.responses[n], nil
}

var personFormat = Format{
	{Name: "name", Description: "the person's name"},
	{Name: "age", Description: "the person's age"},
}

func newTestExtractor(t *testing.T, p Predictor, opts ...Option) *Extractor {
	t.Helper()
	return NewExtractor(p, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
}

func TestExtractRetriesOnExtraKey(t *testing.T) {
	p := &scriptedPredictor{responses: []string{
		`{"name":"Al","age":"30","extra":"x"}`,
		`{"name":"Al","age":"30"}`,
	}}
	e := newTestExtractor(t, p)

	got, err := e.Extract(context.Background(), "Al is 30.", "people", personFormat)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Al", "age": "30"}, got)
	assert.False(t, e.IsError())
	assert.False(t, e.Loading())

	require.Len(t, p.calls, 2)
	second := p.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, chat.RoleSystem, second[0].Role)
	assert.Equal(t, chat.Message{Role: chat.RoleUser, Content: "Al is 30."}, second[1])
	assert.Equal(t, chat.Message{Role: chat.RoleAssistant, Content: `{"name":"Al","age":"30","extra":"x"}`}, second[2])
	assert.Equal(t, chat.Message{Role: chat.RoleUser, Content: keysInvalidRetryPrompt(personFormat)}, second[3])
}

func TestExtractNormalisesNotApplicable(t *testing.T) {
	p := &scriptedPredictor{responses: []string{`{"name":"Al","age":"N/A"}`}}
	e := newTestExtractor(t, p)

	got, err := e.Extract(context.Background(), "Al", "", personFormat)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Al", "age": ""}, got)
	assert.Len(t, p.calls, 1)
}

func TestExtractStopsAtRetryLimit(t *testing.T) {
	p := &scriptedPredictor{responses: []string{"not json", `{"name":"Al"}`, `{"name":"Al","age":"30"}`}}
	e := newTestExtractor(t, p)

	got, err := e.Extract(context.Background(), "Al is 30.", "", personFormat)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, e.IsError())
	assert.Len(t, p.calls, 2)

	var formatErr *FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, keysInvalidRetryPrompt(personFormat), formatErr.Message)
}

func TestExtractHonoursConfiguredLimit(t *testing.T) {
	p := &scriptedPredictor{responses: []string{"x", "y", `{"name":"Al","age":"30"}`}}
	e := newTestExtractor(t, p, WithRetryLimit(3))

	got, err := e.Extract(context.Background(), "Al is 30.", "", personFormat)
	require.NoError(t, err)
	assert.Equal(t, "Al", got["name"])
	assert.Len(t, p.calls, 3)
	assert.Equal(t, 3, e.retryLimit)
}

func TestExtractAcceptsNonStringValues(t *testing.T) {
	p := &scriptedPredictor{responses: []string{`{"name":"Al","age":30}`}}
	e := newTestExtractor(t, p)

	got, err := e.Extract(context.Background(), "Al is 30.", "", personFormat)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Al", "age": "30"}, got)
	assert.Len(t, p.calls, 1)
	assert.False(t, e.IsError())
}

func TestExtractDoesNotRetryTransportFailure(t *testing.T) {
	boom := errors.New("boom")
	p := &scriptedPredictor{errs: []error{boom}, responses: []string{"", `{"name":"Al","age":"30"}`}}
	e := newTestExtractor(t, p)

	got, err := e.Extract(context.Background(), "Al", "", personFormat)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, got)
	assert.True(t, e.IsError())
	assert.Len(t, p.calls, 1)
}

func TestExtractDoesNotRetryEmptyResponse(t *testing.T) {
	p := &scriptedPredictor{responses: []string{"", `{"name":"Al","age":"30"}`}}
	e := newTestExtractor(t, p)

	_, err := e.Extract(context.Background(), "Al", "", personFormat)
	var formatErr *FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Len(t, p.calls, 1)
}

func TestExtractClearsErrorFlagOnNextCall(t *testing.T) {
	p := &scriptedPredictor{errs: []error{errors.New("down")}, responses: []string{"", `{"name":"Al","age":"30"}`}}
	e := newTestExtractor(t, p)

	_, err := e.Extract(context.Background(), "Al", "", personFormat)
	require.Error(t, err)
	require.True(t, e.IsError())

	_, err = e.Extract(context.Background(), "Al", "", personFormat)
	require.NoError(t, err)
	assert.False(t, e.IsError())
}

func TestExtractRejectsInvalidFormat(t *testing.T) {
	p := &scriptedPredictor{}
	e := newTestExtractor(t, p)

	_, err := e.Extract(context.Background(), "x", "", Format{{Name: "a"}, {Name: "a"}})
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.Empty(t, p.calls)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantPrompt string
	}{
		{name: "not json", raw: "hello", wantPrompt: parseErrorRetryPrompt(personFormat)},
		{name: "array", raw: `["Al","30"]`, wantPrompt: parseErrorRetryPrompt(personFormat)},
		{name: "null", raw: `null`, wantPrompt: parseErrorRetryPrompt(personFormat)},
		{name: "trailing text", raw: `{"name":"Al","age":"30"} thanks`, wantPrompt: parseErrorRetryPrompt(personFormat)},
		{name: "extra number key", raw: `{"name":"Al","age":30,"height":1.8}`, wantPrompt: keysInvalidRetryPrompt(personFormat)},
		{name: "missing key", raw: `{"name":"Al"}`, wantPrompt: keysInvalidRetryPrompt(personFormat)},
		{name: "swapped key", raw: `{"name":"Al","years":"30"}`, wantPrompt: keysInvalidRetryPrompt(personFormat)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(tt.raw, personFormat)
			var formatErr *FormatError
			require.ErrorAs(t, err, &formatErr)
			assert.Equal(t, tt.wantPrompt, formatErr.Message)
		})
	}

	got, err := parse("  {\"age\":\"30\",\"name\":\"Al\"}\n", personFormat)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Al", "age": "30"}, got)
}

func TestParseStringifiesValues(t *testing.T) {
	format := Format{{Name: "n"}, {Name: "f"}, {Name: "b"}, {Name: "z"}, {Name: "list"}, {Name: "obj"}}

	got, err := parse(`{"n":30,"f":1.50,"b":true,"z":null,"list":["a", 1],"obj":{"k":"N/A"}}`, format)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"n":    "30",
		"f":    "1.50",
		"b":    "true",
		"z":    "",
		"list": `["a",1]`,
		"obj":  `{"k":"N/A"}`,
	}, got)
}

func TestSystemPromptListsFieldsInOrder(t *testing.T) {
	prompt := systemPrompt("a guest list", personFormat)
	assert.Contains(t, prompt, "a guest list")
	assert.Contains(t, prompt, `"name": "the person's name",`+"\n"+`  "age": "the person's age"`)
}
