// Package interpreter supports the code-generation view: requirement
// prompts, fenced-code extraction and test input drafting.
package interpreter

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/genchat/backend/internal/service/chat"
	"github.com/zhouzirui/genchat/backend/internal/transport"
)

// ErrNoCode is returned when the conversation holds no fenced code block.
var ErrNoCode = errors.New("no code block found")

// codeBlock matches a fenced block that closes the message. The language
// tag, if any, stays on the opening line.
var codeBlock = regexp.MustCompile("```.*\\n((?s:.+))\\n```$")

// Predictor runs a single non-streaming completion.
type Predictor interface {
	Predict(ctx context.Context, messages []chat.Message) (string, error)
}

type Service struct {
	predictor Predictor
	logger    *zap.Logger
}

func NewService(predictor Predictor, logger *zap.Logger) *Service {
	return &Service{predictor: predictor, logger: logging.OrNop(logger).Named("interpreter")}
}

// Ready reports whether test data can be generated.
func (s *Service) Ready() bool {
	return transport.Available(s.predictor)
}

// GenerationContext wraps a requirement into the user message of a
// generation turn.
func GenerationContext(requirement string) string {
	return "Write the function that meets the following requirement.\n" +
		"<requirement>\n" + strings.TrimSpace(requirement) + "\n</requirement>\n" +
		"Reply with the complete function in a single fenced code block."
}

const testDataPrompt = "Write one example input for the function above, as a JSON value that can be passed as its event argument. " +
	"Output only the JSON, with no code fence and no explanation."

// Run submits text as a generation turn. It has the shape of a turn runner.
func (s *Service) Run(ctx context.Context, handle *chatService.Chat, text string, opts ...chatService.TurnOption) error {
	return handle.SubmitTurn(ctx, GenerationContext(text), opts...)
}

// ExtractCode returns the body of the fenced block that ends content.
func ExtractCode(content string) (string, bool) {
	m := codeBlock.FindStringSubmatch(strings.TrimRight(content, " \t\r\n"))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// LatestCode returns the code of the last message, which is where the
// current version of the function lives.
func LatestCode(messages []chat.Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoCode
	}
	code, ok := ExtractCode(messages[len(messages)-1].Content)
	if !ok {
		return "", ErrNoCode
	}
	return code, nil
}

// TestData asks the model for an example input to the function discussed in
// transcript.
func (s *Service) TestData(ctx context.Context, transcript []chat.Message) (string, error) {
	messages := append(append([]chat.Message(nil), transcript...), chat.Message{Role: chat.RoleUser, Content: testDataPrompt})
	data, err := s.predictor.Predict(ctx, messages)
	if err != nil {
		s.logger.Warn("test data generation failed", zap.Error(err))
		return "", errors.Wrap(err, "generate test data")
	}
	return strings.TrimSpace(data), nil
}
