package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/config"
	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
)

// maxTitleRunes caps inferred titles so they fit in the conversation list.
const maxTitleRunes = 30

// Service is the gateway to the text-generation model.
type Service struct {
	chatModel  model.ChatModel
	titleChain compose.Runnable[map[string]any, *schema.Message]
	logger     *zap.Logger
}

// NewService creates the gateway from configuration.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, logger)
}

// NewServiceWithModel creates the gateway around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	titleTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(titleSystemPrompt),
		schema.UserMessage("{conversation}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(titleTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}

	return &Service{
		chatModel:  chatModel,
		titleChain: runnable,
		logger:     logging.OrNop(logger).Named("ai"),
	}, nil
}

// Predict runs a single-shot completion over messages and returns the text.
func (s *Service) Predict(ctx context.Context, messages []chat.Message) (string, error) {
	resp, err := s.chatModel.Generate(ctx, toSchemaMessages(messages))
	if err != nil {
		return "", fmt.Errorf("failed to generate: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty model response")
	}

	s.logger.Debug("generated response", zap.Int("messages", len(messages)), zap.Int("length", len(resp.Content)))
	return resp.Content, nil
}

// PredictStream streams the reply to messages as plain text fragments.
func (s *Service) PredictStream(ctx context.Context, messages []chat.Message) (*schema.StreamReader[string], error) {
	stream, err := s.chatModel.Stream(ctx, toSchemaMessages(messages))
	if err != nil {
		return nil, fmt.Errorf("failed to stream: %w", err)
	}

	return schema.StreamReaderWithConvert(stream, func(chunk *schema.Message) (string, error) {
		if chunk == nil {
			return "", nil
		}
		return chunk.Content, nil
	}), nil
}

// PredictTitle asks the model for a short title summarising messages.
func (s *Service) PredictTitle(ctx context.Context, messages []chat.Message) (string, error) {
	resp, err := s.titleChain.Invoke(ctx, map[string]any{
		"conversation": formatTranscript(messages),
	})
	if err != nil {
		return "", fmt.Errorf("failed to run title chain: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty title response")
	}

	title := cleanTitle(resp.Content)
	s.logger.Debug("inferred title", zap.String("title", title))
	return title, nil
}

func toSchemaMessages(messages []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}

func formatTranscript(messages []chat.Message) string {
	var builder strings.Builder
	for _, msg := range messages {
		if msg.Role == chat.RoleSystem {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(string(msg.Role))
		builder.WriteString(": ")
		builder.WriteString(content)
	}
	return builder.String()
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	title = strings.Trim(title, "\"'「」“”")
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return title
}

const titleSystemPrompt = "You name conversations. Read the conversation the user gives you and reply with a title of at most 30 characters, written in the conversation's language. Output only the title, without quotes or punctuation around it."
