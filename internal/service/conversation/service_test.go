package conversation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/zhouzirui/genchat/backend/internal/model/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/conversation"
)

func TestServiceFindConversation(t *testing.T) {
	svc := conversation.NewService()
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}
	if conv.Title != "" {
		t.Fatalf("expected empty title, got %q", conv.Title)
	}

	got, err := svc.FindConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("FindConversation err: %v", err)
	}
	if got.ID != conv.ID {
		t.Fatalf("unexpected conversation ID: got %s want %s", got.ID, conv.ID)
	}
}

func TestServiceFindConversationNotFound(t *testing.T) {
	svc := conversation.NewService()

	_, err := svc.FindConversation(context.Background(), "missing")
	if !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestServiceRecordMessagesKeepsOrderAndIDs(t *testing.T) {
	svc := conversation.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)

	input := []chat.Message{
		{ID: "a", Role: chat.RoleUser, Content: "hi"},
		{ID: "b", Role: chat.RoleAssistant, Content: "hello"},
		{Role: chat.RoleUser, Content: "no id"},
	}
	recorded, err := svc.RecordMessages(ctx, conv.ID, input)
	if err != nil {
		t.Fatalf("RecordMessages err: %v", err)
	}
	if len(recorded) != len(input) {
		t.Fatalf("expected %d records, got %d", len(input), len(recorded))
	}
	if recorded[0].ID != "a" || recorded[1].ID != "b" || recorded[2].ID == "" {
		t.Fatalf("unexpected IDs: %+v", recorded)
	}
	for i, m := range recorded {
		if m.ConversationID != conv.ID {
			t.Fatalf("record %d missing conversation id", i)
		}
		if i > 0 && !m.CreatedAt.After(recorded[i-1].CreatedAt) {
			t.Fatalf("creation times must be strictly increasing")
		}
	}

	// Re-recording keeps the slot and creation time.
	again, err := svc.RecordMessages(ctx, conv.ID, []chat.Message{{ID: "a", Role: chat.RoleUser, Content: "edited"}})
	if err != nil {
		t.Fatalf("RecordMessages err: %v", err)
	}
	if !again[0].CreatedAt.Equal(recorded[0].CreatedAt) {
		t.Fatalf("expected creation time to be preserved")
	}

	stored, err := svc.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(stored) != 3 || stored[0].Content != "edited" {
		t.Fatalf("unexpected transcript: %+v", stored)
	}
}

func TestServiceRecordMessagesUnknownConversation(t *testing.T) {
	svc := conversation.NewService()
	_, err := svc.RecordMessages(context.Background(), "nope", []chat.Message{{Role: chat.RoleUser}})
	if !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestServiceUpdateFeedback(t *testing.T) {
	svc := conversation.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)
	recorded, _ := svc.RecordMessages(ctx, conv.ID, []chat.Message{
		{ID: "u", Role: chat.RoleUser, Content: "q"},
		{ID: "a", Role: chat.RoleAssistant, Content: "r"},
	})

	msg, err := svc.UpdateFeedback(ctx, conv.ID, chat.Feedback{CreatedAt: recorded[1].CreatedAt, Feedback: "good"})
	if err != nil {
		t.Fatalf("UpdateFeedback err: %v", err)
	}
	if msg.ID != "a" || msg.Feedback != "good" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	_, err = svc.UpdateFeedback(ctx, conv.ID, chat.Feedback{Feedback: "bad"})
	if !errors.Is(err, conversation.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestServiceUpdateTitleListAndDelete(t *testing.T) {
	svc := conversation.NewService()
	ctx := context.Background()
	first, _ := svc.CreateConversation(ctx)
	second, _ := svc.CreateConversation(ctx)

	if _, err := svc.UpdateTitle(ctx, first.ID, "First"); err != nil {
		t.Fatalf("UpdateTitle err: %v", err)
	}

	list, err := svc.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations err: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].Title != "First" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := svc.DeleteConversation(ctx, first.ID); err != nil {
		t.Fatalf("DeleteConversation err: %v", err)
	}
	if _, err := svc.ListMessages(ctx, first.ID); !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected deleted conversation to be gone, got %v", err)
	}
}
