package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func TestDefaultGotdUpdateMapperMap(t *testing.T) {
	t.Parallel()

	mapper := NewDefaultGotdUpdateMapper()
	occurredAt := time.Unix(1_700_000_000, 0).UTC()

	tests := []struct {
		name         string
		update       tg.UpdateClass
		wantAccepted bool
		wantErr      bool
		assert       func(t *testing.T, got Update)
	}{
		{
			name: "channel message with inline keyboard",
			update: &tg.UpdateNewChannelMessage{Message: func() tg.MessageClass {
				message := &tg.Message{
					ID:      777,
					PeerID:  &tg.PeerChannel{ChannelID: 100},
					Date:    1_700_000_000,
					Message: "vote",
				}
				message.SetFromID(&tg.PeerUser{UserID: 42})
				message.SetReplyMarkup(&tg.ReplyInlineMarkup{Rows: []tg.KeyboardButtonRow{
					{Buttons: []tg.KeyboardButtonClass{
						&tg.KeyboardButtonCallback{Text: "yes", Data: []byte("vote:yes")},
						&tg.KeyboardButtonURL{Text: "docs", URL: "https://example.com"},
					}},
				}})
				return message
			}()},
			wantAccepted: true,
			assert: func(t *testing.T, got Update) {
				t.Helper()
				if got.Type != UpdateTypeMessage {
					t.Fatalf("type = %s, want message", got.Type)
				}
				if got.ChatID != "channel:100" {
					t.Fatalf("chat id = %s, want channel:100", got.ChatID)
				}
				if got.Message.ID != "777" || got.Message.AuthorID != "user:42" || got.Message.Text != "vote" {
					t.Fatalf("message = %+v", got.Message)
				}
				if len(got.Message.Buttons) != 2 || got.Message.Buttons[0].Data != "vote:yes" {
					t.Fatalf("buttons = %+v", got.Message.Buttons)
				}
				if got.Metadata["gotd_update"] != "updateNewChannelMessage" {
					t.Fatalf("metadata = %v", got.Metadata)
				}
			},
		},
		{
			name: "group message with document",
			update: &tg.UpdateNewMessage{Message: func() tg.MessageClass {
				message := &tg.Message{ID: 5, PeerID: &tg.PeerChat{ChatID: 7}, Date: 1}
				media := &tg.MessageMediaDocument{}
				media.SetDocument(&tg.Document{
					ID:         11,
					MimeType:   "application/pdf",
					Size:       2048,
					Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "report.pdf"}},
				})
				message.SetMedia(media)
				return message
			}()},
			wantAccepted: true,
			assert: func(t *testing.T, got Update) {
				t.Helper()
				if got.ChatID != "chat:7" || got.Message.AuthorID != "chat:7" {
					t.Fatalf("chat/author = %s/%s, want chat:7", got.ChatID, got.Message.AuthorID)
				}
				if len(got.Message.Media) != 1 {
					t.Fatalf("media = %+v, want one document", got.Message.Media)
				}
				media := got.Message.Media[0]
				if media.Kind != "document" || media.FileName != "report.pdf" || media.SizeBytes != 2048 {
					t.Fatalf("media = %+v", media)
				}
			},
		},
		{
			name: "edit with link preview uses edit date",
			update: &tg.UpdateEditChannelMessage{Message: func() tg.MessageClass {
				message := &tg.Message{ID: 9, PeerID: &tg.PeerChannel{ChannelID: 100}, Date: 1_700_000_000, Message: "see link"}
				message.SetEditDate(1_700_000_060)
				page := &tg.WebPage{URL: "https://go.dev"}
				page.SetSiteName("Go")
				page.SetTitle("The Go Programming Language")
				message.SetMedia(&tg.MessageMediaWebPage{Webpage: page})
				return message
			}()},
			wantAccepted: true,
			assert: func(t *testing.T, got Update) {
				t.Helper()
				if got.Type != UpdateTypeEdit {
					t.Fatalf("type = %s, want edit", got.Type)
				}
				if !got.OccurredAt.Equal(time.Unix(1_700_000_060, 0)) {
					t.Fatalf("occurred at = %v, want edit date", got.OccurredAt)
				}
				if got.Message.WebPage == nil || got.Message.WebPage.SiteName != "Go" || got.Message.WebPage.URL != "https://go.dev" {
					t.Fatalf("web page = %+v", got.Message.WebPage)
				}
				if len(got.Message.Media) != 0 {
					t.Fatalf("media = %+v, want none for link previews", got.Message.Media)
				}
			},
		},
		{
			name:         "channel deletion",
			update:       &tg.UpdateDeleteChannelMessages{ChannelID: 100, Messages: []int{777}},
			wantAccepted: true,
			assert: func(t *testing.T, got Update) {
				t.Helper()
				if got.Type != UpdateTypeDelete || got.ChatID != "channel:100" || got.Delete.MessageID != "777" {
					t.Fatalf("update = %+v", got)
				}
				if !got.OccurredAt.Equal(occurredAt) {
					t.Fatalf("occurred at = %v, want envelope time", got.OccurredAt)
				}
			},
		},
		{
			name:   "chatless deletion is skipped",
			update: &tg.UpdateDeleteMessages{Messages: []int{1}},
		},
		{
			name:   "service message is skipped",
			update: &tg.UpdateNewMessage{Message: &tg.MessageService{ID: 1}},
		},
		{
			name:   "unrelated update is skipped",
			update: &tg.UpdateUserTyping{UserID: 1},
		},
		{
			name:    "message without known peer fails",
			update:  &tg.UpdateNewMessage{Message: &tg.Message{ID: 1}},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, accepted, err := mapper.Map(context.Background(), gotdUpdateEnvelope{
				update:      testCase.update,
				occurredAt:  occurredAt,
				updateClass: testCase.update.TypeName(),
			})
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if accepted != testCase.wantAccepted {
				t.Fatalf("accepted = %v, want %v", accepted, testCase.wantAccepted)
			}
			if testCase.assert != nil {
				testCase.assert(t, got)
			}
		})
	}
}

func TestDefaultGotdUpdateMapperHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewDefaultGotdUpdateMapper().Map(ctx, gotdUpdateEnvelope{update: &tg.UpdateUserTyping{}})
	if err == nil {
		t.Fatal("expected canceled context error")
	}
}
