package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tg"
)

func TestFlattenGotdUpdates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		updates     tg.UpdatesClass
		wantClasses []string
		wantErr     bool
	}{
		{
			name: "batch splits channel deletions per message",
			updates: &tg.Updates{
				Date: 1_700_000_000,
				Updates: []tg.UpdateClass{
					&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 1, PeerID: &tg.PeerChannel{ChannelID: 9}}},
					&tg.UpdateDeleteChannelMessages{ChannelID: 9, Messages: []int{1, 2, 3}},
				},
			},
			wantClasses: []string{
				"updateNewChannelMessage",
				"updateDeleteChannelMessages",
				"updateDeleteChannelMessages",
				"updateDeleteChannelMessages",
			},
		},
		{
			name:        "short update is unwrapped",
			updates:     &tg.UpdateShort{Update: &tg.UpdateEditMessage{Message: &tg.Message{ID: 1}}, Date: 1},
			wantClasses: []string{"updateEditMessage"},
		},
		{
			name:        "short private message becomes new message",
			updates:     &tg.UpdateShortMessage{ID: 5, UserID: 42, Message: "hi", Date: 1},
			wantClasses: []string{"updateShortMessage"},
		},
		{
			name:    "too long yields nothing",
			updates: &tg.UpdatesTooLong{},
		},
		{
			name:    "nil container fails",
			updates: nil,
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := flattenGotdUpdates(testCase.updates)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(testCase.wantClasses) {
				t.Fatalf("envelopes = %d, want %d", len(got), len(testCase.wantClasses))
			}
			for idx, envelope := range got {
				if envelope.updateClass != testCase.wantClasses[idx] {
					t.Fatalf("envelope %d class = %s, want %s", idx, envelope.updateClass, testCase.wantClasses[idx])
				}
			}
		})
	}
}

func TestFlattenSplitsDeletionsIntoSingleMessages(t *testing.T) {
	t.Parallel()

	got := flattenSingleGotdUpdate(&tg.UpdateDeleteChannelMessages{ChannelID: 9, Messages: []int{4, 5}}, intToTimeUTC(1))
	if len(got) != 2 {
		t.Fatalf("envelopes = %d, want 2", len(got))
	}
	for idx, want := range []int{4, 5} {
		deletion := got[idx].update.(*tg.UpdateDeleteChannelMessages)
		if len(deletion.Messages) != 1 || deletion.Messages[0] != want {
			t.Fatalf("envelope %d messages = %v, want [%d]", idx, deletion.Messages, want)
		}
	}
}

func TestFlattenShortMessageKeepsSender(t *testing.T) {
	t.Parallel()

	got, err := flattenGotdUpdates(&tg.UpdateShortChatMessage{ID: 7, FromID: 42, ChatID: 100, Message: "hey", Date: 10})
	if err != nil {
		t.Fatalf("flatten failed: %v", err)
	}
	newMessage, ok := got[0].update.(*tg.UpdateNewMessage)
	if !ok {
		t.Fatalf("update = %T, want *tg.UpdateNewMessage", got[0].update)
	}
	message := newMessage.Message.(*tg.Message)
	from, ok := message.GetFromID()
	if !ok || from.(*tg.PeerUser).UserID != 42 {
		t.Fatalf("from = %v, want user 42", from)
	}
	if peer := message.PeerID.(*tg.PeerChat); peer.ChatID != 100 {
		t.Fatalf("peer chat = %d, want 100", peer.ChatID)
	}
}

func TestGotdUpdateChannelHandle(t *testing.T) {
	t.Parallel()

	channel := NewGotdUpdateChannel(1)
	updates := &tg.Updates{Updates: []tg.UpdateClass{&tg.UpdateEditMessage{Message: &tg.Message{ID: 1}}}}
	if err := channel.Handle(context.Background(), updates); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if got := (<-channel.stream()).updateClass; got != "updateEditMessage" {
		t.Fatalf("streamed class = %s, want updateEditMessage", got)
	}

	if err := channel.Handle(context.Background(), updates); err != nil {
		t.Fatalf("handle into empty buffer failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := channel.Handle(ctx, updates); !errors.Is(err, context.Canceled) {
		t.Fatalf("handle on full buffer error = %v, want %v", err, context.Canceled)
	}
}
