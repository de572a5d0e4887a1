package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"msgwatch/internal/msgcache"
	"msgwatch/pkg/msgwatch"
)

const (
	defaultWebhookName = "msgwatch"

	maxEmbedsPerMessage = 10
	maxDescriptionRunes = 4096
	revisionColorEdit   = 0xF1C40F
	revisionColorDelete = 0xE74C3C
)

// WebhookSession is the subset of *discordgo.Session the revision notifier needs.
type WebhookSession interface {
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(
		webhookID, token string,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// Notifier posts revisions of cached messages to a log channel through a webhook.
type Notifier struct {
	session     WebhookSession
	channelID   string
	webhookName string
	webhooks    *msgcache.WebhookDirectory
}

// NewNotifier creates a notifier that posts into channelID.
func NewNotifier(
	session WebhookSession,
	channelID string,
	webhookName string,
	webhooks *msgcache.WebhookDirectory,
) (*Notifier, error) {
	if session == nil {
		return nil, fmt.Errorf("new discord notifier: nil session")
	}
	if strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("new discord notifier: empty channel id")
	}
	if webhooks == nil {
		webhooks = msgcache.NewWebhookDirectory()
	}
	if strings.TrimSpace(webhookName) == "" {
		webhookName = defaultWebhookName
	}

	return &Notifier{
		session:     session,
		channelID:   channelID,
		webhookName: webhookName,
		webhooks:    webhooks,
	}, nil
}

// NotifyRevision posts one revision notice.
func (n *Notifier) NotifyRevision(ctx context.Context, revision msgwatch.Revision) error {
	params := renderRevision(revision)
	params.Username = n.webhookName

	err := n.execute(ctx, params)
	if isUnknownWebhook(err) {
		// The webhook was deleted behind our back; create a fresh one once.
		n.webhooks.Forget(n.channelID)
		err = n.execute(ctx, params)
	}
	if err != nil {
		return fmt.Errorf("notify discord revision %s of message %s: %w", revision.Kind, revision.MessageID, err)
	}

	return nil
}

func (n *Notifier) execute(ctx context.Context, params *discordgo.WebhookParams) error {
	identity, err := n.webhooks.LoadOrCreate(ctx, n.channelID, n.createWebhook)
	if err != nil {
		return err
	}

	if _, err := n.session.WebhookExecute(identity.ID, identity.Token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("execute webhook %s: %w", identity.ID, err)
	}

	return nil
}

func (n *Notifier) createWebhook(ctx context.Context) (msgwatch.WebhookIdentity, error) {
	webhook, err := n.session.WebhookCreate(n.channelID, n.webhookName, "", discordgo.WithContext(ctx))
	if err != nil {
		return msgwatch.WebhookIdentity{}, fmt.Errorf("create webhook in %s: %w", n.channelID, err)
	}
	if webhook == nil {
		return msgwatch.WebhookIdentity{}, fmt.Errorf("create webhook in %s: empty response", n.channelID)
	}

	return msgwatch.WebhookIdentity{ID: webhook.ID, Token: webhook.Token}, nil
}

func isUnknownWebhook(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownWebhook {
		return true
	}

	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// renderRevision builds the webhook payload: a header line, the previous content, and for
// edits the new content.
func renderRevision(revision msgwatch.Revision) *discordgo.WebhookParams {
	color := revisionColorEdit
	if revision.Kind == msgwatch.RevisionDeleted {
		color = revisionColorDelete
	}

	embeds := []*discordgo.MessageEmbed{renderContent("Before", revision.Before.Content, color)}
	if revision.After != nil {
		embeds = append(embeds, renderContent("After", revision.After.Content, color))
	}
	if valid, ok := revision.Before.Content.(msgwatch.ValidContent); ok {
		for _, embed := range valid.Embeds {
			if len(embeds) >= maxEmbedsPerMessage {
				break
			}
			embeds = append(embeds, toDiscordEmbed(embed))
		}
	}

	return &discordgo.WebhookParams{
		Content: fmt.Sprintf(
			"%s message `%s` was %s in `%s`",
			revision.Platform, revision.MessageID, revision.Kind, revision.ChannelID,
		),
		Embeds:          embeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
}

func renderContent(title string, content msgwatch.Content, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Type: discordgo.EmbedTypeRich, Title: title, Color: color}

	switch typed := content.(type) {
	case msgwatch.ValidContent:
		embed.Description = truncateRunes(typed.Text, maxDescriptionRunes)
		if embed.Description == "" {
			embed.Description = "*empty*"
		}
	case msgwatch.NonMergeableContent:
		embed.Description = "*content unavailable: the message carried attachments or components*"
	default:
		embed.Description = "*unknown content*"
	}

	return embed
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)

	return string(runes[:limit-1]) + "…"
}

var _ msgwatch.RevisionNotifier = (*Notifier)(nil)
