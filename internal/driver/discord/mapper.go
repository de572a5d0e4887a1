package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"msgwatch/pkg/msgwatch"
)

// mapMessage converts a created Discord message into the neutral message model.
func mapMessage(message *discordgo.Message) *msgwatch.Message {
	mapped := &msgwatch.Message{
		ID:          message.ID,
		Text:        message.Content,
		Embeds:      mapEmbeds(message.Embeds),
		Attachments: mapAttachments(message.Attachments),
		Components:  mapComponents(message.Components),
	}
	if message.Author != nil {
		mapped.AuthorID = message.Author.ID
	}

	return mapped
}

// mapUpdate converts a Discord message update into a partial update.
//
// Discord sends the full embed list on every update, so embeds are always supplied. Link
// unfurls arrive as updates without an edit timestamp and without content; those leave
// the cached text untouched.
func mapUpdate(message *discordgo.Message) *msgwatch.MessageUpdate {
	embeds := mapEmbeds(message.Embeds)
	if embeds == nil {
		embeds = []msgwatch.Embed{}
	}
	update := &msgwatch.MessageUpdate{
		MessageID:      message.ID,
		Embeds:         &embeds,
		HasAttachments: len(message.Attachments) > 0,
	}
	if !isEmbedOnlyUnfurl(message) {
		text := message.Content
		update.Text = &text
	}

	return update
}

func isEmbedOnlyUnfurl(message *discordgo.Message) bool {
	return message.EditedTimestamp == nil && message.Content == ""
}

func mapEmbeds(embeds []*discordgo.MessageEmbed) []msgwatch.Embed {
	if len(embeds) == 0 {
		return nil
	}

	mapped := make([]msgwatch.Embed, 0, len(embeds))
	for _, embed := range embeds {
		if embed == nil {
			continue
		}
		item := msgwatch.Embed{
			Type:        string(embed.Type),
			Title:       embed.Title,
			Description: embed.Description,
			URL:         embed.URL,
			Color:       embed.Color,
			Timestamp:   embed.Timestamp,
		}
		if embed.Image != nil {
			item.ImageURL = embed.Image.URL
		}
		if embed.Thumbnail != nil {
			item.ThumbnailURL = embed.Thumbnail.URL
		}
		if embed.Author != nil {
			item.Author = &msgwatch.EmbedAuthor{
				Name:    embed.Author.Name,
				URL:     embed.Author.URL,
				IconURL: embed.Author.IconURL,
			}
		}
		if embed.Footer != nil {
			item.Footer = &msgwatch.EmbedFooter{Text: embed.Footer.Text, IconURL: embed.Footer.IconURL}
		}
		for _, field := range embed.Fields {
			if field == nil {
				continue
			}
			item.Fields = append(item.Fields, msgwatch.EmbedField{
				Name:   field.Name,
				Value:  field.Value,
				Inline: field.Inline,
			})
		}
		mapped = append(mapped, item)
	}

	return mapped
}

func mapAttachments(attachments []*discordgo.MessageAttachment) []msgwatch.Attachment {
	if len(attachments) == 0 {
		return nil
	}

	mapped := make([]msgwatch.Attachment, 0, len(attachments))
	for _, attachment := range attachments {
		if attachment == nil {
			continue
		}
		mapped = append(mapped, msgwatch.Attachment{
			ID:          attachment.ID,
			FileName:    attachment.Filename,
			ContentType: attachment.ContentType,
			SizeBytes:   int64(attachment.Size),
			URL:         attachment.URL,
		})
	}

	return mapped
}

func mapComponents(components []discordgo.MessageComponent) []msgwatch.Component {
	if len(components) == 0 {
		return nil
	}

	mapped := make([]msgwatch.Component, 0, len(components))
	for _, component := range components {
		if component == nil {
			continue
		}
		mapped = append(mapped, msgwatch.Component{
			Type: componentTypeName(component.Type()),
			ID:   componentCustomID(component),
		})
	}

	return mapped
}

func componentTypeName(componentType discordgo.ComponentType) string {
	switch componentType {
	case discordgo.ActionsRowComponent:
		return "action_row"
	case discordgo.ButtonComponent:
		return "button"
	case discordgo.SelectMenuComponent:
		return "select_menu"
	case discordgo.TextInputComponent:
		return "text_input"
	default:
		return fmt.Sprintf("component_%d", componentType)
	}
}

func componentCustomID(component discordgo.MessageComponent) string {
	switch typed := component.(type) {
	case *discordgo.Button:
		return typed.CustomID
	case discordgo.Button:
		return typed.CustomID
	case *discordgo.SelectMenu:
		return typed.CustomID
	case discordgo.SelectMenu:
		return typed.CustomID
	default:
		return ""
	}
}

// toDiscordEmbed renders a neutral embed back into the Discord wire model.
func toDiscordEmbed(embed msgwatch.Embed) *discordgo.MessageEmbed {
	rendered := &discordgo.MessageEmbed{
		URL:         embed.URL,
		Type:        discordgo.EmbedTypeRich,
		Title:       embed.Title,
		Description: embed.Description,
		Timestamp:   embed.Timestamp,
		Color:       embed.Color,
	}
	if embed.ImageURL != "" {
		rendered.Image = &discordgo.MessageEmbedImage{URL: embed.ImageURL}
	}
	if embed.ThumbnailURL != "" {
		rendered.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: embed.ThumbnailURL}
	}
	if embed.Author != nil {
		rendered.Author = &discordgo.MessageEmbedAuthor{
			Name:    embed.Author.Name,
			URL:     embed.Author.URL,
			IconURL: embed.Author.IconURL,
		}
	}
	if embed.Footer != nil {
		rendered.Footer = &discordgo.MessageEmbedFooter{Text: embed.Footer.Text, IconURL: embed.Footer.IconURL}
	}
	for _, field := range embed.Fields {
		rendered.Fields = append(rendered.Fields, &discordgo.MessageEmbedField{
			Name:   field.Name,
			Value:  field.Value,
			Inline: field.Inline,
		})
	}

	return rendered
}

func composeEventID(kind msgwatch.EventKind, channelID, messageID string, occurredAt time.Time) string {
	return fmt.Sprintf("discord:%s:%s:%s:%d", kind, channelID, messageID, occurredAt.UnixNano())
}
