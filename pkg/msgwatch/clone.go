package msgwatch

import "slices"

// CloneEmbeds returns a deep copy of embeds so cached state never aliases gateway payloads.
func CloneEmbeds(embeds []Embed) []Embed {
	if embeds == nil {
		return nil
	}

	cloned := make([]Embed, len(embeds))
	for idx, embed := range embeds {
		cloned[idx] = cloneEmbed(embed)
	}

	return cloned
}

func cloneEmbed(embed Embed) Embed {
	cloned := embed
	if embed.Author != nil {
		author := *embed.Author
		cloned.Author = &author
	}
	if embed.Footer != nil {
		footer := *embed.Footer
		cloned.Footer = &footer
	}
	if embed.Fields != nil {
		cloned.Fields = append([]EmbedField(nil), embed.Fields...)
	}

	return cloned
}

// CloneContent returns a deep copy of cached content.
func CloneContent(content Content) Content {
	switch typed := content.(type) {
	case ValidContent:
		return ValidContent{Text: typed.Text, Embeds: CloneEmbeds(typed.Embeds)}
	case NonMergeableContent:
		return typed
	default:
		return nil
	}
}

// SameContent reports whether two contents would render identically. Nil and empty embed
// lists are equal.
func SameContent(left, right Content) bool {
	switch typed := left.(type) {
	case ValidContent:
		other, ok := right.(ValidContent)
		return ok && typed.Text == other.Text && slices.EqualFunc(typed.Embeds, other.Embeds, sameEmbed)
	case NonMergeableContent:
		_, ok := right.(NonMergeableContent)
		return ok
	default:
		return left == nil && right == nil
	}
}

func sameEmbed(left, right Embed) bool {
	if left.Type != right.Type || left.Title != right.Title || left.Description != right.Description ||
		left.URL != right.URL || left.Color != right.Color || left.Timestamp != right.Timestamp ||
		left.ImageURL != right.ImageURL || left.ThumbnailURL != right.ThumbnailURL {
		return false
	}
	if (left.Author == nil) != (right.Author == nil) || (left.Author != nil && *left.Author != *right.Author) {
		return false
	}
	if (left.Footer == nil) != (right.Footer == nil) || (left.Footer != nil && *left.Footer != *right.Footer) {
		return false
	}

	return slices.Equal(left.Fields, right.Fields)
}
