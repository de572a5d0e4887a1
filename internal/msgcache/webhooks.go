package msgcache

import (
	"context"
	"fmt"
	"sync"

	"msgwatch/pkg/msgwatch"

	"golang.org/x/sync/singleflight"
)

// WebhookDirectory remembers one webhook identity per channel.
type WebhookDirectory struct {
	identities sync.Map
	creations  singleflight.Group
}

// NewWebhookDirectory creates an empty directory.
func NewWebhookDirectory() *WebhookDirectory {
	return &WebhookDirectory{}
}

// Remember stores identity for channelID, replacing any previous one.
func (d *WebhookDirectory) Remember(channelID string, identity msgwatch.WebhookIdentity) {
	d.identities.Store(channelID, identity)
}

// Lookup returns the identity stored for channelID.
func (d *WebhookDirectory) Lookup(channelID string) (msgwatch.WebhookIdentity, bool) {
	stored, found := d.identities.Load(channelID)
	if !found {
		return msgwatch.WebhookIdentity{}, false
	}

	return stored.(msgwatch.WebhookIdentity), true
}

// Forget drops the identity stored for channelID, for example after the webhook was deleted.
func (d *WebhookDirectory) Forget(channelID string) {
	d.identities.Delete(channelID)
}

// LoadOrCreate returns the stored identity or creates one with create. Concurrent callers for
// the same channel share a single create call.
func (d *WebhookDirectory) LoadOrCreate(
	ctx context.Context,
	channelID string,
	create func(ctx context.Context) (msgwatch.WebhookIdentity, error),
) (msgwatch.WebhookIdentity, error) {
	if identity, found := d.Lookup(channelID); found {
		return identity, nil
	}
	if create == nil {
		return msgwatch.WebhookIdentity{}, fmt.Errorf("load or create webhook %s: nil create func", channelID)
	}

	created, err, _ := d.creations.Do(channelID, func() (any, error) {
		if identity, found := d.Lookup(channelID); found {
			return identity, nil
		}
		identity, err := create(ctx)
		if err != nil {
			return nil, err
		}
		if identity.ID == "" || identity.Token == "" {
			return nil, fmt.Errorf("created webhook is missing id or token")
		}
		d.Remember(channelID, identity)

		return identity, nil
	})
	if err != nil {
		return msgwatch.WebhookIdentity{}, fmt.Errorf("load or create webhook %s: %w", channelID, err)
	}

	return created.(msgwatch.WebhookIdentity), nil
}
