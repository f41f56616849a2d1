package redis

import (
	"context"
	"time"
)

// Dedupe remembers delivery keys for ttl so providers that resend the same
// webhook do not queue the same completion twice.
type Dedupe struct {
	client *Client
	ttl    time.Duration
}

func NewDedupe(client *Client, ttl time.Duration) *Dedupe {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Dedupe{client: client, ttl: ttl}
}

// FirstSeen reports true the first time key is offered within ttl.
func (d *Dedupe) FirstSeen(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, "webhook_seen:"+key, 1, d.ttl)
}

// Forget drops key so a later delivery is processed again.
func (d *Dedupe) Forget(ctx context.Context, key string) error {
	return d.client.Del(ctx, "webhook_seen:"+key)
}
