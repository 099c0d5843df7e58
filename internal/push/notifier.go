// Package push sends Web Push notifications to chat participants with no
// live connection. Subscriptions live in Postgres; delivery uses VAPID.
package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/repository"
)

type Notifier struct {
	subs  *repository.SubscriptionRepository
	vapid *webpush.Options
}

// NewNotifier builds a notifier. Empty keys return nil, which disables push.
func NewNotifier(subs *repository.SubscriptionRepository, publicKey, privateKey, subscriber string) *Notifier {
	if publicKey == "" || privateKey == "" {
		return nil
	}
	return &Notifier{
		subs: subs,
		vapid: &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             60,
		},
	}
}

// Notify pushes to every registered endpoint of a user. Dead endpoints
// (404/410 from the push service) are removed.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	subs, err := n.subs.ListForUser(ctx, userID)
	if err != nil {
		logger.Errorf("push list subs user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	if err != nil {
		logger.Errorf("push marshal payload: %v", err)
		return
	}

	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("push send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := n.subs.Delete(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push delete dead endpoint user=%s: %v", userID, err)
			}
		}
	}
}
