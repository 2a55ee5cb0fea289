package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"genify/models"
	"genify/repository"
)

var ErrPushNotConfigured = errors.New("web push is not configured")

type VAPIDOptions struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// PushNotifier delivers Web Push notifications to a user's saved browser
// subscription.
type PushNotifier struct {
	subs   repository.PushRepository
	opts   VAPIDOptions
	client webpush.HTTPClient
	log    *zap.Logger
}

func NewPushNotifier(subs repository.PushRepository, opts VAPIDOptions, client webpush.HTTPClient, log *zap.Logger) *PushNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PushNotifier{subs: subs, opts: opts, client: client, log: log}
}

func (n *PushNotifier) PublicKey() string { return n.opts.PublicKey }

func (n *PushNotifier) Enabled() bool {
	return n.opts.PublicKey != "" && n.opts.PrivateKey != ""
}

type PushSubscribeInput struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// Subscribe saves the browser endpoint, replacing any earlier one.
func (n *PushNotifier) Subscribe(ctx context.Context, userID primitive.ObjectID, in PushSubscribeInput) error {
	if !strings.HasPrefix(in.Endpoint, "https://") || in.P256dh == "" || in.Auth == "" {
		return fmt.Errorf("%w: endpoint and keys are required", ErrInvalidInput)
	}
	return n.subs.Upsert(ctx, &models.PushSubscription{
		UserID:   userID,
		Endpoint: in.Endpoint,
		P256dh:   in.P256dh,
		Auth:     in.Auth,
	})
}

type pushPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data"`
}

// Notify sends one notification. A user without a subscription is not an
// error. An endpoint the push service reports gone is deleted.
func (n *PushNotifier) Notify(ctx context.Context, userID primitive.ObjectID, title, body, url string) error {
	if !n.Enabled() {
		return ErrPushNotConfigured
	}
	sub, err := n.subs.FindByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find push subscription: %w", err)
	}

	payload, err := json.Marshal(pushPayload{
		Title: title,
		Body:  body,
		Data:  map[string]any{"url": url, "timestamp": time.Now().Unix()},
	})
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		HTTPClient:      n.client,
		Subscriber:      n.opts.Subject,
		VAPIDPublicKey:  n.opts.PublicKey,
		VAPIDPrivateKey: n.opts.PrivateKey,
		TTL:             30,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		n.log.Info("push subscription expired, deleting", zap.String("userId", userID.Hex()))
		if err := n.subs.DeleteByUser(ctx, userID); err != nil {
			return fmt.Errorf("delete expired push subscription: %w", err)
		}
		return nil
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service answered %d", resp.StatusCode)
	}
	return nil
}
