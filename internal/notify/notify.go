// Package notify delivers push notifications to the devices users register.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
)

// ErrNoToken is returned when the recipient has not registered a device
var ErrNoToken = errors.New("no notification token")

// Notification is the content of one push message
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Notifier sends a notification to one device token
type Notifier interface {
	SendToDevice(ctx context.Context, token string, n Notification) error
}

// Sender is the part of the FCM client used here; *messaging.Client implements it
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM sends notifications through Firebase Cloud Messaging
type FCM struct {
	sender Sender
}

// NewFCM creates an FCM notifier
func NewFCM(sender Sender) *FCM {
	return &FCM{sender: sender}
}

// SendToDevice sends a push notification to a specific device token
func (f *FCM) SendToDevice(ctx context.Context, token string, n Notification) error {
	if token == "" {
		return ErrNoToken
	}

	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	id, err := f.sender.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("sending FCM message: %w", err)
	}

	slog.Debug("Push notification sent", "message_id", id)
	return nil
}

// Discard drops every notification. Used when push is not configured.
type Discard struct{}

// SendToDevice logs and drops the notification
func (Discard) SendToDevice(ctx context.Context, token string, n Notification) error {
	slog.Debug("Push disabled, dropping notification", "title", n.Title)
	return nil
}
