package delivery

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCM sends notifications through Firebase Cloud Messaging.
type FCM struct {
	client *messaging.Client
}

// NewFCM initializes a Firebase app from service-account credentials,
// given inline as JSON or as a file path. Inline JSON wins.
func NewFCM(ctx context.Context, credentialsJSON []byte, credentialsFile string) (*FCM, error) {
	var opt option.ClientOption
	switch {
	case len(credentialsJSON) > 0:
		opt = option.WithCredentialsJSON(credentialsJSON)
	case credentialsFile != "":
		opt = option.WithCredentialsFile(credentialsFile)
	default:
		return nil, errors.New("fcm: no credentials configured")
	}
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("fcm: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: messaging client: %w", err)
	}
	return &FCM{client: client}, nil
}

// Send implements PushSender.
func (f *FCM) Send(ctx context.Context, token string, n Notification) error {
	_, err := f.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
	})
	if err == nil {
		return nil
	}
	if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return fmt.Errorf("fcm: %w", err)
}
