package config

import (
	"context"
	"encoding/base64"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// InitMessaging builds the FCM client used for promoter push notifications.
// It returns nil without error when no credentials are configured.
func InitMessaging(ctx context.Context, cfg *Config) (*messaging.Client, error) {
	var opt option.ClientOption
	switch {
	case cfg.FirebaseCredentialsBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(cfg.FirebaseCredentialsBase64)
		if err != nil {
			return nil, fmt.Errorf("decode FIREBASE_CREDENTIALS_BASE64: %w", err)
		}
		opt = option.WithCredentialsJSON(decoded)
	case cfg.GoogleApplicationCredentials != "":
		opt = option.WithCredentialsFile(cfg.GoogleApplicationCredentials)
	default:
		logrus.Info("no Firebase credentials configured, push notifications disabled")
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase messaging: %w", err)
	}
	logrus.WithField("project_id", cfg.FirebaseProjectID).Info("Firebase messaging ready")
	return client, nil
}
