package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/atelier-sucre/api/internal/platform/config"
)

var errNoVerifierClient = errors.New("auth: firebase verifier has no client")

// FirebaseVerifier wraps the Admin SDK auth client, bounding every call
// with a timeout so a slow Firebase backend cannot stall request handling.
type FirebaseVerifier struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

// FirebaseOption tweaks a FirebaseVerifier.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout changes the ceiling applied to Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier dials the Admin SDK for the configured project.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id missing")
	}

	var sdkOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		sdkOpts = append(sdkOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, sdkOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}

	verifier := &FirebaseVerifier{client: authClient, timeout: verifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier, nil
}

// VerifyIDToken checks the token against Firebase under the call timeout.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	call, cancel, err := v.bound(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return v.client.VerifyIDToken(call, idToken)
}

// GetUser reads the user record for uid under the call timeout.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	call, cancel, err := v.bound(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return v.client.GetUser(call, uid)
}

func (v *FirebaseVerifier) bound(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if v == nil || v.client == nil {
		return nil, nil, errNoVerifierClient
	}
	if v.timeout <= 0 {
		return ctx, func() {}, nil
	}
	call, cancel := context.WithTimeout(ctx, v.timeout)
	return call, cancel, nil
}
