// Package identity turns sign-in credentials into validated user identities.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/auth"
)

// CredentialTypeGoogleIDToken is a Firebase ID token obtained through Google sign-in
const CredentialTypeGoogleIDToken = "google_id_token"

var (
	ErrInvalidCredential     = errors.New("invalid credential")
	ErrInvalidCredentialType = errors.New("invalid credential type")
)

// Credential is what a client presents to sign in
type Credential struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// UserData is the signed-in identity. The session store caches it.
type UserData struct {
	ID                 string `json:"id"`
	IDToken            string `json:"id_token,omitempty"`
	DisplayName        string `json:"display_name"`
	ProfilePic         string `json:"profile_pic,omitempty"`
	Email              string `json:"email"`
	NotificationToken  string `json:"notification_token,omitempty"`
	CurrentHouseholdID string `json:"current_household_id,omitempty"`
}

// Authenticator validates credentials
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) (*UserData, error)
}

// TokenVerifier is the part of the Firebase Auth client used here; *auth.Client implements it
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Firebase validates Firebase ID tokens
type Firebase struct {
	verifier TokenVerifier
}

// NewFirebase creates a Firebase authenticator
func NewFirebase(verifier TokenVerifier) *Firebase {
	return &Firebase{verifier: verifier}
}

// Authenticate verifies the credential and returns the identity it carries
func (f *Firebase) Authenticate(ctx context.Context, cred Credential) (*UserData, error) {
	if cred.Type != CredentialTypeGoogleIDToken {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCredentialType, cred.Type)
	}
	idToken := strings.TrimSpace(cred.Token)
	if idToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	token, err := f.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user := &UserData{
		ID:          token.UID,
		IDToken:     idToken,
		DisplayName: claim(token, "name"),
		ProfilePic:  claim(token, "picture"),
		Email:       claim(token, "email"),
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Email
	}
	return user, nil
}

func claim(token *auth.Token, key string) string {
	if v, ok := token.Claims[key].(string); ok {
		return v
	}
	return ""
}
