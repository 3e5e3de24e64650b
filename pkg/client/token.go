package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/auth"
)

// BearerToken is the result of an app-only token exchange.
type BearerToken struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// OAuth2Token is the result of an OAuth2 user-context token exchange.
type OAuth2Token struct {
	TokenType    string    `json:"token_type"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"-"`
}

// Scopes splits the space separated scope list.
func (t *OAuth2Token) Scopes() []string {
	return strings.Fields(t.Scope)
}

func basicAuth(user, password string) string {
	raw := url.QueryEscape(user) + ":" + url.QueryEscape(password)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// AppOnlyToken exchanges consumer keys for an app-only bearer token
// (client_credentials grant).
func (c *Client) AppOnlyToken(ctx context.Context, consumerKey, consumerSecret string) (*BearerToken, error) {
	if consumerKey == "" || consumerSecret == "" {
		return nil, &auth.AuthConfigError{Mode: auth.ModeBearer, Missing: missingFields(map[string]string{
			"consumer_key":    consumerKey,
			"consumer_secret": consumerSecret,
		})}
	}

	spec, err := NewRequest("POST", "oauth2/token",
		WithPrefix(OAuthPrefix),
		WithBody(map[string]any{"grant_type": "client_credentials"}),
		WithHeader("Authorization", basicAuth(consumerKey, consumerSecret)),
	)
	if err != nil {
		return nil, err
	}

	resp, err := c.Execute(ctx, spec)
	if err != nil {
		return nil, err
	}

	var token BearerToken
	if err := resp.Decode(&token); err != nil {
		return nil, err
	}
	if !strings.EqualFold(token.TokenType, "bearer") || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedTokenType, token.TokenType)
	}

	c.logger.Info().Msg("Obtained app-only bearer token")
	c.currentHooks().onToken(ctx, TokenEvent{Grant: "client_credentials", Bearer: &token})
	return &token, nil
}

// InvalidateToken revokes an app-only bearer token.
func (c *Client) InvalidateToken(ctx context.Context, consumerKey, consumerSecret, token string) error {
	spec, err := NewRequest("POST", "oauth2/invalidate_token",
		WithPrefix(OAuthPrefix),
		WithBody(map[string]any{"access_token": token}),
		WithHeader("Authorization", basicAuth(consumerKey, consumerSecret)),
	)
	if err != nil {
		return err
	}
	_, err = c.Execute(ctx, spec)
	return err
}

// RefreshOAuth2Token exchanges a refresh token for a new user-context access
// token. clientSecret may be empty for public clients.
func (c *Client) RefreshOAuth2Token(ctx context.Context, clientID, clientSecret, refreshToken string) (*OAuth2Token, error) {
	if clientID == "" || refreshToken == "" {
		return nil, &auth.AuthConfigError{Mode: auth.ModeBearer, Missing: missingFields(map[string]string{
			"client_id":     clientID,
			"refresh_token": refreshToken,
		})}
	}

	opts := []Option{
		WithPrefix(V2Prefix),
		WithBody(map[string]any{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"client_id":     clientID,
		}),
	}
	if clientSecret != "" {
		opts = append(opts, WithHeader("Authorization", basicAuth(clientID, clientSecret)))
	}

	spec, err := NewRequest("POST", "oauth2/token", opts...)
	if err != nil {
		return nil, err
	}

	resp, err := c.Execute(ctx, spec)
	if err != nil {
		return nil, err
	}

	var token OAuth2Token
	if err := resp.Decode(&token); err != nil {
		return nil, err
	}
	if !strings.EqualFold(token.TokenType, "bearer") || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedTokenType, token.TokenType)
	}
	if token.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	c.currentHooks().onToken(ctx, TokenEvent{Grant: "refresh_token", OAuth2: &token})
	return &token, nil
}

func missingFields(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{"consumer_key", "consumer_secret", "client_id", "refresh_token"} {
		if v, ok := fields[name]; ok && v == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
