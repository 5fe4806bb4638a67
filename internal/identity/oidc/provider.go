// Package oidc adapts the external identity collaborator. The portal consumes
// decoded claims only; signature verification happens at the collaborator,
// which must be configured accordingly.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fairfin/internal/platform/config"
	dErrors "fairfin/pkg/domain-errors"
)

// Claims are the identity facts the portal consumes after a login.
type Claims struct {
	SubjectID string
	Email     string
}

// TokenSet is the opaque token response from the collaborator. Only IDToken is
// decoded; the rest is passed through for the presentation layer.
type TokenSet struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Provider exchanges authorization codes against an Auth0-style token
// endpoint and decodes the resulting ID token claims.
type Provider struct {
	cfg    config.Auth0Config
	client *http.Client
}

func NewProvider(cfg config.Auth0Config) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// BuildAuthURL returns the collaborator's authorization URL. The requested
// role travels in the state parameter as a hint only; it never grants
// anything (the stored role wins at authentication).
func (p *Provider) BuildAuthURL(roleHint string) string {
	params := url.Values{
		"client_id":     {p.cfg.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {p.cfg.RedirectURI},
		"scope":         {"openid profile email"},
		"state":         {roleHint},
		"prompt":        {"select_account"},
	}
	return fmt.Sprintf("https://%s/authorize?%s", p.cfg.Domain, params.Encode())
}

// Exchange trades an authorization code for a token set.
func (p *Provider) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	if code == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authorization code is required")
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.cfg.RedirectURI},
	}

	endpoint := fmt.Sprintf("https://%s/oauth/token", p.cfg.Domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token exchange failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "token exchange failed: status %d", resp.StatusCode)
	}

	var tokens TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "malformed token response")
	}
	if tokens.IDToken == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token response missing id_token")
	}
	return &tokens, nil
}

// DecodeClaims extracts subject and email from an ID token without verifying
// the signature locally. The collaborator verifies signatures; the portal
// treats the decoded claims as the trust boundary.
func DecodeClaims(idToken string) (*Claims, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "malformed id token")
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if sub == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "id token missing subject")
	}
	if email == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "id token missing email")
	}
	return &Claims{SubjectID: sub, Email: email}, nil
}
