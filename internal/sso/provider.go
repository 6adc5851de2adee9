// Package sso implements the OAuth 2.0 authorization-code login used for
// single sign-on.
package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"golang.org/x/oauth2"
)

var ErrEmailNotVerified = errors.New("provider email not verified")

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
}

type Provider struct {
	oauth       *oauth2.Config
	userInfoURL string
}

func NewProvider(cfg Config) *Provider {
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: []string{"openid", "email", "profile"},
		},
		userInfoURL: cfg.UserInfoURL,
	}
}

func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type userInfo struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
}

// Email exchanges code for a token and returns the account's verified,
// normalized email address.
func (p *Provider) Email(ctx context.Context, code string) (string, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("build userinfo request: %w", err)
	}
	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Email == "" || (info.EmailVerified != nil && !*info.EmailVerified) {
		return "", ErrEmailNotVerified
	}
	return domain.NormalizeEmail(info.Email), nil
}
