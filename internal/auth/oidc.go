package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/runeforge/server/internal/config"
	"github.com/runeforge/server/internal/model"
)

// Identity is what the provider tells us about a logged-in user.
type Identity struct {
	Subject     string `json:"sub"`
	Name        string `json:"name"`
	Username    string `json:"preferred_username"`
	Email       string `json:"email"`
}

// DisplayName picks the best human-readable name the provider offered.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if i.Username != "" {
		return i.Username
	}
	return i.Subject
}

// providerEndpoints is the discovery subset we need.
type providerEndpoints struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// Provider wraps the OIDC identity provider (Pocket ID in deployment).
type Provider struct {
	oauth    oauth2.Config
	userinfo string
	client   *http.Client
}

// NewProvider discovers the provider's endpoints from its issuer URL.
func NewProvider(ctx context.Context, cfg config.AuthConfig) (*Provider, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL not configured")
	}
	client := &http.Client{Timeout: 10 * time.Second}

	wellKnown := strings.TrimSuffix(cfg.IssuerURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching provider discovery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider discovery returned %d", resp.StatusCode)
	}
	var eps providerEndpoints
	if err := json.NewDecoder(resp.Body).Decode(&eps); err != nil {
		return nil, fmt.Errorf("parsing provider discovery: %w", err)
	}
	if eps.AuthorizationEndpoint == "" || eps.TokenEndpoint == "" || eps.UserinfoEndpoint == "" {
		return nil, fmt.Errorf("provider discovery is missing endpoints")
	}

	return &Provider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  eps.AuthorizationEndpoint,
				TokenURL: eps.TokenEndpoint,
			},
		},
		userinfo: eps.UserinfoEndpoint,
		client:   client,
	}, nil
}

// AuthURL builds the provider redirect for a login attempt.
func (p *Provider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades the callback code for an identity via the userinfo
// endpoint.
func (p *Provider) Exchange(ctx context.Context, code string) (*Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfo, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	tok.SetAuthHeader(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("parsing userinfo: %w", err)
	}
	if id.Subject == "" {
		return nil, fmt.Errorf("userinfo has no subject")
	}
	return &id, nil
}

// User converts the provider identity into our user model.
func (i Identity) User() *model.User {
	return &model.User{
		ID:          i.Subject,
		DisplayName: i.DisplayName(),
		Email:       i.Email,
	}
}
