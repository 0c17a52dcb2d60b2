package dhis2

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// authorize returns an http.Client that authenticates every request. OAuth2
// client credentials are used when a client id is configured, basic auth
// otherwise.
func authorize(base *http.Client, cfg Config) (*http.Client, bool, error) {
	if cfg.ClientID == "" {
		return base, true, nil
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/api") + "/uaa/oauth/token"
	}
	if cfg.ClientSecret == "" {
		return nil, false, fmt.Errorf("dhis2 oauth2 client %q has no secret", cfg.ClientID)
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// Token requests reuse the tuned transport and its timeout.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = base.Timeout
	return client, false, nil
}
