// Package auth attaches authentication material to outbound API requests.
//
// The engine treats authentication as opaque header construction: an
// Authenticator is selected once from the configured auth_method and applied
// to every request the engine builds. Configured static headers are applied
// separately by the request builder; an authenticator only contributes the
// credential itself.
package auth

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/resttap/resttap/pkg/config"
	"github.com/resttap/resttap/pkg/errors"
)

// Authenticator applies credentials to an outbound request.
type Authenticator interface {
	// Apply mutates the request, typically by setting headers. It must be
	// safe to call once per request for the lifetime of a run.
	Apply(req *http.Request) error
}

// New selects an authenticator from the configured auth_method.
func New(ctx context.Context, cfg *config.ConnectorConfig) (Authenticator, error) {
	switch cfg.AuthMethod {
	case config.AuthNone, "":
		return noAuth{}, nil

	case config.AuthAPIKey:
		if len(cfg.APIKeys) == 0 {
			return nil, errors.New(errors.ErrorTypeConfig, "auth_method api_key requires api_keys")
		}
		return &apiKeyAuth{headers: cfg.APIKeys}, nil

	case config.AuthBasic:
		if cfg.Username == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "auth_method basic requires username")
		}
		return &basicAuth{username: cfg.Username, password: cfg.Password}, nil

	case config.AuthBearer:
		if cfg.BearerToken == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "auth_method bearer_token requires bearer_token")
		}
		return &bearerAuth{token: cfg.BearerToken}, nil

	case config.AuthOAuth:
		if cfg.AccessTokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, errors.New(errors.ErrorTypeConfig,
				"auth_method oauth requires access_token_url, client_id, and client_secret")
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.AccessTokenURL,
			Scopes:       splitScopes(cfg.Scope),
		}
		return &oauthAuth{source: cc.TokenSource(ctx)}, nil

	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown auth_method %q", cfg.AuthMethod)
	}
}

type noAuth struct{}

func (noAuth) Apply(*http.Request) error { return nil }

// apiKeyAuth sets every configured key header on the request.
type apiKeyAuth struct {
	headers map[string]string
}

func (a *apiKeyAuth) Apply(req *http.Request) error {
	for header, value := range a.headers {
		req.Header.Set(header, value)
	}
	return nil
}

type basicAuth struct {
	username string
	password string
}

func (a *basicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(a.username, a.password)
	return nil
}

type bearerAuth struct {
	token string
}

func (a *bearerAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.token)
	return nil
}

// oauthAuth exchanges client credentials for an access token; the TokenSource
// caches the token and refreshes it when expired.
type oauthAuth struct {
	source oauth2.TokenSource
}

func (a *oauthAuth) Apply(req *http.Request) error {
	token, err := a.source.Token()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to obtain access token")
	}
	token.SetAuthHeader(req)
	return nil
}

func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	return fields
}
