package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"tiktok-sheets/internal/config"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	clientKeyUnknown    = "unknown"
)

var (
	errMissingAPIKey = errors.New("missing api key header")
	errInvalidAPIKey = errors.New("invalid api key")
	errRateLimited   = errors.New("rate limit exceeded")
)

type clientCtxKey struct{}

// ClientName returns the name of the authenticated API client.
func ClientName(ctx context.Context) string {
	name, _ := ctx.Value(clientCtxKey{}).(string)
	return name
}

// APIKeyAuth checks the API key header and applies the per-key rate limit.
type APIKeyAuth struct {
	header  string
	clients []config.APIClientKey
	limiter *rateLimiter
}

func NewAPIKeyAuth(cfg config.APIConfig) *APIKeyAuth {
	header := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return &APIKeyAuth{
		header:  header,
		clients: cfg.Auth.APIKeys,
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := a.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if err := a.checkRateLimit(client.Key); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), clientCtxKey{}, client.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *APIKeyAuth) authenticate(r *http.Request) (config.APIClientKey, error) {
	key := strings.TrimSpace(r.Header.Get(a.header))
	if key == "" {
		return config.APIClientKey{}, errMissingAPIKey
	}
	var (
		found  config.APIClientKey
		result int
	)
	for _, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(c.Key), []byte(key)) == 1 {
			found = c
			result = 1
		}
	}
	if result != 1 {
		return config.APIClientKey{}, errInvalidAPIKey
	}
	return found, nil
}

func (a *APIKeyAuth) checkRateLimit(key string) error {
	if !a.limiter.enabled() {
		return nil
	}
	if !a.limiter.getLimiter(key).Allow() {
		return errRateLimited
	}
	return nil
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
