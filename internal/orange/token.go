package orange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/sahelsms/orange-gateway/pkg/logger"
)

// TokenSafetyMargin guards against the carrier expiring a token while a
// request carrying it is in flight.
const TokenSafetyMargin = 60 * time.Second

// TokenStore receives every refreshed token so it survives process restarts.
// Implementations must tolerate being called under the manager's lock.
type TokenStore interface {
	SaveToken(ctx context.Context, token string, expiresAt time.Time) error
}

type TokenManagerConfig struct {
	OAuthURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration

	// Seed credentials restored from configuration at startup.
	SeedToken  string
	SeedExpiry time.Time
}

// TokenManager owns the one process-wide cached bearer token. Refreshes are
// serialized behind the mutex so concurrent callers trigger a single
// client-credentials exchange.
type TokenManager struct {
	cfg    TokenManagerConfig
	store  TokenStore
	client *fasthttp.Client
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenManager(cfg TokenManagerConfig, store TokenStore, client *fasthttp.Client) *TokenManager {
	if client == nil {
		client = &fasthttp.Client{
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		}
	}
	return &TokenManager{
		cfg:       cfg,
		store:     store,
		client:    client,
		now:       time.Now,
		token:     cfg.SeedToken,
		expiresAt: cfg.SeedExpiry,
	}
}

// GetToken returns the cached token, refreshing it first when absent or
// within the safety margin of its expiry.
func (t *TokenManager) GetToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && t.now().Add(TokenSafetyMargin).Before(t.expiresAt) {
		return t.token, nil
	}
	if err := t.refreshLocked(ctx); err != nil {
		return "", err
	}
	return t.token, nil
}

type tokenResponse struct {
	TokenType   string      `json:"token_type"`
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (t *TokenManager) refreshLocked(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.cfg.OAuthURL + "/token")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.Header.Set(fasthttp.HeaderAuthorization, "Basic "+basicAuth(t.cfg.ClientID, t.cfg.ClientSecret))
	req.SetBodyString("grant_type=client_credentials")

	if err := t.client.DoDeadline(req, resp, callDeadline(ctx, t.cfg.Timeout, t.now)); err != nil {
		return &APIError{HTTPCode: fasthttp.StatusBadGateway, Message: "token request failed", Description: err.Error()}
	}

	var tr tokenResponse
	body := resp.Body()
	if err := json.Unmarshal(body, &tr); err != nil || tr.TokenType == "" {
		return NewAPIError(resp.StatusCode(), body)
	}

	expiresIn, err := tr.ExpiresIn.Int64()
	if err != nil {
		return NewAPIError(resp.StatusCode(), body)
	}

	t.token = tr.AccessToken
	t.expiresAt = t.now().Add(time.Duration(expiresIn)*time.Second - TokenSafetyMargin)

	logger.Info("carrier token refreshed", "expires_at", t.expiresAt)

	if t.store != nil {
		// Write-through is best effort: a failed save only costs an extra
		// refresh after restart.
		if err := t.store.SaveToken(ctx, t.token, t.expiresAt); err != nil {
			logger.Warn("failed to persist refreshed token", "error", err)
		}
	}
	return nil
}

func basicAuth(id, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))
}

func callDeadline(ctx context.Context, timeout time.Duration, now func() time.Time) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return now().Add(timeout)
}
