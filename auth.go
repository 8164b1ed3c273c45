package aemclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/indrasishbanerjee/aemaacs-mcp-server-sub004/internal/singleflight"
)

// CredentialType selects how the token manager obtains its credential.
type CredentialType string

const (
	// CredentialBasic derives headers from static username/password; no
	// network refresh is ever needed.
	CredentialBasic CredentialType = "basic"
	// CredentialClientCredentials exchanges client id/secret for a bearer
	// token (OAuth2 client-credentials grant).
	CredentialClientCredentials CredentialType = "client-credentials"
	// CredentialServiceAccount signs a short-lived RS256 assertion with a
	// private key and exchanges it for a bearer token (IMS JWT bearer
	// exchange).
	CredentialServiceAccount CredentialType = "service-account"
)

// Credentials configures the token manager. Only the fields for the chosen
// Type are consulted.
type Credentials struct {
	Type CredentialType

	// basic
	Username string
	Password string

	// client-credentials and service-account
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// service-account
	PrivateKeyPEM []byte
	Issuer        string // IMS org id
	Subject       string // technical account id
	Audience      string
	// AssertionTTL bounds the signed assertion's lifetime; defaults to
	// 5 minutes.
	AssertionTTL time.Duration
}

// Token is the currently-valid credential. It is refreshed in place by the
// manager and shared read-only with the orchestrator.
type Token struct {
	Type   CredentialType
	Value  string
	Expiry time.Time
}

func (t *Token) valid(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true // static credential, never expires
	}
	return now.Before(t.Expiry.Add(-margin))
}

// DefaultTokenSafetyMargin is how long before expiry a token is refreshed.
const DefaultTokenSafetyMargin = 30 * time.Second

// TokenManager obtains and refreshes the credential and exposes a
// currently-valid header set. Concurrent callers during an in-flight refresh
// all receive the result of that single refresh.
type TokenManager struct {
	creds        Credentials
	httpClient   *http.Client
	safetyMargin time.Duration
	logger       Logger
	metrics      *MetricsCollector

	mu    sync.RWMutex
	token *Token

	group     *singleflight.Group
	refreshes int64
	failures  int64

	now func() time.Time
}

// NewTokenManager creates a manager for the given credentials.
func NewTokenManager(creds Credentials, httpClient *http.Client) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TokenManager{
		creds:        creds,
		httpClient:   httpClient,
		safetyMargin: DefaultTokenSafetyMargin,
		group:        singleflight.New(),
		now:          time.Now,
	}
}

// Headers returns the header set for the configured credential, refreshing
// first when no token exists or expiry is within the safety margin. A failed
// refresh surfaces as an AUTHENTICATION error; stale or empty headers are
// never returned.
func (tm *TokenManager) Headers(ctx context.Context) (map[string]string, error) {
	tm.mu.RLock()
	tok := tm.token
	tm.mu.RUnlock()

	if !tok.valid(tm.now(), tm.safetyMargin) {
		refreshed, err := tm.refresh(ctx)
		if err != nil {
			return nil, err
		}
		tok = refreshed
	}

	switch tok.Type {
	case CredentialBasic:
		return map[string]string{"Authorization": "Basic " + tok.Value}, nil
	default:
		return map[string]string{"Authorization": "Bearer " + tok.Value}, nil
	}
}

// Token returns the current token, or nil before the first refresh.
func (tm *TokenManager) Token() *Token {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.token
}

// Refreshes reports how many credential exchanges have completed, for stats
// and tests.
func (tm *TokenManager) Refreshes() int64 {
	return atomic.LoadInt64(&tm.refreshes)
}

func (tm *TokenManager) refresh(ctx context.Context) (*Token, error) {
	v, err, _ := tm.group.Do(ctx, "refresh", func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		tm.mu.RLock()
		cur := tm.token
		tm.mu.RUnlock()
		if cur.valid(tm.now(), tm.safetyMargin) {
			return cur, nil
		}

		tok, err := tm.exchange(ctx)
		if err != nil {
			atomic.AddInt64(&tm.failures, 1)
			tm.metrics.RecordTokenRefresh(tm.creds.Type, false)
			return nil, err
		}
		atomic.AddInt64(&tm.refreshes, 1)
		tm.metrics.RecordTokenRefresh(tm.creds.Type, true)

		tm.mu.Lock()
		tm.token = tok
		tm.mu.Unlock()

		if tm.logger != nil {
			tm.logger.Debug("credential refreshed", "type", string(tok.Type), "expiry", tok.Expiry)
		}
		return tok, nil
	})
	if err != nil {
		var ce *ClientError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, newError(KindAuthentication, "", "credential refresh failed", err)
	}
	return v.(*Token), nil
}

func (tm *TokenManager) exchange(ctx context.Context) (*Token, error) {
	switch tm.creds.Type {
	case CredentialBasic:
		if tm.creds.Username == "" {
			return nil, newError(KindAuthentication, "", "basic credentials missing username", nil)
		}
		raw := tm.creds.Username + ":" + tm.creds.Password
		return &Token{
			Type:  CredentialBasic,
			Value: base64.StdEncoding.EncodeToString([]byte(raw)),
		}, nil

	case CredentialClientCredentials:
		return tm.exchangeClientCredentials(ctx)

	case CredentialServiceAccount:
		return tm.exchangeServiceAccount(ctx)

	default:
		return nil, newError(KindAuthentication, "", fmt.Sprintf("unsupported credential type %q", tm.creds.Type), nil)
	}
}

func (tm *TokenManager) exchangeClientCredentials(ctx context.Context) (*Token, error) {
	cfg := clientcredentials.Config{
		ClientID:     tm.creds.ClientID,
		ClientSecret: tm.creds.ClientSecret,
		TokenURL:     tm.creds.TokenURL,
		Scopes:       tm.creds.Scopes,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, tm.httpClient)

	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, newError(KindAuthentication, "", "client-credentials exchange failed", err)
	}
	return &Token{
		Type:   CredentialClientCredentials,
		Value:  tok.AccessToken,
		Expiry: tok.Expiry,
	}, nil
}

// exchangeServiceAccount signs a short-lived assertion and trades it for a
// bearer token at the IMS-style endpoint (JWT bearer grant).
func (tm *TokenManager) exchangeServiceAccount(ctx context.Context) (*Token, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(tm.creds.PrivateKeyPEM)
	if err != nil {
		return nil, newError(KindAuthentication, "", "invalid service-account private key", err)
	}

	ttl := tm.creds.AssertionTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := tm.now()
	claims := jwt.MapClaims{
		"iss": tm.creds.Issuer,
		"sub": tm.creds.Subject,
		"aud": tm.creds.Audience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return nil, newError(KindAuthentication, "", "signing service-account assertion failed", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"client_id":  {tm.creds.ClientID},
		"assertion":  {assertion},
	}
	if tm.creds.ClientSecret != "" {
		form.Set("client_secret", tm.creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newError(KindAuthentication, "", "building token request failed", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return nil, newError(KindAuthentication, "", "token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, newError(KindAuthentication, "", "reading token response failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		ce := newError(KindAuthentication, "", "token endpoint rejected assertion", nil)
		ce.StatusCode = resp.StatusCode
		ce.Details = map[string]any{"body": string(body)}
		return nil, ce
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AccessToken == "" {
		return nil, newError(KindAuthentication, "", "malformed token response", err)
	}

	expiry := tm.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return &Token{
		Type:   CredentialServiceAccount,
		Value:  payload.AccessToken,
		Expiry: expiry,
	}, nil
}
