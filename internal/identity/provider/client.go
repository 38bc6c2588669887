// Package provider is the typed client for the identity provider's
// custom-auth API. The external commerce token is presented as the
// challenge answer of a password-less flow; on success the provider hands
// back a token set that the vault keeps for session restores.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/authbridge/internal/identity"
	"github.com/dropDatabas3/authbridge/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	initiatePath   = "/auth/initiate"
	refreshPath    = "/auth/refresh"
	principalPath  = "/auth/principal"
	attributesPath = "/auth/principal/attributes"
	signOutPath    = "/auth/signout"

	// customAuthFlow is the flow variant that skips SRP: the credential is
	// passed directly as the challenge answer.
	customAuthFlow = "CUSTOM_AUTH_NO_SRP"

	challengeAnswerParam = "CHALLENGE_ANSWER"
)

// Config configures the provider client.
type Config struct {
	// BaseURL of the identity provider API.
	BaseURL string
	// ClientID identifies this app to the provider.
	ClientID string
	// Timeout bounds each HTTP call. Default 10s.
	Timeout time.Duration
	// Vault persists the provider token set. Defaults to an in-memory vault.
	Vault TokenVault
}

// Client performs the custom-auth exchange and session queries.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	vault    TokenVault
}

// New builds a provider client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	vault := cfg.Vault
	if vault == nil {
		vault = NewMemoryVault()
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		clientID: cfg.ClientID,
		http:     &http.Client{Timeout: timeout},
		vault:    vault,
	}
}

type initiateRequest struct {
	ClientID       string            `json:"client_id"`
	AuthFlow       string            `json:"auth_flow"`
	Username       string            `json:"username"`
	AuthParameters map[string]string `json:"auth_parameters"`
}

type refreshRequest struct {
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
}

type authenticationResult struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type initiateResponse struct {
	AuthenticationResult *authenticationResult `json:"authentication_result,omitempty"`
	// ChallengeName set means the flow needs a further step this client
	// does not support.
	ChallengeName string `json:"challenge_name,omitempty"`
}

type principalResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type attributesResponse struct {
	Attributes map[string]string `json:"attributes"`
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Exchange runs one custom-auth exchange: tenant id as username, external
// token as challenge answer. On success the token set is persisted and the
// principal assembled from the follow-up reads. No partial state survives a
// failure on any step.
func (c *Client) Exchange(ctx context.Context, req identity.ExchangeRequest) (*identity.Principal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logger.From(ctx).With(logger.Layer("provider"), logger.Op("Exchange"), logger.TenantID(req.TenantID))

	var out initiateResponse
	err := c.post(ctx, initiatePath, initiateRequest{
		ClientID: c.clientID,
		AuthFlow: customAuthFlow,
		Username: req.TenantID,
		AuthParameters: map[string]string{
			challengeAnswerParam: req.ExternalToken,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.AuthenticationResult == nil {
		if out.ChallengeName != "" {
			log.Warn("flow stopped at unsupported challenge", zap.String("challenge", out.ChallengeName))
			return nil, &identity.Error{Kind: identity.KindSignInIncomplete, Msg: "challenge " + out.ChallengeName + " not supported"}
		}
		return nil, &identity.Error{Kind: identity.KindSignInIncomplete, Msg: "provider returned no session"}
	}

	ts := tokenSetFrom(out.AuthenticationResult)
	principal, err := c.fetchPrincipal(ctx, ts)
	if err != nil {
		return nil, err
	}
	if err := c.vault.Save(ts); err != nil {
		return nil, &identity.Error{Kind: identity.KindProviderFailure, Msg: "persist token set", Err: err}
	}
	log.Info("exchange complete", logger.PrincipalID(principal.ID))
	return principal, nil
}

// CurrentPrincipal queries for an existing provider session without
// presenting new credentials. (nil, nil) means no active session and is not
// an error; only transport/protocol failures are.
func (c *Client) CurrentPrincipal(ctx context.Context) (*identity.Principal, error) {
	ts, err := c.vault.Load()
	if err != nil {
		return nil, &identity.Error{Kind: identity.KindProviderFailure, Msg: "load token set", Err: err}
	}
	if ts == nil {
		return nil, nil
	}

	if ts.Expired(time.Now()) {
		ts, err = c.refresh(ctx, ts)
		if err != nil {
			return nil, err
		}
		if ts == nil {
			// Refresh token rejected: the provider session is gone.
			_ = c.vault.Clear()
			return nil, nil
		}
	}

	principal, err := c.fetchPrincipal(ctx, *ts)
	if err != nil {
		if identity.KindOf(err) == identity.KindTokenExpired || isUnauthorized(err) {
			_ = c.vault.Clear()
			return nil, nil
		}
		return nil, err
	}
	return principal, nil
}

// SignOut invalidates the provider session. Signing out with no active
// session succeeds. The vault is cleared even when the provider call fails,
// so local state never claims a session that was asked to end.
func (c *Client) SignOut(ctx context.Context) error {
	ts, err := c.vault.Load()
	if err != nil {
		return &identity.Error{Kind: identity.KindProviderFailure, Msg: "load token set", Err: err}
	}
	if ts == nil {
		return nil
	}
	callErr := c.authorized(ctx, http.MethodPost, signOutPath, ts.AccessToken, nil)
	if clearErr := c.vault.Clear(); clearErr != nil && callErr == nil {
		return &identity.Error{Kind: identity.KindProviderFailure, Msg: "clear token set", Err: clearErr}
	}
	if callErr != nil && isUnauthorized(callErr) {
		// Session already gone on the provider side: idempotent success.
		return nil
	}
	return callErr
}

// refresh exchanges the refresh token for a new token set, persisting it.
// Returns (nil, nil) when the provider rejects the refresh token.
func (c *Client) refresh(ctx context.Context, old *TokenSet) (*TokenSet, error) {
	if old.RefreshToken == "" {
		return nil, nil
	}
	var out initiateResponse
	err := c.post(ctx, refreshPath, refreshRequest{
		ClientID:     c.clientID,
		RefreshToken: old.RefreshToken,
	}, &out)
	if err != nil {
		if isUnauthorized(err) || identity.KindOf(err) == identity.KindTokenExpired {
			return nil, nil
		}
		return nil, err
	}
	if out.AuthenticationResult == nil {
		return nil, nil
	}
	ts := tokenSetFrom(out.AuthenticationResult)
	if ts.RefreshToken == "" {
		ts.RefreshToken = old.RefreshToken
	}
	if err := c.vault.Save(ts); err != nil {
		return nil, &identity.Error{Kind: identity.KindProviderFailure, Msg: "persist refreshed token set", Err: err}
	}
	return &ts, nil
}

// fetchPrincipal reads the principal record and its attribute set. Missing
// attributes fall back to the ID token's claims, then stay absent; neither
// is a failure.
func (c *Client) fetchPrincipal(ctx context.Context, ts TokenSet) (*identity.Principal, error) {
	var pr principalResponse
	if err := c.authorized(ctx, http.MethodGet, principalPath, ts.AccessToken, &pr); err != nil {
		return nil, err
	}
	p := &identity.Principal{ID: pr.ID, Username: pr.Username}

	var ar attributesResponse
	if err := c.authorized(ctx, http.MethodGet, attributesPath, ts.AccessToken, &ar); err != nil {
		return nil, err
	}
	p.Email = ar.Attributes["email"]
	p.Name = ar.Attributes["name"]

	if ts.IDToken != "" && (p.Email == "" || p.Name == "" || p.ID == "") {
		sub, username, email, name := identityClaims(ts.IDToken)
		if p.ID == "" {
			p.ID = sub
		}
		if p.Username == "" {
			p.Username = username
		}
		if p.Email == "" {
			p.Email = email
		}
		if p.Name == "" {
			p.Name = name
		}
	}
	return p, nil
}

func tokenSetFrom(res *authenticationResult) TokenSet {
	ts := TokenSet{
		AccessToken:  res.AccessToken,
		IDToken:      res.IDToken,
		RefreshToken: res.RefreshToken,
	}
	if res.ExpiresIn > 0 {
		ts.ExpiresAt = time.Now().Add(time.Duration(res.ExpiresIn) * time.Second)
	} else if exp, ok := tokenExpiry(res.AccessToken); ok {
		ts.ExpiresAt = exp
	}
	return ts
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return &identity.Error{Kind: identity.KindProviderFailure, Msg: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return &identity.Error{Kind: identity.KindProviderFailure, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) authorized(ctx context.Context, method, path, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return &identity.Error{Kind: identity.KindProviderFailure, Msg: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &identity.Error{Kind: identity.KindProviderFailure, Msg: "call " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return mapAPIError(req.URL.Path, resp.StatusCode, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &identity.Error{Kind: identity.KindProviderFailure, Msg: "decode " + req.URL.Path, Err: err}
	}
	return nil
}

// statusError preserves the HTTP status for isUnauthorized checks while the
// public error stays within the identity taxonomy.
type statusError struct {
	status int
	code   string
	desc   string
}

func (e *statusError) Error() string {
	if e.desc != "" {
		return fmt.Sprintf("provider status %d: %s (%s)", e.status, e.code, e.desc)
	}
	if e.code != "" {
		return fmt.Sprintf("provider status %d: %s", e.status, e.code)
	}
	return fmt.Sprintf("provider status %d", e.status)
}

func mapAPIError(path string, status int, apiErr apiError) error {
	inner := &statusError{status: status, code: apiErr.Error, desc: apiErr.ErrorDescription}
	kind := identity.KindProviderFailure
	if apiErr.Error == "token_expired" {
		kind = identity.KindTokenExpired
	}
	return &identity.Error{Kind: kind, Msg: "call " + path, Err: inner}
}

func isUnauthorized(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.status == http.StatusUnauthorized
}
