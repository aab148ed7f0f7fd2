// Package gdrive uploads relay files to a Google Drive folder using a
// service-account identity. Tokens are minted directly with a signed
// JWT-bearer grant, so no SDK or refresh-token state is involved.
package gdrive

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	driveScope      = "https://www.googleapis.com/auth/drive"

	// tokens are reused until shortly before expiry so a commit never
	// starts with a token about to lapse mid-upload
	tokenExpirySlack = time.Minute
)

type TokenSourceOptions struct {
	ClientEmail string
	PrivateKey  string
	TokenURL    string
	HTTPClient  *http.Client
}

// TokenSource mints and caches service-account access tokens.
type TokenSource struct {
	clientEmail string
	key         *rsa.PrivateKey
	tokenURL    string
	httpClient  *http.Client
	now         func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenSource(opts TokenSourceOptions) (*TokenSource, error) {
	email := strings.TrimSpace(opts.ClientEmail)
	if email == "" {
		return nil, fmt.Errorf("google client email is required")
	}
	// env files carry the key with literal \n sequences
	pemText := strings.ReplaceAll(opts.PrivateKey, `\n`, "\n")
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("parse google private key: %w", err)
	}
	tokenURL := strings.TrimSpace(opts.TokenURL)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &TokenSource{
		clientEmail: email,
		key:         key,
		tokenURL:    tokenURL,
		httpClient:  httpClient,
		now:         time.Now,
	}, nil
}

// Token returns a cached access token, minting a fresh one when the cached
// token is within a minute of expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if ts == nil {
		return "", fmt.Errorf("token source is nil")
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && ts.now().Before(ts.expires.Add(-tokenExpirySlack)) {
		return ts.token, nil
	}

	assertion, err := ts.signAssertion()
	if err != nil {
		return "", err
	}
	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("token grant failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", fmt.Errorf("decode token grant: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("token grant returned no access_token")
	}
	ts.token = grant.AccessToken
	ts.expires = ts.now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	return ts.token, nil
}

func (ts *TokenSource) signAssertion() (string, error) {
	now := ts.now()
	claims := jwt.MapClaims{
		"iss":   ts.clientEmail,
		"scope": driveScope,
		"aud":   ts.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(ts.key)
}
