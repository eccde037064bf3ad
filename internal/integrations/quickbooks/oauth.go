package quickbooks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/integrations"
)

const tokenUrl = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"

// OAuthClient handles the QuickBooks authorization-code exchange and
// refresh-token grant.
type OAuthClient struct {
	clientId     string
	clientSecret string
	redirectUri  string
	tokenUrl     string
	httpClient   *http.Client
}

func NewOAuthClient(cfg *config.Config) *OAuthClient {
	return &OAuthClient{
		clientId:     cfg.QuickBooksClientId,
		clientSecret: cfg.QuickBooksClientSecret,
		redirectUri:  cfg.QuickBooksRedirectUri,
		tokenUrl:     tokenUrl,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (oc *OAuthClient) ExchangeCodeForTokens(ctx context.Context, authorizationCode string) (domain.CredentialSet, error) {

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", authorizationCode)
	form.Set("redirect_uri", oc.redirectUri)

	return oc.requestTokens(ctx, form)
}

func (oc *OAuthClient) RefreshAccessToken(ctx context.Context, refreshToken string) (domain.CredentialSet, error) {

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return oc.requestTokens(ctx, form)
}

func (oc *OAuthClient) requestTokens(ctx context.Context, form url.Values) (domain.CredentialSet, error) {

	var credentials domain.CredentialSet

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oc.tokenUrl, strings.NewReader(form.Encode()))
	if err != nil {
		return credentials, &integrations.TerminalError{Err: err}
	}

	req.Header.Set("Authorization", oc.buildAuthHeader())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := oc.httpClient.Do(req)
	if err != nil {
		return credentials, integrations.ClassifyNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return credentials, integrations.ClassifyNetworkError(err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return credentials, &integrations.TransientError{Err: err}
		}
		// 400 on a refresh grant means the refresh token was revoked or
		// expired - re-authorization is the only way forward.
		return credentials, &integrations.TerminalError{Err: err}
	}

	return parseTokenResponse(body)
}

func (oc *OAuthClient) buildAuthHeader() string {
	credentials := oc.clientId + ":" + oc.clientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

func parseTokenResponse(body []byte) (domain.CredentialSet, error) {

	var tokenResponse struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}

	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return domain.CredentialSet{}, &integrations.TerminalError{Err: fmt.Errorf("malformed token response: %w", err)}
	}

	if tokenResponse.AccessToken == "" || tokenResponse.RefreshToken == "" {
		return domain.CredentialSet{}, &integrations.TerminalError{Err: fmt.Errorf("token response missing tokens")}
	}

	expiresIn := tokenResponse.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	return domain.CredentialSet{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
