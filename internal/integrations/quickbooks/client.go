package quickbooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/integrations"
	"github.com/finsync/integration-connector/internal/platform/logger"
	"github.com/sirupsen/logrus"
)

const (
	apiVersion     = "v3"
	maxPageSize    = 1000
	sandboxApiBase = "https://sandbox-quickbooks.api.intuit.com"
	prodApiBase    = "https://quickbooks.api.intuit.com"
)

var kindToEntity = map[domain.ObjectKind]string{
	domain.CustomerKind: "Customer",
	domain.InvoiceKind:  "Invoice",
}

// Capability is the QuickBooks implementation of the vendor capability
// contract.  QuickBooks wire types must not leak outside this package.
type Capability struct {
	apiBaseUrl string
	pageSize   int
	httpClient *http.Client
	oauth      *OAuthClient
}

func NewCapability(cfg *config.Config) *Capability {

	apiBaseUrl := sandboxApiBase
	if cfg.QuickBooksEnvironment == "production" {
		apiBaseUrl = prodApiBase
	}

	pageSize := cfg.SyncPageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return &Capability{
		apiBaseUrl: apiBaseUrl,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: cfg.SyncFetchTimeout},
		oauth:      NewOAuthClient(cfg),
	}
}

func (c *Capability) ObjectKinds() []domain.ObjectKind {
	return []domain.ObjectKind{domain.CustomerKind, domain.InvoiceKind}
}

func (c *Capability) FetchSince(ctx context.Context, account domain.IntegrationAccount, kind domain.ObjectKind, watermark time.Time, startPosition int) (*integrations.Page, error) {

	entity, ok := kindToEntity[kind]
	if !ok {
		return nil, &integrations.TerminalError{Err: fmt.Errorf("unsupported object kind: %s", kind)}
	}

	if startPosition < 1 {
		startPosition = 1
	}

	query := buildChangeQuery(entity, watermark, startPosition, c.pageSize)

	log := logger.Log.WithFields(logrus.Fields{
		"account_id":  account.ID,
		"object_kind": kind,
	})
	log.Debug("Running QuickBooks query: ", query)

	queryResponse, err := c.executeQuery(ctx, account, query)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if rawItems, ok := queryResponse[entity]; ok {
		if err := json.Unmarshal(rawItems, &items); err != nil {
			return nil, &integrations.TerminalError{Err: fmt.Errorf("malformed %s query response: %w", entity, err)}
		}
	}

	records := make([]integrations.VendorRecord, 0, len(items))
	for _, item := range items {
		records = append(records, parseRecord(item))
	}

	return &integrations.Page{
		Records:      records,
		HasMore:      len(records) == c.pageSize,
		NextPosition: startPosition + len(records),
	}, nil
}

func (c *Capability) RefreshCredentials(ctx context.Context, credentials domain.CredentialSet) (domain.CredentialSet, error) {
	return c.oauth.RefreshAccessToken(ctx, credentials.RefreshToken)
}

// buildChangeQuery produces a QuickBooks change query for one cursor window.
// The window is inclusive of the watermark instant and ordered by
// (LastUpdatedTime, Id) so a record sharing the boundary timestamp is never
// skipped between cycles.
func buildChangeQuery(entity string, watermark time.Time, startPosition int, pageSize int) string {
	query := "SELECT * FROM " + entity

	clauses := ""
	if entity == "Customer" {
		clauses = " WHERE Active IN (true, false)"
	}

	if watermark.After(domain.MinWatermark) {
		if clauses == "" {
			clauses = " WHERE"
		} else {
			clauses += " AND"
		}
		clauses += fmt.Sprintf(" MetaData.LastUpdatedTime >= '%s'", watermark.UTC().Format("2006-01-02T15:04:05Z"))
	}

	query += clauses
	query += " ORDERBY MetaData.LastUpdatedTime, Id"
	query += fmt.Sprintf(" STARTPOSITION %d MAXRESULTS %d", startPosition, pageSize)

	return query
}

func (c *Capability) executeQuery(ctx context.Context, account domain.IntegrationAccount, query string) (map[string]json.RawMessage, error) {

	queryUrl := fmt.Sprintf("%s/%s/company/%s/query?query=%s",
		c.apiBaseUrl,
		apiVersion,
		account.ExternalAccountID,
		url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryUrl, nil)
	if err != nil {
		return nil, &integrations.TerminalError{Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+account.Credentials.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, integrations.ClassifyNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, integrations.ClassifyNetworkError(err)
	}

	if err := classifyResponseStatus(resp, body); err != nil {
		return nil, err
	}

	var envelope struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &integrations.TerminalError{Err: fmt.Errorf("malformed query response: %w", err)}
	}

	return envelope.QueryResponse, nil
}

// classifyResponseStatus maps QuickBooks HTTP failures onto the vendor error
// taxonomy so the orchestrator can pick a retry strategy.
func classifyResponseStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	err := fmt.Errorf("quickbooks api returned status %d: %s", resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &integrations.CredentialExpiredError{Err: err}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &integrations.RateLimitError{RetryAfter: parseRetryAfter(resp), Err: err}
	case resp.StatusCode >= 500:
		return &integrations.TransientError{Err: err}
	default:
		return &integrations.TerminalError{Err: err}
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// parseRecord extracts the natural id and update timestamp while leaving the
// payload untouched.  Records missing either field are passed through for the
// normalizer to reject per-record.
func parseRecord(item json.RawMessage) integrations.VendorRecord {

	var metadata struct {
		Id       string `json:"Id"`
		MetaData struct {
			LastUpdatedTime string `json:"LastUpdatedTime"`
		} `json:"MetaData"`
	}

	record := integrations.VendorRecord{Payload: item}

	if err := json.Unmarshal(item, &metadata); err != nil {
		logger.LogError("Unable to extract metadata from vendor record", err)
		return record
	}

	record.ExternalID = metadata.Id

	if metadata.MetaData.LastUpdatedTime != "" {
		updatedAt, err := parseQuickBooksTimestamp(metadata.MetaData.LastUpdatedTime)
		if err != nil {
			logger.LogError("Unable to parse vendor record timestamp", err)
		} else {
			record.UpdatedAt = updatedAt
		}
	}

	return record
}

func parseQuickBooksTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02T15:04:05Z"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp format: " + value)
}
