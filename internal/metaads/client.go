// Package metaads is a small client for the Meta Marketing (Graph) API
// covering custom audience CRUD, lookalike creation and hashed user upload.
package metaads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/audience-sync/internal/config"
	"github.com/ignite/audience-sync/internal/hashing"
	"github.com/ignite/audience-sync/internal/pkg/httpretry"
	"github.com/ignite/audience-sync/internal/pkg/logger"
)

const audienceFields = "id,name,subtype,approximate_count_lower_bound,approximate_count_upper_bound,operation_status,delivery_status"

// Client is a Meta Graph API client bound to one set of credentials
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient httpretry.HTTPDoer
	// createClient sends audience creation POSTs, which are not idempotent
	createClient httpretry.HTTPDoer
	chunkSize    int
}

// NewClient creates a client for the configured Graph API version
func NewClient(cfg config.MetaConfig, creds Credentials) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	chunk := cfg.UploadChunkSize
	if chunk <= 0 || chunk > MaxUsersPerRequest {
		chunk = MaxUsersPerRequest
	}
	transport := &http.Client{Timeout: timeout}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		creds:      creds,
		httpClient: httpretry.NewRetryClient(transport, cfg.MaxRetries),
		// A 5xx or lost response may still have created the audience;
		// only throttled requests are safe to resend.
		createClient: httpretry.NewRetryClient(transport, cfg.MaxRetries,
			httpretry.WithRetryableStatuses(http.StatusTooManyRequests),
			httpretry.WithoutTransportRetries()),
		chunkSize: chunk,
	}
}

func (c *Client) createDoer() httpretry.HTTPDoer {
	if c.createClient != nil {
		return c.createClient
	}
	return c.httpClient
}

// Credentials returns the credentials the client was built with.
func (c *Client) Credentials() Credentials { return c.creds }

// IsConfigured reports whether the client can reach an ad account.
func (c *Client) IsConfigured() bool { return c.creds.IsConfigured() }

func (c *Client) requireToken() error {
	if c.creds.AccessToken == "" {
		return &ConfigError{Field: "access_token"}
	}
	return nil
}

func (c *Client) requireAccount() error {
	if err := c.requireToken(); err != nil {
		return err
	}
	if c.creds.AdAccountID == "" {
		return &ConfigError{Field: "ad_account_id"}
	}
	return nil
}

// get issues a GET with the token in the query string
func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.creds.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, dst)
}

// sendJSON issues a POST or DELETE with the token in the JSON body
func (c *Client) sendJSON(ctx context.Context, method, path string, body map[string]any, dst any) error {
	req, err := c.jsonRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.do(req, dst)
}

// createAudience posts to the account's customaudiences edge without
// retrying server errors.
func (c *Client) createAudience(ctx context.Context, body map[string]any, dst any) error {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/act_"+c.creds.AdAccountID+"/customaudiences", body)
	if err != nil {
		return err
	}
	return c.doWith(c.createDoer(), req, dst)
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body map[string]any) (*http.Request, error) {
	if body == nil {
		body = map[string]any{}
	}
	body["access_token"] = c.creds.AccessToken

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, dst any) error {
	return c.doWith(c.httpClient, req, dst)
}

func (c *Client) doWith(doer httpretry.HTTPDoer, req *http.Request, dst any) error {
	resp, err := doer.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var envelope struct {
		Error *graphError `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || envelope.Error != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if envelope.Error != nil {
			apiErr.Message = envelope.Error.Message
			apiErr.Type = envelope.Error.Type
			apiErr.Code = envelope.Error.Code
			apiErr.TraceID = envelope.Error.FBTraceID
		}
		return apiErr
	}

	if dst == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// ListAudiences returns the custom audiences of the ad account. An unset
// account yields an empty list without calling out.
func (c *Client) ListAudiences(ctx context.Context) ([]AudienceSummary, error) {
	if c.creds.AdAccountID == "" {
		return []AudienceSummary{}, nil
	}
	if err := c.requireToken(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("fields", audienceFields)
	params.Set("limit", "300")

	var resp struct {
		Data []graphAudience `json:"data"`
	}
	if err := c.get(ctx, "/act_"+c.creds.AdAccountID+"/customaudiences", params, &resp); err != nil {
		return nil, fmt.Errorf("list audiences: %w", err)
	}

	out := make([]AudienceSummary, 0, len(resp.Data))
	for _, a := range resp.Data {
		out = append(out, a.summary())
	}
	return out, nil
}

// GetAudience fetches one remote audience.
func (c *Client) GetAudience(ctx context.Context, audienceID string) (*AudienceSummary, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("fields", audienceFields)

	var resp graphAudience
	if err := c.get(ctx, "/"+audienceID, params, &resp); err != nil {
		return nil, fmt.Errorf("get audience %s: %w", audienceID, err)
	}
	s := resp.summary()
	return &s, nil
}

// CreateCustomAudience creates a website (pixel) or customer-file audience.
func (c *Client) CreateCustomAudience(ctx context.Context, input CustomAudienceInput) (*CreatedAudience, error) {
	if err := c.requireAccount(); err != nil {
		return nil, err
	}

	subtype := "CUSTOM"
	if strings.EqualFold(input.Subtype, "website") {
		subtype = "WEBSITE"
	}
	source := input.CustomerFileSource
	if source == "" {
		source = "USER_PROVIDED_ONLY"
	}

	body := map[string]any{
		"name":                 input.Name,
		"description":          input.Description,
		"subtype":              subtype,
		"customer_file_source": source,
	}

	if subtype == "WEBSITE" {
		if c.creds.PixelID == "" {
			return nil, &ConfigError{Field: "pixel_id"}
		}
		if len(input.Rule) > 0 {
			body["rule"] = input.Rule
		} else {
			body["rule"] = defaultPixelRule(c.creds.PixelID, input.RetentionDays)
		}
		prefill := true
		if input.Prefill != nil {
			prefill = *input.Prefill
		}
		body["prefill"] = prefill
	} else if len(input.Rule) > 0 {
		body["rule"] = input.Rule
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.createAudience(ctx, body, &resp); err != nil {
		return nil, fmt.Errorf("create custom audience: %w", err)
	}

	logger.Info("meta custom audience created", "meta_audience_id", resp.ID, "subtype", subtype)
	return &CreatedAudience{ID: resp.ID, Name: input.Name}, nil
}

func defaultPixelRule(pixelID string, retentionDays int) map[string]any {
	if retentionDays < 1 {
		retentionDays = 30
	}
	return map[string]any{
		"inclusions": map[string]any{
			"operator": "or",
			"rules": []map[string]any{{
				"event_sources":     []map[string]string{{"id": pixelID, "type": "pixel"}},
				"retention_seconds": retentionDays * 86400,
			}},
		},
	}
}

// CreateLookalikeAudience creates a similarity audience from an origin audience.
func (c *Client) CreateLookalikeAudience(ctx context.Context, input LookalikeInput) (*CreatedAudience, error) {
	if err := c.requireAccount(); err != nil {
		return nil, err
	}
	if !hashing.ValidateLookalikeRatio(input.Ratio) {
		return nil, ErrInvalidRatio
	}

	country := strings.ToUpper(strings.TrimSpace(input.Country))
	name := input.Name
	if name == "" {
		name = fmt.Sprintf("LAL %d%% - %s", int(math.Round(input.Ratio*100)), country)
	}

	spec := map[string]any{
		"country": country,
		"ratio":   input.Ratio,
		"type":    "similarity",
	}
	if input.StartingRatio != nil && hashing.ValidateLookalikeRatio(*input.StartingRatio) {
		spec["starting_ratio"] = *input.StartingRatio
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encoding lookalike spec: %w", err)
	}

	body := map[string]any{
		"name":               name,
		"origin_audience_id": input.SourceAudienceID,
		"lookalike_spec":     string(specJSON),
		"subtype":            "LOOKALIKE",
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.createAudience(ctx, body, &resp); err != nil {
		return nil, fmt.Errorf("create lookalike audience: %w", err)
	}

	logger.Info("meta lookalike audience created", "meta_audience_id", resp.ID, "origin", input.SourceAudienceID, "country", country)
	return &CreatedAudience{ID: resp.ID, Name: name}, nil
}

// UpdateAudience renames or re-describes a remote audience. An empty patch
// makes no call.
func (c *Client) UpdateAudience(ctx context.Context, audienceID string, patch AudiencePatch) error {
	if patch.IsEmpty() {
		return nil
	}
	if err := c.requireToken(); err != nil {
		return err
	}
	body := map[string]any{}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
		body["name"] = *patch.Name
	}
	if patch.Description != nil {
		body["description"] = *patch.Description
	}
	if err := c.sendJSON(ctx, http.MethodPost, "/"+audienceID, body, nil); err != nil {
		return fmt.Errorf("update audience %s: %w", audienceID, err)
	}
	return nil
}

// DeleteAudience removes a remote audience.
func (c *Client) DeleteAudience(ctx context.Context, audienceID string) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	if err := c.sendJSON(ctx, http.MethodDelete, "/"+audienceID, nil, nil); err != nil {
		return fmt.Errorf("delete audience %s: %w", audienceID, err)
	}
	return nil
}

// AddUsers uploads hashed users in chunks of at most MaxUsersPerRequest.
// The first failing chunk aborts the call; chunks already accepted stay on
// the platform, which dedups re-sent hashes.
func (c *Client) AddUsers(ctx context.Context, audienceID string, users []hashing.HashedUserData, schema ...SchemaField) (*UploadResult, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return &UploadResult{}, nil
	}
	if len(schema) == 0 {
		schema = DefaultSchema
	}

	chunks := hashing.Chunk(users, c.chunkSize)
	result := &UploadResult{Batches: len(chunks)}

	for i, chunk := range chunks {
		payload, err := json.Marshal(uploadPayload{Schema: schema, Data: payloadRows(chunk, schema)})
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}

		form := url.Values{}
		form.Set("access_token", c.creds.AccessToken)
		form.Set("payload", string(payload))
		form.Set("is_raw", "false")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+audienceID+"/users", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		var resp uploadResponse
		if err := c.do(req, &resp); err != nil {
			logger.Error("meta user upload chunk failed",
				"meta_audience_id", audienceID,
				"chunk", i+1,
				"chunks", len(chunks),
				"error", err)
			return nil, fmt.Errorf("upload chunk %d/%d: %w", i+1, len(chunks), err)
		}

		if sid := string(resp.SessionID); sid != "" {
			result.SessionID = sid
		}
		result.NumReceived += resp.NumReceived
		result.NumInvalid += resp.NumInvalidEntries
	}

	logger.Info("meta users uploaded",
		"meta_audience_id", audienceID,
		"received", result.NumReceived,
		"invalid", result.NumInvalid,
		"batches", result.Batches)
	return result, nil
}

func payloadRows(users []hashing.HashedUserData, schema []SchemaField) [][]string {
	rows := make([][]string, len(users))
	for i, u := range users {
		row := make([]string, len(schema))
		for j, field := range schema {
			switch field {
			case SchemaEmail:
				row[j] = u.Email
			case SchemaPhone:
				row[j] = u.Phone
			case SchemaExternalID:
				row[j] = u.ExternalID
			}
		}
		rows[i] = row
	}
	return rows
}
