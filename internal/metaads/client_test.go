package metaads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/audience-sync/internal/config"
	"github.com/ignite/audience-sync/internal/hashing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCreds() Credentials {
	return Credentials{AccessToken: "test-token", AdAccountID: "123", PixelID: "px-1"}
}

func newTestClient(server *httptest.Server) *Client {
	return &Client{
		baseURL: server.URL,
		creds:   testCreds(),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		chunkSize: MaxUsersPerRequest,
	}
}

func readJSONBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestNewClient(t *testing.T) {
	client := NewClient(config.MetaConfig{
		BaseURL:         "https://graph.facebook.com/v21.0/",
		TimeoutSeconds:  30,
		UploadChunkSize: 50000,
	}, testCreds())

	assert.Equal(t, "https://graph.facebook.com/v21.0", client.baseURL)
	assert.Equal(t, MaxUsersPerRequest, client.chunkSize)
	assert.True(t, client.IsConfigured())
	assert.NotNil(t, client.createClient)
}

func TestCreateCustomAudience_ServerErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"An unknown error occurred","type":"OAuthException","code":1}}`)
	}))
	defer server.Close()

	client := NewClient(config.MetaConfig{BaseURL: server.URL, TimeoutSeconds: 5, MaxRetries: 3}, testCreds())
	_, err := client.CreateCustomAudience(context.Background(), CustomAudienceInput{Name: "Leads", Subtype: "customer_list"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestListAudiences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/act_123/customaudiences", r.URL.Path)
		assert.Equal(t, "test-token", r.URL.Query().Get("access_token"))
		assert.Equal(t, "300", r.URL.Query().Get("limit"))
		assert.Contains(t, r.URL.Query().Get("fields"), "approximate_count_upper_bound")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[
			{"id":"a1","name":"Leads","subtype":"CUSTOM","approximate_count_lower_bound":1000,"approximate_count_upper_bound":1200,"operation_status":{"code":200}},
			{"id":"a2","name":"Pixel","approximate_count_lower_bound":5000,"delivery_status":{"description":"ready"}},
			{"id":"a3","name":"Bare"}
		]}`)
	}))
	defer server.Close()

	audiences, err := newTestClient(server).ListAudiences(context.Background())
	require.NoError(t, err)
	require.Len(t, audiences, 3)

	assert.Equal(t, AudienceSummary{ID: "a1", Name: "Leads", Subtype: "CUSTOM", ApproximateCount: 1200, Status: "200"}, audiences[0])
	assert.Equal(t, int64(5000), audiences[1].ApproximateCount)
	assert.Equal(t, "unknown", audiences[1].Subtype)
	assert.Equal(t, "ready", audiences[1].Status)
	assert.Equal(t, "unknown", audiences[2].Status)
}

func TestListAudiences_NoAccountSkipsNetwork(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client := newTestClient(server)
	client.creds.AdAccountID = ""

	audiences, err := client.ListAudiences(context.Background())
	require.NoError(t, err)
	assert.Empty(t, audiences)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCreateCustomAudience_Website(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/act_123/customaudiences", r.URL.Path)

		body := readJSONBody(t, r)
		assert.Equal(t, "test-token", body["access_token"])
		assert.Equal(t, "WEBSITE", body["subtype"])
		assert.Equal(t, "USER_PROVIDED_ONLY", body["customer_file_source"])
		assert.Equal(t, true, body["prefill"])

		rule := body["rule"].(map[string]any)["inclusions"].(map[string]any)["rules"].([]any)[0].(map[string]any)
		assert.Equal(t, float64(7*86400), rule["retention_seconds"])

		fmt.Fprint(w, `{"id":"new-1"}`)
	}))
	defer server.Close()

	created, err := newTestClient(server).CreateCustomAudience(context.Background(), CustomAudienceInput{
		Name:          "Visitors",
		Subtype:       "website",
		RetentionDays: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, &CreatedAudience{ID: "new-1", Name: "Visitors"}, created)
}

func TestCreateCustomAudience_CustomerList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readJSONBody(t, r)
		assert.Equal(t, "CUSTOM", body["subtype"])
		assert.Equal(t, "Leads from forms", body["description"])
		assert.NotContains(t, body, "rule")
		assert.NotContains(t, body, "prefill")
		fmt.Fprint(w, `{"id":"new-2"}`)
	}))
	defer server.Close()

	created, err := newTestClient(server).CreateCustomAudience(context.Background(), CustomAudienceInput{
		Name:        "Leads",
		Description: "Leads from forms",
		Subtype:     "customer_list",
	})
	require.NoError(t, err)
	assert.Equal(t, "new-2", created.ID)
}

func TestCreateCustomAudience_WebsiteRequiresPixel(t *testing.T) {
	client := &Client{creds: Credentials{AccessToken: "t", AdAccountID: "1"}}

	_, err := client.CreateCustomAudience(context.Background(), CustomAudienceInput{Name: "x", Subtype: "website"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "pixel_id", cfgErr.Field)
}

func TestCreateLookalikeAudience(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readJSONBody(t, r)
		assert.Equal(t, "LOOKALIKE", body["subtype"])
		assert.Equal(t, "origin-9", body["origin_audience_id"])
		assert.Equal(t, "LAL 2% - BR", body["name"])

		var spec map[string]any
		require.NoError(t, json.Unmarshal([]byte(body["lookalike_spec"].(string)), &spec))
		assert.Equal(t, "BR", spec["country"])
		assert.Equal(t, 0.02, spec["ratio"])
		assert.Equal(t, "similarity", spec["type"])
		assert.NotContains(t, spec, "starting_ratio")

		fmt.Fprint(w, `{"id":"lal-1"}`)
	}))
	defer server.Close()

	bad := 0.5
	created, err := newTestClient(server).CreateLookalikeAudience(context.Background(), LookalikeInput{
		SourceAudienceID: "origin-9",
		Country:          "br",
		Ratio:            0.02,
		StartingRatio:    &bad,
	})
	require.NoError(t, err)
	assert.Equal(t, "LAL 2% - BR", created.Name)
}

func TestCreateLookalikeAudience_InvalidRatio(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	_, err := newTestClient(server).CreateLookalikeAudience(context.Background(), LookalikeInput{
		SourceAudienceID: "o", Country: "BR", Ratio: 0.2,
	})
	assert.ErrorIs(t, err, ErrInvalidRatio)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestUpdateAudience(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/aud-1", r.URL.Path)
		body := readJSONBody(t, r)
		assert.Equal(t, "Renamed", body["name"])
		assert.Equal(t, "", body["description"])
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer server.Close()

	client := newTestClient(server)
	require.NoError(t, client.UpdateAudience(context.Background(), "aud-1", AudiencePatch{}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	name, desc := "Renamed", ""
	require.NoError(t, client.UpdateAudience(context.Background(), "aud-1", AudiencePatch{Name: &name, Description: &desc}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDeleteAudience_APIErrorVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"(#100) Audience does not exist","type":"OAuthException","code":100,"fbtrace_id":"AbC"}}`)
	}))
	defer server.Close()

	err := newTestClient(server).DeleteAudience(context.Background(), "missing")
	require.Error(t, err)

	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "(#100) Audience does not exist", apiErr.Message)
	assert.Equal(t, 100, apiErr.Code)
	assert.Contains(t, err.Error(), "(#100) Audience does not exist")
}

func TestGetAudience_ErrorBodyOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"Invalid OAuth access token."}}`)
	}))
	defer server.Close()

	_, err := newTestClient(server).GetAudience(context.Background(), "a1")
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid OAuth access token.", apiErr.Message)
}

func TestAddUsers_ChunksAndAggregates(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/aud-1/users", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		raw, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(raw))
		require.NoError(t, err)
		assert.Equal(t, "test-token", form.Get("access_token"))
		assert.Equal(t, "false", form.Get("is_raw"))

		var payload uploadPayload
		require.NoError(t, json.Unmarshal([]byte(form.Get("payload")), &payload))
		assert.Equal(t, DefaultSchema, payload.Schema)

		fmt.Fprintf(w, `{"session_id":%d,"num_received":%d,"num_invalid_entries":1}`, 700+n, len(payload.Data))
	}))
	defer server.Close()

	client := newTestClient(server)
	client.chunkSize = 2

	users := []hashing.HashedUserData{
		{Email: "e1", ExternalID: "x1"},
		{Phone: "p2", ExternalID: "x2"},
		{Email: "e3", Phone: "p3", ExternalID: "x3"},
	}
	result, err := client.AddUsers(context.Background(), "aud-1", users)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, &UploadResult{SessionID: "702", NumReceived: 3, NumInvalid: 2, Batches: 2}, result)
}

func TestAddUsers_StringSessionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"session_id":"abc","num_received":1,"num_invalid_entries":0}`)
	}))
	defer server.Close()

	result, err := newTestClient(server).AddUsers(context.Background(), "aud-1",
		[]hashing.HashedUserData{{Email: "e1", ExternalID: "x1"}})
	require.NoError(t, err)
	assert.Equal(t, "abc", result.SessionID)
	assert.Equal(t, 1, result.NumReceived)
}

func TestOpaqueID_Unmarshal(t *testing.T) {
	var resp uploadResponse
	require.NoError(t, json.Unmarshal([]byte(`{"session_id":9007199254740993}`), &resp))
	assert.Equal(t, opaqueID("9007199254740993"), resp.SessionID)

	require.NoError(t, json.Unmarshal([]byte(`{"session_id":null}`), &resp))
	assert.Equal(t, opaqueID(""), resp.SessionID)

	assert.Error(t, json.Unmarshal([]byte(`{"session_id":true}`), &resp))
}

func TestAddUsers_EmptyMakesNoCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	result, err := newTestClient(server).AddUsers(context.Background(), "aud-1", nil)
	require.NoError(t, err)
	assert.Equal(t, &UploadResult{}, result)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestAddUsers_ChunkFailureAborts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 2 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"Invalid payload"}}`)
			return
		}
		fmt.Fprint(w, `{"session_id":1,"num_received":1,"num_invalid_entries":0}`)
	}))
	defer server.Close()

	client := newTestClient(server)
	client.chunkSize = 1
	users := []hashing.HashedUserData{{ExternalID: "1"}, {ExternalID: "2"}, {ExternalID: "3"}}

	_, err := client.AddUsers(context.Background(), "aud-1", users)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid payload")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNotConfigured(t *testing.T) {
	client := &Client{}

	_, err := client.AddUsers(context.Background(), "aud", []hashing.HashedUserData{{ExternalID: "1"}})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = client.CreateCustomAudience(context.Background(), CustomAudienceInput{Name: "x"})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "access_token", cfgErr.Field)

	client.creds.AccessToken = "t"
	_, err = client.CreateLookalikeAudience(context.Background(), LookalikeInput{Ratio: 0.01})
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "ad_account_id", cfgErr.Field)
}
