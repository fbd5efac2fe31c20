package platforms

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *MetaClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewMetaClient(MetaConfig{
		AppID:         "app-1",
		AppSecret:     "shh",
		RedirectURI:   "https://app.example.com/meta/oauth/callback",
		GraphVersion:  "v24.0",
		GraphBaseURL:  srv.URL,
		DialogBaseURL: "https://www.facebook.com",
	})
}

func TestGetAttachesTokenAndParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v24.0/me/adaccounts", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		assert.Equal(t, "id,name", r.URL.Query().Get("fields"))
		w.Write([]byte(`{"data":[{"id":"act_1"}]}`))
	})

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err := client.Get(context.Background(), "/me/adaccounts", "tok", url.Values{"fields": {"id,name"}}, &out)
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "act_1", out.Data[0].ID)
}

func TestPostParamsUsesQueryString(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		assert.Equal(t, "ACTIVE", r.URL.Query().Get("status"))
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		w.Write([]byte(`{"success":true}`))
	})

	var out map[string]interface{}
	require.NoError(t, client.PostParams(context.Background(), "/123", "tok", url.Values{"status": {"ACTIVE"}}, &out))
	assert.Equal(t, true, out["success"])
}

func TestPostMultipartSendsFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		assert.Equal(t, "hello", r.FormValue("name"))

		f, hdr, err := r.FormFile("bytes")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "ad.png", hdr.Filename)
		assert.Equal(t, []byte{1, 2, 3}, data)

		w.Write([]byte(`{"images":{"ad.png":{"hash":"abc"}}}`))
	})

	var out map[string]interface{}
	err := client.PostMultipart(context.Background(), "/act_1/adimages", "tok",
		map[string]string{"name": "hello"},
		&UploadFile{Field: "bytes", Filename: "ad.png", Content: []byte{1, 2, 3}}, &out)
	require.NoError(t, err)
	assert.Contains(t, out, "images")
}

func TestNon2xxReturnsGraphError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid parameter","code":100}}`))
	})

	err := client.Get(context.Background(), "/me", "tok", nil, nil)
	require.Error(t, err)

	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusBadRequest, gerr.StatusCode)

	details, ok := gerr.Details().(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, details, "error")
}

func TestGraphErrorDetailsFallsBackToText(t *testing.T) {
	gerr := &GraphError{StatusCode: 502, Body: []byte("bad gateway")}
	assert.Equal(t, "bad gateway", gerr.Details())
}

func TestAuthURL(t *testing.T) {
	client := NewMetaClient(MetaConfig{AppID: "app-1", RedirectURI: "https://app.example.com/cb", GraphVersion: "v24.0"})

	u, err := url.Parse(client.AuthURL("st8"))
	require.NoError(t, err)
	assert.Equal(t, "www.facebook.com", u.Host)
	assert.Equal(t, "/v24.0/dialog/oauth", u.Path)
	assert.Equal(t, "app-1", u.Query().Get("client_id"))
	assert.Equal(t, "https://app.example.com/cb", u.Query().Get("redirect_uri"))
	assert.Equal(t, "st8", u.Query().Get("state"))
	assert.Equal(t, "ads_management,ads_read,pages_show_list", u.Query().Get("scope"))
}

func TestExchangeCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v24.0/oauth/access_token", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "app-1", q.Get("client_id"))
		assert.Equal(t, "shh", q.Get("client_secret"))
		assert.Equal(t, "the-code", q.Get("code"))
		assert.Empty(t, q.Get("access_token"))
		w.Write([]byte(`{"access_token":"EAAB","token_type":"bearer","expires_in":5183944}`))
	})

	tok, raw, err := client.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "EAAB", tok.AccessToken)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, int64(5183944), tok.ExpiresIn)
	assert.Contains(t, string(raw), "EAAB")
}
