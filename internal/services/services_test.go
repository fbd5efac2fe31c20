package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/adlaunch/backend/internal/audit"
	"github.com/adlaunch/backend/internal/database"
	"github.com/adlaunch/backend/internal/models"
	"github.com/adlaunch/backend/internal/services/platforms"
	"github.com/adlaunch/backend/internal/vault"
)

type graphCall struct {
	Method    string
	Path      string
	Query     url.Values
	FileField string
	FileName  string
}

// fakeGraph serves canned Graph API responses and records every request.
type fakeGraph struct {
	mu     sync.Mutex
	calls  []graphCall
	routes map[string]http.HandlerFunc
	srv    *httptest.Server
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()
	f := &fakeGraph{routes: map[string]http.HandlerFunc{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGraph) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v24.0")
	call := graphCall{Method: r.Method, Path: path, Query: r.URL.Query()}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			for field, files := range r.MultipartForm.File {
				call.FileField = field
				call.FileName = files[0].Filename
			}
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	h, ok := f.routes[r.Method+" "+path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"no route"}}`))
		return
	}
	h(w, r)
}

func (f *fakeGraph) reply(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

// hang makes the route block until the caller gives up.
func (f *fakeGraph) hang(method, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}
}

func (f *fakeGraph) recorded() []graphCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]graphCall(nil), f.calls...)
}

func (f *fakeGraph) callTo(method, path string) (graphCall, bool) {
	for _, c := range f.recorded() {
		if c.Method == method && c.Path == path {
			return c, true
		}
	}
	return graphCall{}, false
}

type recordedEvent struct {
	ClientID uuid.UUID
	Type     string
	Payload  interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *fakeNotifier) NotifyClient(clientID uuid.UUID, msgType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{clientID, msgType, payload})
}

func (n *fakeNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	db       *gorm.DB
	graph    *fakeGraph
	client   *platforms.MetaClient
	notifier *fakeNotifier
	audit    *audit.Logger

	meta     *MetaService
	campaign *CampaignService
	insights *InsightsService
	reports  *ReportService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	v, err := vault.New("services-test-key")
	require.NoError(t, err)

	graph := newFakeGraph(t)
	client := platforms.NewMetaClient(platforms.MetaConfig{
		AppID:         "app-1",
		AppSecret:     "app-secret",
		RedirectURI:   "http://localhost:8080/meta/oauth/callback",
		GraphVersion:  "v24.0",
		GraphBaseURL:  graph.srv.URL,
		DialogBaseURL: "https://www.facebook.com",
	})

	env := &testEnv{
		db:       db,
		graph:    graph,
		client:   client,
		notifier: &fakeNotifier{},
		audit:    audit.NewLogger(db),
	}
	env.meta = NewMetaService(db, client, v, env.audit, "http://localhost:8080/")
	env.campaign = NewCampaignService(db, client, env.meta, env.audit, env.notifier)
	env.insights = NewInsightsService(db, client, env.meta, env.audit, env.notifier)
	env.reports = NewReportService(db)
	return env
}

func (e *testEnv) newClient(t *testing.T, name string) uuid.UUID {
	t.Helper()
	c := &models.Client{ID: uuid.New(), Name: name}
	require.NoError(t, e.db.Create(c).Error)
	return c.ID
}

func (e *testEnv) connect(t *testing.T, clientID uuid.UUID, token string) {
	t.Helper()
	_, err := e.meta.saveConnection(context.Background(), clientID, token, "bearer", 0, []byte(`{}`))
	require.NoError(t, err)
}

func (e *testEnv) launchedCampaign(t *testing.T, clientID uuid.UUID, name, metaCampaignID, metaAdID string, createdAt time.Time) *models.Campaign {
	t.Helper()
	camp := &models.Campaign{
		ClientID:       clientID,
		Name:           name,
		AdAccountID:    "act_1",
		CountryCodes:   []byte(`["IN"]`),
		DailyBudgetINR: 500,
		CreativeType:   models.CreativeTypeImage,
		Status:         models.CampaignStatusLaunched,
		LaunchStep:     models.LaunchStepActivated,
		CreatedAt:      createdAt,
	}
	if metaCampaignID != "" {
		camp.MetaCampaignID = &metaCampaignID
	}
	if metaAdID != "" {
		camp.MetaAdID = &metaAdID
	}
	require.NoError(t, e.db.Create(camp).Error)
	return camp
}

func decodeJSON(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &out))
	return out
}
