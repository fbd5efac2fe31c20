package services

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlaunch/backend/internal/models"
)

func validLaunch() *LaunchRequest {
	return &LaunchRequest{
		Name:           "Diwali Leads",
		AdAccountID:    "act_1",
		PixelID:        "px_1",
		PageID:         "pg_1",
		LPURL:          "https://shop.example.com/offer?ref=abc",
		EventName:      "Lead",
		CountryCodes:   `["IN"]`,
		DailyBudgetINR: "500",
		CreativeType:   "image",
		PrimaryText:    "Big sale",
		Headline:       "Save 50%",
	}
}

func pngFile() *CreativeFile {
	return &CreativeFile{Filename: "ad.png", Content: []byte{0x89, 'P', 'N', 'G'}}
}

func (e *testEnv) stubLaunch() {
	g := e.graph
	g.reply(http.MethodPost, "/act_1/adimages", http.StatusOK, `{"images":{"ad.png":{"hash":"hash-1","url":"https://cdn/x"}}}`)
	g.reply(http.MethodPost, "/act_1/advideos", http.StatusOK, `{"id":"vid-1"}`)
	g.reply(http.MethodPost, "/act_1/campaigns", http.StatusOK, `{"id":"camp-1"}`)
	g.reply(http.MethodPost, "/act_1/adsets", http.StatusOK, `{"id":"set-1"}`)
	g.reply(http.MethodPost, "/act_1/adcreatives", http.StatusOK, `{"id":"cr-1"}`)
	g.reply(http.MethodPost, "/act_1/ads", http.StatusOK, `{"id":"ad-1"}`)
	for _, id := range []string{"camp-1", "set-1", "ad-1"} {
		g.reply(http.MethodPost, "/"+id, http.StatusOK, `{"success":true}`)
	}
}

func TestLaunchImageCampaign(t *testing.T) {
	env := newTestEnv(t)
	clientID := env.newClient(t, "Acme")
	env.connect(t, clientID, "tok")
	env.stubLaunch()

	result, err := env.campaign.Launch(context.Background(), clientID, validLaunch(), pngFile())
	require.NoError(t, err)
	assert.Equal(t, "camp-1", result.MetaCampaignID)
	assert.Equal(t, "ad-1", result.MetaAdID)

	var camp models.Campaign
	require.NoError(t, env.db.First(&camp, "id = ?", result.ID).Error)
	assert.Equal(t, clientID, camp.ClientID)
	assert.Equal(t, models.CampaignStatusLaunched, camp.Status)
	assert.Equal(t, models.LaunchStepActivated, camp.LaunchStep)
	require.NotNil(t, camp.MetaAdSetID)
	assert.Equal(t, "set-1", *camp.MetaAdSetID)
	assert.Equal(t, []string{"IN"}, camp.Countries())
	assert.Nil(t, camp.ErrorMessage)

	upload, ok := env.graph.callTo(http.MethodPost, "/act_1/adimages")
	require.True(t, ok)
	assert.Equal(t, "bytes", upload.FileField)
	assert.Equal(t, "ad.png", upload.FileName)

	c, _ := env.graph.callTo(http.MethodPost, "/act_1/campaigns")
	assert.Equal(t, "OUTCOME_LEADS", c.Query.Get("objective"))
	assert.Equal(t, "PAUSED", c.Query.Get("status"))
	assert.Equal(t, `["NONE"]`, c.Query.Get("special_ad_categories"))

	adset, _ := env.graph.callTo(http.MethodPost, "/act_1/adsets")
	assert.Equal(t, "Diwali Leads - AdSet", adset.Query.Get("name"))
	assert.Equal(t, "camp-1", adset.Query.Get("campaign_id"))
	assert.Equal(t, "50000", adset.Query.Get("daily_budget"))
	assert.Equal(t, "LEAD_GENERATION", adset.Query.Get("optimization_goal"))
	assert.JSONEq(t, `{"pixel_id":"px_1"}`, adset.Query.Get("promoted_object"))
	assert.JSONEq(t, `{"geo_locations":{"countries":["IN"]},"age_min":18,"age_max":55}`, adset.Query.Get("targeting"))

	creative, _ := env.graph.callTo(http.MethodPost, "/act_1/adcreatives")
	spec := decodeJSON(t, creative.Query.Get("object_story_spec"))
	assert.Equal(t, "pg_1", spec["page_id"])
	link := spec["link_data"].(map[string]interface{})
	assert.Equal(t, "hash-1", link["image_hash"])
	assert.Equal(t, "Save 50%", link["name"])
	trackedURL, err := url.Parse(link["link"].(string))
	require.NoError(t, err)
	assert.Equal(t, "abc", trackedURL.Query().Get("ref"))
	assert.Equal(t, "{{ad.id}}", trackedURL.Query().Get("utm_ad"))

	ad, _ := env.graph.callTo(http.MethodPost, "/act_1/ads")
	assert.Equal(t, "set-1", ad.Query.Get("adset_id"))
	assert.JSONEq(t, `{"creative_id":"cr-1"}`, ad.Query.Get("creative"))

	var activations []string
	for _, call := range env.graph.recorded() {
		if call.Query.Get("status") == "ACTIVE" {
			activations = append(activations, call.Path)
		}
	}
	assert.Equal(t, []string{"/camp-1", "/set-1", "/ad-1"}, activations)

	detail, err := env.campaign.Get(context.Background(), clientID, result.ID)
	require.NoError(t, err)
	var actions []models.AuditLogAction
	for _, row := range detail.Trail {
		actions = append(actions, row.Action)
	}
	assert.Equal(t, []models.AuditLogAction{
		models.ActionLaunchDraft,
		models.ActionLaunchUploadCreative,
		models.ActionLaunchCampaign,
		models.ActionLaunchAdSet,
		models.ActionLaunchCreative,
		models.ActionLaunchAd,
		models.ActionLaunchActivate,
		models.ActionLaunchActivate,
		models.ActionLaunchActivate,
	}, actions)
	assert.Equal(t, "hash-1", detail.Trail[1].TargetID)
	assert.Equal(t, "camp-1", detail.Trail[2].TargetID)

	assert.Equal(t, []string{EventCampaignLaunched}, env.notifier.types())
}

func TestLaunchVideoCampaign(t *testing.T) {
	env := newTestEnv(t)
	clientID := env.newClient(t, "Acme")
	env.connect(t, clientID, "tok")
	env.stubLaunch()

	req := validLaunch()
	req.CreativeType = "video"
	_, err := env.campaign.Launch(context.Background(), clientID, req, &CreativeFile{Filename: "ad.mp4", Content: []byte("mp4")})
	require.NoError(t, err)

	upload, ok := env.graph.callTo(http.MethodPost, "/act_1/advideos")
	require.True(t, ok)
	assert.Equal(t, "source", upload.FileField)

	creative, _ := env.graph.callTo(http.MethodPost, "/act_1/adcreatives")
	spec := decodeJSON(t, creative.Query.Get("object_story_spec"))
	video := spec["video_data"].(map[string]interface{})
	assert.Equal(t, "vid-1", video["video_id"])
	assert.Equal(t, "Save 50%", video["title"])
	assert.NotContains(t, spec, "link_data")
}

func TestLaunchFailsWhenImageHashMissing(t *testing.T) {
	env := newTestEnv(t)
	clientID := env.newClient(t, "Acme")
	env.connect(t, clientID, "tok")
	env.graph.reply(http.MethodPost, "/act_1/adimages", http.StatusOK, `{"images":{}}`)

	_, err := env.campaign.Launch(context.Background(), clientID, validLaunch(), pngFile())
	var lerr *LaunchError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "Image upload failed", lerr.Details)

	var camp models.Campaign
	require.NoError(t, env.db.First(&camp, "id = ?", lerr.CampaignID).Error)
	assert.Equal(t, models.CampaignStatusError, camp.Status)
	assert.Equal(t, models.LaunchStepDraft, camp.LaunchStep)
	require.NotNil(t, camp.ErrorMessage)
	assert.Equal(t, "Image upload failed", *camp.ErrorMessage)

	assert.Len(t, env.graph.recorded(), 1)
	assert.Equal(t, []string{EventCampaignFailed}, env.notifier.types())
}

func TestLaunchRecordsRemoteErrorBody(t *testing.T) {
	env := newTestEnv(t)
	clientID := env.newClient(t, "Acme")
	env.connect(t, clientID, "tok")
	env.stubLaunch()
	env.graph.reply(http.MethodPost, "/act_1/adsets", http.StatusBadRequest, `{"error":{"message":"Invalid budget"}}`)

	_, err := env.campaign.Launch(context.Background(), clientID, validLaunch(), pngFile())
	var lerr *LaunchError
	require.ErrorAs(t, err, &lerr)
	assert.JSONEq(t, `{"error":{"message":"Invalid budget"}}`, lerr.Details)

	var camp models.Campaign
	require.NoError(t, env.db.First(&camp, "id = ?", lerr.CampaignID).Error)
	assert.Equal(t, models.CampaignStatusError, camp.Status)
	assert.Equal(t, models.LaunchStepCampaignCreated, camp.LaunchStep)
	assert.Nil(t, camp.MetaCampaignID)
	require.NotNil(t, camp.ErrorMessage)
	assert.JSONEq(t, `{"error":{"message":"Invalid budget"}}`, *camp.ErrorMessage)

	_, ok := env.graph.callTo(http.MethodPost, "/act_1/adcreatives")
	assert.False(t, ok)

	var failed models.AuditLog
	require.NoError(t, env.db.First(&failed, "campaign_id = ? AND action = ?", camp.ID, models.ActionLaunchFailed).Error)
	assert.Equal(t, models.ResultFailed, failed.Result)
}

func TestLaunchPastDeadlineStillMarksError(t *testing.T) {
	env := newTestEnv(t)
	clientID := env.newClient(t, "Acme")
	env.connect(t, clientID, "tok")
	env.stubLaunch()
	env.graph.hang(http.MethodPost, "/act_1/campaigns")
	env.campaign.launchTimeout = 200 * time.Millisecond

	_, err := env.campaign.Launch(context.Background(), clientID, validLaunch(), pngFile())
	var lerr *LaunchError
	require.ErrorAs(t, err, &lerr)

	var camp models.Campaign
	require.NoError(t, env.db.First(&camp, "id = ?", lerr.CampaignID).Error)
	assert.Equal(t, models.CampaignStatusError, camp.Status)
	assert.Equal(t, models.LaunchStepCreativeUploaded, camp.LaunchStep)
	require.NotNil(t, camp.ErrorMessage)
	assert.NotEmpty(t, *camp.ErrorMessage)

	var failed models.AuditLog
	require.NoError(t, env.db.First(&failed, "campaign_id = ? AND action = ?", camp.ID, models.ActionLaunchFailed).Error)
	assert.Equal(t, models.ResultFailed, failed.Result)
}

func TestLaunchValidation(t *testing.T) {
	env := newTestEnv(t)
	connected := env.newClient(t, "Acme")
	env.connect(t, connected, "tok")
	notConnected := env.newClient(t, "Fresh")

	tests := []struct {
		name     string
		clientID uuid.UUID
		mutate   func(r *LaunchRequest)
		file     *CreativeFile
		want     string
	}{
		{"not connected", notConnected, nil, pngFile(), ""},
		{"missing file", connected, nil, nil, "Missing creative file"},
		{"missing name", connected, func(r *LaunchRequest) { r.Name = " " }, pngFile(), "Missing required fields"},
		{"missing budget", connected, func(r *LaunchRequest) { r.DailyBudgetINR = "" }, pngFile(), "Missing required fields"},
		{"countries not json", connected, func(r *LaunchRequest) { r.CountryCodes = "IN" }, pngFile(), `country_codes must be JSON array like ["IN"]`},
		{"countries missing", connected, func(r *LaunchRequest) { r.CountryCodes = "" }, pngFile(), `country_codes must be JSON array like ["IN"]`},
		{"countries empty", connected, func(r *LaunchRequest) { r.CountryCodes = "[]" }, pngFile(), "country_codes empty"},
		{"bad creative type", connected, func(r *LaunchRequest) { r.CreativeType = "carousel" }, pngFile(), "creative_type must be image or video"},
		{"zero budget", connected, func(r *LaunchRequest) { r.DailyBudgetINR = "0" }, pngFile(), "daily_budget_inr must be a positive number"},
		{"text budget", connected, func(r *LaunchRequest) { r.DailyBudgetINR = "lots" }, pngFile(), "daily_budget_inr must be a positive number"},
		{"relative url", connected, func(r *LaunchRequest) { r.LPURL = "/offer" }, pngFile(), "lp_url must be an absolute http(s) URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validLaunch()
			if tt.mutate != nil {
				tt.mutate(req)
			}
			_, err := env.campaign.Launch(context.Background(), tt.clientID, req, tt.file)
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrMetaNotConnected)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Message)
		})
	}

	var count int64
	env.db.Model(&models.Campaign{}).Count(&count)
	assert.Zero(t, count)
	assert.Empty(t, env.graph.recorded())
}

func TestBudgetMinorUnits(t *testing.T) {
	tests := []struct {
		budget float64
		want   int64
	}{
		{500, 50000},
		{199.99, 19999},
		{123.45, 12345},
		{1, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BudgetMinorUnits(tt.budget), "budget %v", tt.budget)
	}
}

func TestWithUTMs(t *testing.T) {
	out, err := WithUTMs("https://shop.example.com/p?color=red&utm_source=google")
	require.NoError(t, err)

	u, err := url.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", u.Host)
	assert.Equal(t, "/p", u.Path)

	q := u.Query()
	assert.Equal(t, "red", q.Get("color"))
	assert.Equal(t, "meta", q.Get("utm_source"))
	assert.Equal(t, "paid", q.Get("utm_medium"))
	assert.Equal(t, "{{campaign.id}}", q.Get("utm_campaign"))
	assert.Equal(t, "{{adset.id}}", q.Get("utm_adset"))
	assert.Equal(t, "{{ad.id}}", q.Get("utm_ad"))
	assert.Len(t, q["utm_source"], 1)

	_, err = WithUTMs("not a url")
	assert.Error(t, err)
	_, err = WithUTMs("ftp://files.example.com/x")
	assert.Error(t, err)
}

func TestFirstImageHash(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"document order", `{"images":{"b.png":{"hash":"second"},"a.png":{"hash":"first"}}}`, "second"},
		{"empty map", `{"images":{}}`, ""},
		{"no images", `{"id":"x"}`, ""},
		{"no hash", `{"images":{"a.png":{"url":"u"}}}`, ""},
		{"not an object", `{"images":[]}`, ""},
		{"garbage", `nope`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstImageHash([]byte(tt.body)))
		})
	}
}

func TestListAndGetAreTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newClient(t, "A")
	b := env.newClient(t, "B")

	campA := env.launchedCampaign(t, a, "A1", "ca", "aa", time.Now())
	env.launchedCampaign(t, b, "B1", "cb", "ab", time.Now())

	list, err := env.campaign.List(ctx, a)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A1", list[0].Name)

	_, err = env.campaign.Get(ctx, b, campA.ID)
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	detail, err := env.campaign.Get(ctx, a, campA.ID)
	require.NoError(t, err)
	assert.NotNil(t, detail.Trail)
}
