package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adlaunch/backend/internal/audit"
	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/metrics"
	"github.com/adlaunch/backend/internal/models"
	"github.com/adlaunch/backend/internal/services/platforms"
)

// LaunchTimeout caps a whole launch, including uploads.
const LaunchTimeout = 10 * time.Minute

// failureWriteTimeout bounds recording a failed launch once the launch
// deadline itself may already have passed.
const failureWriteTimeout = 10 * time.Second

const (
	EventCampaignLaunched = "campaign.launched"
	EventCampaignFailed   = "campaign.failed"
)

type CampaignService struct {
	db       *gorm.DB
	graph    Graph
	meta     *MetaService
	audit    *audit.Logger
	notifier Notifier

	launchTimeout time.Duration
}

func NewCampaignService(db *gorm.DB, graph Graph, meta *MetaService, auditLog *audit.Logger, notifier Notifier) *CampaignService {
	return &CampaignService{
		db:       db,
		graph:    graph,
		meta:     meta,
		audit:    auditLog,
		notifier: notifier,

		launchTimeout: LaunchTimeout,
	}
}

// LaunchRequest carries the multipart form fields of a launch.
type LaunchRequest struct {
	Name           string `form:"name"`
	AdAccountID    string `form:"ad_account_id"`
	PixelID        string `form:"pixel_id"`
	PageID         string `form:"page_id"`
	LPURL          string `form:"lp_url"`
	EventName      string `form:"event_name"`
	CountryCodes   string `form:"country_codes"`
	DailyBudgetINR string `form:"daily_budget_inr"`
	CreativeType   string `form:"creative_type"`
	PrimaryText    string `form:"primary_text"`
	Headline       string `form:"headline"`
}

type CreativeFile struct {
	Filename string
	Content  []byte
}

type LaunchResult struct {
	ID             uuid.UUID `json:"id"`
	MetaCampaignID string    `json:"meta_campaign_id"`
	MetaAdID       string    `json:"meta_ad_id"`
}

type launchInput struct {
	req       LaunchRequest
	countries []string
	budget    float64
	creative  models.CreativeType

	fileName    string
	fileContent []byte
}

func (s *CampaignService) validate(req *LaunchRequest, file *CreativeFile) (*launchInput, error) {
	if file == nil || len(file.Content) == 0 {
		return nil, validationError("Missing creative file")
	}

	in := &launchInput{req: *req, fileName: file.Filename, fileContent: file.Content}
	if in.fileName == "" {
		in.fileName = "creative"
	}
	r := &in.req
	for _, f := range []*string{&r.Name, &r.AdAccountID, &r.PixelID, &r.PageID, &r.LPURL, &r.EventName,
		&r.CountryCodes, &r.DailyBudgetINR, &r.CreativeType, &r.PrimaryText, &r.Headline} {
		*f = strings.TrimSpace(*f)
	}

	if r.Name == "" || r.AdAccountID == "" || r.PixelID == "" || r.PageID == "" || r.LPURL == "" ||
		r.DailyBudgetINR == "" || r.CreativeType == "" || r.PrimaryText == "" || r.Headline == "" {
		return nil, validationError("Missing required fields")
	}

	if err := json.Unmarshal([]byte(r.CountryCodes), &in.countries); err != nil {
		return nil, validationError(`country_codes must be JSON array like ["IN"]`)
	}
	if len(in.countries) == 0 {
		return nil, validationError("country_codes empty")
	}

	switch models.CreativeType(r.CreativeType) {
	case models.CreativeTypeImage, models.CreativeTypeVideo:
		in.creative = models.CreativeType(r.CreativeType)
	default:
		return nil, validationError("creative_type must be image or video")
	}

	budget, err := strconv.ParseFloat(r.DailyBudgetINR, 64)
	if err != nil || budget <= 0 || math.IsInf(budget, 0) || math.IsNaN(budget) {
		return nil, validationError("daily_budget_inr must be a positive number")
	}
	in.budget = budget

	if _, err := WithUTMs(r.LPURL); err != nil {
		return nil, validationError("lp_url must be an absolute http(s) URL")
	}

	return in, nil
}

// Launch validates the request, records a draft and drives the remote objects
// to ACTIVE. Failures after the draft exists come back as *LaunchError.
func (s *CampaignService) Launch(ctx context.Context, clientID uuid.UUID, req *LaunchRequest, file *CreativeFile) (*LaunchResult, error) {
	token, err := s.meta.LatestToken(ctx, clientID)
	if err != nil {
		return nil, err
	}

	in, err := s.validate(req, file)
	if err != nil {
		return nil, err
	}

	// a disconnecting caller must not strand a half-built launch
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.launchTimeout)
	defer cancel()
	ctx = logger.WithClientID(ctx, clientID)

	countries, _ := json.Marshal(in.countries)
	campaign := &models.Campaign{
		ClientID:       clientID,
		Name:           in.req.Name,
		AdAccountID:    in.req.AdAccountID,
		PixelID:        in.req.PixelID,
		PageID:         in.req.PageID,
		LPURL:          in.req.LPURL,
		EventName:      in.req.EventName,
		CountryCodes:   datatypes.JSON(countries),
		DailyBudgetINR: in.budget,
		CreativeType:   in.creative,
		PrimaryText:    in.req.PrimaryText,
		Headline:       in.req.Headline,
		Status:         models.CampaignStatusDraft,
		LaunchStep:     models.LaunchStepDraft,
	}
	if err := s.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}

	run := &launchRun{svc: s, token: token, campaign: campaign, in: in, started: time.Now()}
	run.record(ctx, models.ActionLaunchDraft, "campaign_draft", campaign.ID.String())

	result, err := run.execute(ctx)
	if err != nil {
		return nil, s.fail(ctx, run, err)
	}

	metrics.CampaignLaunchesTotal.WithLabelValues("success").Inc()
	logger.FromContext(ctx).Info().
		Str("campaign_id", campaign.ID.String()).
		Str("meta_campaign_id", result.MetaCampaignID).
		Dur("duration", time.Since(run.started)).
		Msg("Campaign launched")
	s.notify(clientID, EventCampaignLaunched, result)

	return result, nil
}

func (s *CampaignService) fail(ctx context.Context, run *launchRun, cause error) error {
	details := errorDetails(cause)
	campaign := run.campaign

	// the launch context may be the reason we are here
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	err := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", campaign.ID).
		Updates(map[string]interface{}{
			"status":        models.CampaignStatusError,
			"error_message": details,
		}).Error
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("campaign_id", campaign.ID.String()).Msg("Failed to mark campaign as failed")
	}

	s.audit.Log(ctx, &audit.LogEntry{
		ClientID:   &campaign.ClientID,
		CampaignID: &campaign.ID,
		Action:     models.ActionLaunchFailed,
		TargetType: "campaign",
		TargetID:   campaign.ID.String(),
		Err:        cause,
		Metadata:   map[string]interface{}{"last_step": campaign.LaunchStep, "details": details},
		Duration:   time.Since(run.started),
	})

	metrics.CampaignLaunchesTotal.WithLabelValues("failed").Inc()
	logger.FromContext(ctx).Error().
		Str("campaign_id", campaign.ID.String()).
		Str("last_step", string(campaign.LaunchStep)).
		Str("details", details).
		Msg("Launch failed")
	s.notify(campaign.ClientID, EventCampaignFailed, map[string]interface{}{
		"id":      campaign.ID,
		"details": details,
	})

	return &LaunchError{CampaignID: campaign.ID, Details: details, Err: cause}
}

func (s *CampaignService) notify(clientID uuid.UUID, msgType string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.NotifyClient(clientID, msgType, payload)
	}
}

type launchRun struct {
	svc      *CampaignService
	token    string
	campaign *models.Campaign
	in       *launchInput
	started  time.Time
}

type graphID struct {
	ID string `json:"id"`
}

func (r *launchRun) execute(ctx context.Context) (*LaunchResult, error) {
	act := "/" + url.PathEscape(r.in.req.AdAccountID)
	name := r.in.req.Name

	var imageHash, videoID string
	var err error
	if r.in.creative == models.CreativeTypeImage {
		imageHash, err = r.uploadImage(ctx, act)
		if err != nil {
			return nil, err
		}
		err = r.advance(ctx, models.LaunchStepCreativeUploaded, models.ActionLaunchUploadCreative, "image", imageHash)
	} else {
		videoID, err = r.uploadVideo(ctx, act)
		if err != nil {
			return nil, err
		}
		err = r.advance(ctx, models.LaunchStepCreativeUploaded, models.ActionLaunchUploadCreative, "video", videoID)
	}
	if err != nil {
		return nil, err
	}

	camp, err := r.post(ctx, act+"/campaigns", url.Values{
		"name":                  {name},
		"objective":             {"OUTCOME_LEADS"},
		"status":                {"PAUSED"},
		"special_ad_categories": {`["NONE"]`},
	})
	if err != nil {
		return nil, err
	}
	if err := r.advance(ctx, models.LaunchStepCampaignCreated, models.ActionLaunchCampaign, "campaign", camp); err != nil {
		return nil, err
	}

	promoted, _ := json.Marshal(map[string]string{"pixel_id": r.in.req.PixelID})
	targeting, _ := json.Marshal(map[string]interface{}{
		"geo_locations": map[string]interface{}{"countries": r.in.countries},
		"age_min":       18,
		"age_max":       55,
	})
	adset, err := r.post(ctx, act+"/adsets", url.Values{
		"name":              {name + " - AdSet"},
		"campaign_id":       {camp},
		"billing_event":     {"IMPRESSIONS"},
		"optimization_goal": {"LEAD_GENERATION"},
		"destination_type":  {"WEBSITE"},
		"promoted_object":   {string(promoted)},
		"daily_budget":      {strconv.FormatInt(BudgetMinorUnits(r.in.budget), 10)},
		"targeting":         {string(targeting)},
		"status":            {"PAUSED"},
	})
	if err != nil {
		return nil, err
	}
	if err := r.advance(ctx, models.LaunchStepAdSetCreated, models.ActionLaunchAdSet, "adset", adset); err != nil {
		return nil, err
	}

	link, err := WithUTMs(r.in.req.LPURL)
	if err != nil {
		return nil, err
	}
	spec, err := r.storySpec(link, imageHash, videoID)
	if err != nil {
		return nil, err
	}
	creative, err := r.post(ctx, act+"/adcreatives", url.Values{
		"name":              {name + " - Creative"},
		"object_story_spec": {spec},
	})
	if err != nil {
		return nil, err
	}
	if err := r.advance(ctx, models.LaunchStepCreativeCreated, models.ActionLaunchCreative, "creative", creative); err != nil {
		return nil, err
	}

	creativeRef, _ := json.Marshal(map[string]string{"creative_id": creative})
	ad, err := r.post(ctx, act+"/ads", url.Values{
		"name":     {name + " - Ad"},
		"adset_id": {adset},
		"creative": {string(creativeRef)},
		"status":   {"PAUSED"},
	})
	if err != nil {
		return nil, err
	}
	if err := r.advance(ctx, models.LaunchStepAdCreated, models.ActionLaunchAd, "ad", ad); err != nil {
		return nil, err
	}

	for _, obj := range []struct{ kind, id string }{{"campaign", camp}, {"adset", adset}, {"ad", ad}} {
		if err := r.svc.graph.PostParams(ctx, "/"+url.PathEscape(obj.id), r.token, url.Values{"status": {"ACTIVE"}}, nil); err != nil {
			return nil, err
		}
		r.record(ctx, models.ActionLaunchActivate, obj.kind, obj.id)
	}

	err = r.svc.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", r.campaign.ID).
		Updates(map[string]interface{}{
			"status":           models.CampaignStatusLaunched,
			"launch_step":      models.LaunchStepActivated,
			"meta_campaign_id": camp,
			"meta_adset_id":    adset,
			"meta_ad_id":       ad,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("mark launched: %w", err)
	}
	r.campaign.LaunchStep = models.LaunchStepActivated

	return &LaunchResult{ID: r.campaign.ID, MetaCampaignID: camp, MetaAdID: ad}, nil
}

// post creates a remote object and returns its id.
func (r *launchRun) post(ctx context.Context, path string, params url.Values) (string, error) {
	var out graphID
	if err := r.svc.graph.PostParams(ctx, path, r.token, params, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("graph POST %s: response has no id", path)
	}
	return out.ID, nil
}

func (r *launchRun) uploadImage(ctx context.Context, act string) (string, error) {
	var raw json.RawMessage
	file := &platforms.UploadFile{Field: "bytes", Filename: r.filename(), Content: r.content()}
	if err := r.svc.graph.PostMultipart(ctx, act+"/adimages", r.token, nil, file, &raw); err != nil {
		return "", err
	}
	hash := firstImageHash(raw)
	if hash == "" {
		return "", errors.New("Image upload failed")
	}
	return hash, nil
}

func (r *launchRun) uploadVideo(ctx context.Context, act string) (string, error) {
	var out graphID
	file := &platforms.UploadFile{Field: "source", Filename: r.filename(), Content: r.content()}
	if err := r.svc.graph.PostMultipart(ctx, act+"/advideos", r.token, nil, file, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("Video upload failed")
	}
	return out.ID, nil
}

func (r *launchRun) filename() string { return r.in.fileName }
func (r *launchRun) content() []byte  { return r.in.fileContent }

func (r *launchRun) storySpec(link, imageHash, videoID string) (string, error) {
	cta := map[string]interface{}{
		"type":  "LEARN_MORE",
		"value": map[string]string{"link": link},
	}
	spec := map[string]interface{}{"page_id": r.in.req.PageID}
	if r.in.creative == models.CreativeTypeImage {
		spec["link_data"] = map[string]interface{}{
			"link":           link,
			"message":        r.in.req.PrimaryText,
			"name":           r.in.req.Headline,
			"call_to_action": cta,
			"image_hash":     imageHash,
		}
	} else {
		spec["video_data"] = map[string]interface{}{
			"video_id":       videoID,
			"message":        r.in.req.PrimaryText,
			"title":          r.in.req.Headline,
			"call_to_action": cta,
		}
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// advance persists the step and records the remote id it produced.
func (r *launchRun) advance(ctx context.Context, step models.LaunchStep, action models.AuditLogAction, targetType, remoteID string) error {
	err := r.svc.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", r.campaign.ID).
		Update("launch_step", step).Error
	if err != nil {
		return fmt.Errorf("persist launch step %s: %w", step, err)
	}
	r.campaign.LaunchStep = step
	r.record(ctx, action, targetType, remoteID)
	return nil
}

func (r *launchRun) record(ctx context.Context, action models.AuditLogAction, targetType, targetID string) {
	r.svc.audit.Log(ctx, &audit.LogEntry{
		ClientID:   &r.campaign.ClientID,
		CampaignID: &r.campaign.ID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Result:     models.ResultSuccess,
		Duration:   time.Since(r.started),
	})
}

// BudgetMinorUnits converts a daily budget in rupees to paise.
func BudgetMinorUnits(budget float64) int64 {
	return int64(math.Round(budget * 100))
}

// WithUTMs returns lpURL with the tracking parameters set. Existing query
// parameters are kept; tracking keys already present are overwritten.
func WithUTMs(lpURL string) (string, error) {
	u, err := url.Parse(lpURL)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("not an absolute http(s) url: %q", lpURL)
	}

	q := u.Query()
	q.Set("utm_source", "meta")
	q.Set("utm_medium", "paid")
	q.Set("utm_campaign", "{{campaign.id}}")
	q.Set("utm_adset", "{{adset.id}}")
	q.Set("utm_ad", "{{ad.id}}")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// firstImageHash reads images[first key].hash from an adimages response,
// keeping the key order of the document.
func firstImageHash(raw []byte) string {
	var envelope struct {
		Images json.RawMessage `json:"images"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Images) == 0 {
		return ""
	}

	dec := json.NewDecoder(bytes.NewReader(envelope.Images))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	if !dec.More() {
		return ""
	}
	if _, err := dec.Token(); err != nil {
		return ""
	}
	var image struct {
		Hash string `json:"hash"`
	}
	if err := dec.Decode(&image); err != nil {
		return ""
	}
	return image.Hash
}

// List returns the tenant's most recent campaigns.
func (s *CampaignService) List(ctx context.Context, clientID uuid.UUID) ([]models.Campaign, error) {
	campaigns := []models.Campaign{}
	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		Limit(200).
		Find(&campaigns).Error
	return campaigns, err
}

// CampaignDetail is one campaign with its launch trail.
type CampaignDetail struct {
	Campaign models.Campaign   `json:"campaign"`
	Trail    []models.AuditLog `json:"trail"`
}

// Get returns one campaign of the tenant together with its step trail.
func (s *CampaignService) Get(ctx context.Context, clientID, campaignID uuid.UUID) (*CampaignDetail, error) {
	detail := &CampaignDetail{}
	err := s.db.WithContext(ctx).
		Where("id = ? AND client_id = ?", campaignID, clientID).
		First(&detail.Campaign).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}

	trail, err := s.audit.CampaignTrail(ctx, clientID, campaignID)
	if err != nil {
		return nil, err
	}
	detail.Trail = trail
	if detail.Trail == nil {
		detail.Trail = []models.AuditLog{}
	}
	return detail, nil
}
