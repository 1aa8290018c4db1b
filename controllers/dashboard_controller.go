package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/cppla/countdownstack/jobs"
	"github.com/cppla/countdownstack/middleware"
	"github.com/cppla/countdownstack/models"
	"github.com/cppla/countdownstack/store"
	"github.com/cppla/countdownstack/utils"
)

const (
	minTitleLength    = 3
	defaultListLimit  = 24
	maxListLimit      = 100
	maxTitleLength    = 120
	maxDescriptionLen = 2000
)

// DashboardOptions carries the settings the dashboard handlers depend on.
type DashboardOptions struct {
	JWTSecret       string
	TokenTTL        time.Duration
	CaptchaRequired bool
	ListCacheTTL    time.Duration
	Now             func() time.Time
}

// DashboardController serves dashboard creation, browsing, unlocking and owner edits.
type DashboardController struct {
	store    store.Store
	recorder *jobs.ViewRecorder
	opts     DashboardOptions
}

// NewDashboardController creates a DashboardController.
func NewDashboardController(st store.Store, recorder *jobs.ViewRecorder, opts DashboardOptions) *DashboardController {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	opts.Now = nowFunc(opts.Now)
	return &DashboardController{store: st, recorder: recorder, opts: opts}
}

// CreateDashboard creates a dashboard and returns it with an owner token.
func (d *DashboardController) CreateDashboard(ctx *gin.Context) {
	var req struct {
		Title         string `json:"title" binding:"required"`
		Description   string `json:"description"`
		Password      string `json:"password" binding:"required"`
		Confirm       string `json:"confirmPassword"`
		IsPrivate     bool   `json:"isPrivate"`
		CaptchaID     string `json:"captchaId"`
		CaptchaAnswer string `json:"captchaAnswer"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	if d.opts.CaptchaRequired && !utils.VerifyCaptcha(strings.TrimSpace(req.CaptchaID), strings.TrimSpace(req.CaptchaAnswer)) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "captcha mismatch")
		return
	}

	title := utils.SanitizeText(req.Title)
	if n := utf8.RuneCountInString(title); n < minTitleLength || n > maxTitleLength {
		utils.Error(ctx, http.StatusBadRequest, 40003, fmt.Sprintf("title must be %d-%d characters", minTitleLength, maxTitleLength))
		return
	}
	description := utils.SanitizeText(req.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		utils.Error(ctx, http.StatusBadRequest, 40004, "description too long")
		return
	}
	if req.Confirm != "" && req.Confirm != req.Password {
		utils.Error(ctx, http.StatusBadRequest, 40005, "passwords do not match")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, utils.ErrPasswordTooShort) {
			utils.Error(ctx, http.StatusBadRequest, 40006, fmt.Sprintf("password must be at least %d characters", utils.MinPasswordLength))
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to hash password")
		return
	}

	rctx := ctx.Request.Context()
	now := d.opts.Now()
	slug := utils.Slugify(title)
	if taken, err := d.store.SlugExists(rctx, slug); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to check slug")
		return
	} else if taken {
		slug = utils.UniqueSlug(slug, now)
	}

	dash := &models.Dashboard{
		Slug:           slug,
		Title:          title,
		Description:    description,
		PasswordHash:   hash,
		IsPrivate:      req.IsPrivate,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	dash.EnsureDefaults(now)
	if err := d.store.CreateDashboard(rctx, dash); err != nil {
		if !errors.Is(err, store.ErrSlugTaken) {
			utils.Sugar.Errorw("create dashboard failed", "slug", slug, "error", err)
			utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to create dashboard")
			return
		}
		// lost a race for the bare slug
		dash.Slug = utils.UniqueSlug(utils.Slugify(title), now)
		if err := d.store.CreateDashboard(rctx, dash); err != nil {
			utils.Error(ctx, http.StatusConflict, 40901, "slug already taken")
			return
		}
	}

	token, expiresAt, err := utils.GenerateDashboardToken(d.opts.JWTSecret, dash.ID, dash.Slug, d.opts.TokenTTL)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}

	if !dash.IsPrivate {
		InvalidateListCache(rctx)
	}
	utils.Sugar.Infow("dashboard created", "dashboard", dash.ID, "slug", dash.Slug)
	utils.Created(ctx, gin.H{"dashboard": dash, "token": token, "expiresAt": expiresAt})
}

// ListDashboards returns public dashboards for the explore page.
func (d *DashboardController) ListDashboards(ctx *gin.Context) {
	sort := store.SortOrder(strings.ToLower(strings.TrimSpace(ctx.DefaultQuery("sort", string(store.SortTrending)))))
	switch sort {
	case store.SortTrending, store.SortNewest, store.SortViews:
	default:
		utils.Error(ctx, http.StatusBadRequest, 40011, "sort must be trending, newest or views")
		return
	}
	limit := defaultListLimit
	if v := strings.TrimSpace(ctx.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxListLimit)
		}
	}
	search := strings.TrimSpace(ctx.Query("search"))

	rctx := ctx.Request.Context()
	cacheKey := fmt.Sprintf("%ssort=%s:limit=%d:q=%s", ListCachePrefix, sort, limit, strings.ToLower(search))
	var cached []models.Dashboard
	if utils.CacheGetJSON(rctx, cacheKey, &cached) {
		utils.Success(ctx, gin.H{"items": cached, "sort": sort})
		return
	}

	items, err := d.store.ListDashboards(rctx, store.ListOptions{
		Sort:       sort,
		Search:     search,
		Limit:      limit,
		PublicOnly: true,
	})
	if err != nil {
		utils.Sugar.Errorw("list dashboards failed", "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50011, "failed to list dashboards")
		return
	}
	if items == nil {
		items = []models.Dashboard{}
	}
	utils.CacheSetJSON(rctx, cacheKey, items, d.opts.ListCacheTTL)
	utils.Success(ctx, gin.H{"items": items, "sort": sort})
}

// GetDashboard returns a dashboard with its events. Private dashboards need a token.
func (d *DashboardController) GetDashboard(ctx *gin.Context) {
	dash, ok := loadDashboard(ctx, d.store)
	if !ok {
		return
	}
	owner := middleware.AuthorizedFor(ctx, dash.ID)
	if dash.IsPrivate && !owner {
		utils.Respond(ctx, http.StatusForbidden, 40301, "dashboard is private", gin.H{
			"locked": true,
			"title":  dash.Title,
			"slug":   dash.Slug,
		})
		return
	}

	events, err := d.store.ListEvents(ctx.Request.Context(), dash.ID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50012, "failed to load events")
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	utils.Success(ctx, gin.H{"dashboard": dash, "events": events, "owner": owner})
}

// Unlock verifies the dashboard password and issues an owner token.
func (d *DashboardController) Unlock(ctx *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40012, "invalid request payload")
		return
	}
	dash, ok := loadDashboard(ctx, d.store)
	if !ok {
		return
	}
	if !utils.CheckPassword(dash.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "incorrect password")
		return
	}
	token, expiresAt, err := utils.GenerateDashboardToken(d.opts.JWTSecret, dash.ID, dash.Slug, d.opts.TokenTTL)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "expiresAt": expiresAt})
}

// Lock revokes the caller's owner token.
func (d *DashboardController) Lock(ctx *gin.Context) {
	if _, ok := loadOwnedDashboard(ctx, d.store); !ok {
		return
	}
	token, expiresAt := middleware.TokenFromContext(ctx)
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(d.opts.TokenTTL)
	}
	utils.BlacklistToken(token, expiresAt)
	utils.Success(ctx, gin.H{"locked": true})
}

// RecordView counts a view and returns the refreshed counters.
func (d *DashboardController) RecordView(ctx *gin.Context) {
	dash, ok := loadDashboard(ctx, d.store)
	if !ok {
		return
	}
	if dash.IsPrivate && !middleware.AuthorizedFor(ctx, dash.ID) {
		utils.Error(ctx, http.StatusForbidden, 40301, "dashboard is private")
		return
	}

	res, err := d.recorder.Record(ctx.Request.Context(), dash.ID, middleware.ViewerKey(ctx))
	if err != nil {
		utils.Sugar.Errorw("record view failed", "dashboard", dash.ID, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50013, "failed to record view")
		return
	}

	viewCount := dash.ViewCount
	score := dash.TrendingScore
	if res.Counted {
		viewCount++
	}
	if res.Refreshed {
		score = res.TrendingScore
	}
	utils.Success(ctx, gin.H{"counted": res.Counted, "trendingScore": score, "viewCount": viewCount})
}

// UpdateDashboard edits title, description and visibility.
func (d *DashboardController) UpdateDashboard(ctx *gin.Context) {
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		IsPrivate   *bool   `json:"isPrivate"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40013, "invalid request payload")
		return
	}
	dash, ok := loadOwnedDashboard(ctx, d.store)
	if !ok {
		return
	}

	now := d.opts.Now()
	fields := store.Fields{
		models.FieldUpdatedAt:      now,
		models.FieldLastActivityAt: now,
	}
	if req.Title != nil {
		title := utils.SanitizeText(*req.Title)
		if n := utf8.RuneCountInString(title); n < minTitleLength || n > maxTitleLength {
			utils.Error(ctx, http.StatusBadRequest, 40003, fmt.Sprintf("title must be %d-%d characters", minTitleLength, maxTitleLength))
			return
		}
		fields[models.FieldTitle] = title
		dash.Title = title
	}
	if req.Description != nil {
		description := utils.SanitizeText(*req.Description)
		if utf8.RuneCountInString(description) > maxDescriptionLen {
			utils.Error(ctx, http.StatusBadRequest, 40004, "description too long")
			return
		}
		fields[models.FieldDescription] = description
		dash.Description = description
	}
	if req.IsPrivate != nil {
		fields[models.FieldIsPrivate] = *req.IsPrivate
		dash.IsPrivate = *req.IsPrivate
	}

	rctx := ctx.Request.Context()
	if err := d.store.UpdateDashboard(rctx, dash.ID, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "dashboard not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50014, "failed to update dashboard")
		return
	}
	dash.UpdatedAt, dash.LastActivityAt = now, now
	InvalidateListCache(rctx)
	utils.Success(ctx, gin.H{"dashboard": dash})
}

// ChangePassword replaces the dashboard password after verifying the current one.
func (d *DashboardController) ChangePassword(ctx *gin.Context) {
	var req struct {
		Current string `json:"currentPassword" binding:"required"`
		New     string `json:"newPassword" binding:"required"`
		Confirm string `json:"confirmPassword"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40014, "invalid request payload")
		return
	}
	dash, ok := loadOwnedDashboard(ctx, d.store)
	if !ok {
		return
	}
	if !utils.CheckPassword(dash.PasswordHash, req.Current) {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "incorrect password")
		return
	}
	if req.Confirm != "" && req.Confirm != req.New {
		utils.Error(ctx, http.StatusBadRequest, 40005, "passwords do not match")
		return
	}
	hash, err := utils.HashPassword(req.New)
	if err != nil {
		if errors.Is(err, utils.ErrPasswordTooShort) {
			utils.Error(ctx, http.StatusBadRequest, 40006, fmt.Sprintf("password must be at least %d characters", utils.MinPasswordLength))
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to hash password")
		return
	}

	now := d.opts.Now()
	err = d.store.UpdateDashboard(ctx.Request.Context(), dash.ID, store.Fields{
		models.FieldPasswordHash:   hash,
		models.FieldUpdatedAt:      now,
		models.FieldLastActivityAt: now,
	})
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50015, "failed to update password")
		return
	}
	utils.Success(ctx, gin.H{"updated": true})
}

// DeleteDashboard removes the dashboard and its events.
func (d *DashboardController) DeleteDashboard(ctx *gin.Context) {
	dash, ok := loadOwnedDashboard(ctx, d.store)
	if !ok {
		return
	}
	rctx := ctx.Request.Context()
	events, err := jobs.DeleteDashboardCascade(rctx, d.store, dash.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		utils.Sugar.Errorw("delete dashboard failed", "dashboard", dash.ID, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50016, "failed to delete dashboard")
		return
	}
	token, expiresAt := middleware.TokenFromContext(ctx)
	utils.BlacklistToken(token, expiresAt)
	InvalidateListCache(rctx)
	utils.Sugar.Infow("dashboard deleted", "dashboard", dash.ID, "events", events)
	utils.Success(ctx, gin.H{"deleted": true, "events": events})
}
