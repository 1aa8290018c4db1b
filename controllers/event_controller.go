package controllers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/cppla/countdownstack/models"
	"github.com/cppla/countdownstack/store"
	"github.com/cppla/countdownstack/utils"
)

// DefaultEventColor is used when an event is created without a color.
const DefaultEventColor = "#ef4444"

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// EventController manages the events of an unlocked dashboard.
type EventController struct {
	store store.Store
	now   func() time.Time
}

// NewEventController creates an EventController. now may be nil.
func NewEventController(st store.Store, now func() time.Time) *EventController {
	return &EventController{store: st, now: nowFunc(now)}
}

type eventRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Date        *time.Time `json:"date"`
	Color       *string    `json:"color"`
}

// validate normalises the request in place and returns a client message on failure.
func (r *eventRequest) validate() string {
	if r.Title != nil {
		t := utils.SanitizeText(*r.Title)
		if t == "" {
			return "title is required"
		}
		if utf8.RuneCountInString(t) > maxTitleLength {
			return "title too long"
		}
		r.Title = &t
	}
	if r.Description != nil {
		d := utils.SanitizeText(*r.Description)
		if utf8.RuneCountInString(d) > maxDescriptionLen {
			return "description too long"
		}
		r.Description = &d
	}
	if r.Color != nil {
		c := strings.TrimSpace(*r.Color)
		if !colorPattern.MatchString(c) {
			return "color must be #RRGGBB"
		}
		r.Color = &c
	}
	return ""
}

// CreateEvent adds an event to the dashboard.
func (e *EventController) CreateEvent(ctx *gin.Context) {
	var req eventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	if req.Title == nil || req.Date == nil {
		utils.Error(ctx, http.StatusBadRequest, 40021, "title and date are required")
		return
	}
	if msg := req.validate(); msg != "" {
		utils.Error(ctx, http.StatusBadRequest, 40022, msg)
		return
	}
	dash, ok := loadOwnedDashboard(ctx, e.store)
	if !ok {
		return
	}

	now := e.now()
	ev := &models.Event{
		DashboardID: dash.ID,
		Title:       *req.Title,
		Date:        req.Date.UTC(),
		Color:       DefaultEventColor,
		CreatedAt:   now,
	}
	if req.Description != nil {
		ev.Description = *req.Description
	}
	if req.Color != nil {
		ev.Color = *req.Color
	}
	ev.EnsureDefaults(now)

	rctx := ctx.Request.Context()
	if err := e.store.CreateEvent(rctx, ev); err != nil {
		utils.Sugar.Errorw("create event failed", "dashboard", dash.ID, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to create event")
		return
	}
	touchDashboard(rctx, e.store, dash.ID, now)
	utils.Created(ctx, gin.H{"event": ev})
}

// UpdateEvent edits an event of the dashboard.
func (e *EventController) UpdateEvent(ctx *gin.Context) {
	var req eventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	if msg := req.validate(); msg != "" {
		utils.Error(ctx, http.StatusBadRequest, 40022, msg)
		return
	}
	dash, ok := loadOwnedDashboard(ctx, e.store)
	if !ok {
		return
	}

	fields := store.Fields{}
	if req.Title != nil {
		fields[models.FieldEventTitle] = *req.Title
	}
	if req.Description != nil {
		fields[models.FieldEventDescription] = *req.Description
	}
	if req.Date != nil {
		fields[models.FieldEventDate] = req.Date.UTC()
	}
	if req.Color != nil {
		fields[models.FieldEventColor] = *req.Color
	}
	if len(fields) == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40023, "nothing to update")
		return
	}

	rctx := ctx.Request.Context()
	eventID := ctx.Param("eventId")
	if err := e.store.UpdateEvent(rctx, dash.ID, eventID, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40402, "event not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to update event")
		return
	}
	ev, err := e.store.GetEvent(rctx, dash.ID, eventID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to load event")
		return
	}
	touchDashboard(rctx, e.store, dash.ID, e.now())
	utils.Success(ctx, gin.H{"event": ev})
}

// DeleteEvent removes an event from the dashboard.
func (e *EventController) DeleteEvent(ctx *gin.Context) {
	dash, ok := loadOwnedDashboard(ctx, e.store)
	if !ok {
		return
	}
	rctx := ctx.Request.Context()
	if err := e.store.DeleteEvent(rctx, dash.ID, ctx.Param("eventId")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40402, "event not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to delete event")
		return
	}
	touchDashboard(rctx, e.store, dash.ID, e.now())
	utils.Success(ctx, gin.H{"deleted": true})
}
