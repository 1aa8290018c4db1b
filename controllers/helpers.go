package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/countdownstack/middleware"
	"github.com/cppla/countdownstack/models"
	"github.com/cppla/countdownstack/store"
	"github.com/cppla/countdownstack/utils"
)

// ListCachePrefix prefixes every cached explore listing.
const ListCachePrefix = "dashboards:list:"

// InvalidateListCache drops all cached explore listings.
func InvalidateListCache(ctx context.Context) {
	utils.InvalidateByPrefix(ctx, ListCachePrefix)
}

// loadDashboard resolves :slug and writes the error response when it fails.
func loadDashboard(ctx *gin.Context, st store.DashboardStore) (*models.Dashboard, bool) {
	slug := strings.TrimSpace(ctx.Param("slug"))
	if slug == "" {
		utils.Error(ctx, http.StatusBadRequest, 40010, "missing dashboard slug")
		return nil, false
	}
	d, err := st.GetDashboardBySlug(ctx.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "dashboard not found")
			return nil, false
		}
		utils.Sugar.Errorw("load dashboard failed", "slug", slug, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50010, "failed to load dashboard")
		return nil, false
	}
	return d, true
}

// loadOwnedDashboard resolves :slug and requires a token issued for it.
func loadOwnedDashboard(ctx *gin.Context, st store.DashboardStore) (*models.Dashboard, bool) {
	d, ok := loadDashboard(ctx, st)
	if !ok {
		return nil, false
	}
	if !middleware.AuthorizedFor(ctx, d.ID) {
		utils.Error(ctx, http.StatusForbidden, 40302, "token does not grant access to this dashboard")
		return nil, false
	}
	return d, true
}

// touchDashboard records owner activity on the dashboard.
func touchDashboard(ctx context.Context, st store.DashboardStore, id string, now time.Time) {
	err := st.UpdateDashboard(ctx, id, store.Fields{
		models.FieldUpdatedAt:      now,
		models.FieldLastActivityAt: now,
	})
	if err != nil {
		utils.Sugar.Warnw("touch dashboard failed", "dashboard", id, "error", err)
	}
}

func nowFunc(f func() time.Time) func() time.Time {
	if f == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return f
}
