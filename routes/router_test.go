package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/countdownstack/config"
	"github.com/cppla/countdownstack/jobs"
	"github.com/cppla/countdownstack/models"
	"github.com/cppla/countdownstack/store"
	"github.com/cppla/countdownstack/utils"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	store  *store.MemoryStore
	suite  *jobs.Suite
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.AppConfig{
		GinMode:             "test",
		JWTSecret:           "test-secret",
		AdminToken:          "admin-token",
		RateLimitPerMinute:  10000,
		AllowedOrigins:      []string{"*"},
		DashboardTokenHours: 1,
		ListCacheSeconds:    60,
	}
	st := store.NewMemoryStore()
	reg := prometheus.NewRegistry()
	suite, err := jobs.NewSuite(st, cfg, utils.NewViewDeduper(), nil, jobs.NewMetrics(reg))
	require.NoError(t, err)
	engine := SetupRouter(Deps{Config: cfg, Store: st, Jobs: suite, Gatherer: reg})
	return &testServer{t: t, engine: engine, store: st, suite: suite}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "router-test")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(w.Body.Bytes()), []byte("{")) {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

type created struct {
	Dashboard models.Dashboard `json:"dashboard"`
	Token     string           `json:"token"`
}

func (s *testServer) create(title string, private bool) created {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/v1/dashboards", gin.H{
		"title":     title,
		"password":  "secret1",
		"isPrivate": private,
	}, nil)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var out created
	require.NoError(s.t, json.Unmarshal(env.Data, &out))
	return out
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
}

func TestCreateDashboard(t *testing.T) {
	s := newTestServer(t)
	first := s.create("Launch Day!", false)
	assert.Equal(t, "launch-day", first.Dashboard.Slug)
	assert.NotEmpty(t, first.Token)
	assert.Zero(t, first.Dashboard.ViewCount)
	assert.Zero(t, first.Dashboard.TrendingScore)
	assert.Equal(t, first.Dashboard.CreatedAt, first.Dashboard.LastActivityAt)

	stored, err := s.store.GetDashboard(context.Background(), first.Dashboard.ID)
	require.NoError(t, err)
	assert.True(t, utils.CheckPassword(stored.PasswordHash, "secret1"))

	second := s.create("Launch Day", false)
	assert.Regexp(t, `^launch-day-\d+$`, second.Dashboard.Slug)
}

func TestCreateDashboardValidation(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		body gin.H
		code int
	}{
		{"short title", gin.H{"title": "ab", "password": "secret1"}, 40003},
		{"markup only title", gin.H{"title": "<b></b>", "password": "secret1"}, 40003},
		{"short password", gin.H{"title": "Release", "password": "12345"}, 40006},
		{"confirm mismatch", gin.H{"title": "Release", "password": "secret1", "confirmPassword": "secret2"}, 40005},
		{"missing password", gin.H{"title": "Release"}, 40001},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := s.do(http.MethodPost, "/api/v1/dashboards", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestPrivateDashboardRequiresToken(t *testing.T) {
	s := newTestServer(t)
	d := s.create("Secret Plans", true)
	path := "/api/v1/dashboards/" + d.Dashboard.Slug

	w, env := s.do(http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	var locked struct {
		Locked bool   `json:"locked"`
		Title  string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &locked))
	assert.True(t, locked.Locked)
	assert.Equal(t, "Secret Plans", locked.Title)

	w, _ = s.do(http.MethodPost, path+"/unlock", gin.H{"password": "wrong-one"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = s.do(http.MethodPost, path+"/unlock", gin.H{"password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var unlocked struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &unlocked))

	w, _ = s.do(http.MethodGet, path, nil, bearer(unlocked.Token))
	assert.Equal(t, http.StatusOK, w.Code)

	// a token for another dashboard does not unlock this one
	other := s.create("Other Board", false)
	w, _ = s.do(http.MethodGet, path, nil, bearer(other.Token))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLockRevokesToken(t *testing.T) {
	s := newTestServer(t)
	d := s.create("Revocable", false)
	path := "/api/v1/dashboards/" + d.Dashboard.Slug

	w, _ := s.do(http.MethodPost, path+"/lock", nil, bearer(d.Token))
	require.Equal(t, http.StatusOK, w.Code)

	w, env := s.do(http.MethodPatch, path, gin.H{"title": "Renamed"}, bearer(d.Token))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40104, env.Code)
}

func TestRecordViewUpdatesScore(t *testing.T) {
	s := newTestServer(t)
	d := s.create("Popular", false)
	path := "/api/v1/dashboards/" + d.Dashboard.Slug + "/views"

	w, env := s.do(http.MethodPost, path, nil, map[string]string{"X-Real-IP": "8.8.8.8"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Counted       bool  `json:"counted"`
		TrendingScore int64 `json:"trendingScore"`
		ViewCount     int64 `json:"viewCount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Counted)
	assert.Equal(t, int64(14), res.TrendingScore)
	assert.Equal(t, int64(1), res.ViewCount)

	// same viewer again within the de-dup window
	_, env = s.do(http.MethodPost, path, nil, map[string]string{"X-Real-IP": "8.8.8.8"})
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Counted)
	assert.Equal(t, int64(1), res.ViewCount)

	_, env = s.do(http.MethodPost, path, nil, map[string]string{"X-Real-IP": "1.1.1.1"})
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Counted)
	assert.Equal(t, int64(28), res.TrendingScore)
	assert.Equal(t, 2, s.store.ViewLogCount())
}

func TestViewsOfPrivateDashboardNeedToken(t *testing.T) {
	s := newTestServer(t)
	d := s.create("Hidden Views", true)
	path := "/api/v1/dashboards/" + d.Dashboard.Slug + "/views"

	w, _ := s.do(http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(http.MethodPost, path, nil, bearer(d.Token))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListDashboards(t *testing.T) {
	s := newTestServer(t)
	quiet := s.create("Quiet Board", false)
	busy := s.create("Busy Board", false)
	s.create("Private Board", true)
	for _, ip := range []string{"8.8.8.8", "8.8.4.4"} {
		w, _ := s.do(http.MethodPost, "/api/v1/dashboards/"+busy.Dashboard.Slug+"/views", nil, map[string]string{"X-Real-IP": ip})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, env := s.do(http.MethodGet, "/api/v1/dashboards?sort=trending", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []models.Dashboard `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, busy.Dashboard.ID, list.Items[0].ID)
	assert.Equal(t, quiet.Dashboard.ID, list.Items[1].ID)

	_, env = s.do(http.MethodGet, "/api/v1/dashboards?search=QUIET", nil, nil)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, quiet.Dashboard.ID, list.Items[0].ID)

	w, _ = s.do(http.MethodGet, "/api/v1/dashboards?sort=random", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOwnerEditsBumpActivity(t *testing.T) {
	s := newTestServer(t)
	d := s.create("Team Offsite", false)
	path := "/api/v1/dashboards/" + d.Dashboard.Slug
	ctx := context.Background()

	old := time.Now().UTC().Add(-60 * 24 * time.Hour).Truncate(time.Second)
	require.NoError(t, s.store.UpdateDashboard(ctx, d.Dashboard.ID, store.Fields{models.FieldLastActivityAt: old}))

	w, _ := s.do(http.MethodPatch, path, gin.H{"description": "<i>bring snacks</i>", "isPrivate": true}, bearer(d.Token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, err := s.store.GetDashboard(ctx, d.Dashboard.ID)
	require.NoError(t, err)
	assert.Equal(t, "bring snacks", got.Description)
	assert.True(t, got.IsPrivate)
	assert.True(t, got.LastActivityAt.After(old))

	w, _ = s.do(http.MethodPatch, path, gin.H{"title": "Renamed"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEventLifecycle(t *testing.T) {
	s := newTestServer(t)
	d := s.create("Release Train", false)
	path := "/api/v1/dashboards/" + d.Dashboard.Slug
	date := time.Date(2030, 1, 2, 15, 0, 0, 0, time.UTC)

	w, _ := s.do(http.MethodPost, path+"/events", gin.H{"title": "GA", "date": date, "color": "#ZZZZZZ"}, bearer(d.Token))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.do(http.MethodPost, path+"/events", gin.H{"title": "GA", "date": date}, bearer(d.Token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Event models.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "#ef4444", out.Event.Color)
	eventPath := path + "/events/" + out.Event.ID

	w, env = s.do(http.MethodPut, eventPath, gin.H{"color": "#3B82F6", "title": "General Availability"}, bearer(d.Token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "#3B82F6", out.Event.Color)
	assert.Equal(t, "General Availability", out.Event.Title)

	w, env = s.do(http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Events []models.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	require.Len(t, detail.Events, 1)

	w, _ = s.do(http.MethodDelete, eventPath, nil, bearer(d.Token))
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodDelete, eventPath, nil, bearer(d.Token))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChangePasswordAndDelete(t *testing.T) {
	s := newTestServer(t)
	d := s.create("Short Lived", false)
	path := "/api/v1/dashboards/" + d.Dashboard.Slug

	w, _ := s.do(http.MethodPut, path+"/password", gin.H{"currentPassword": "nope!!", "newPassword": "another1"}, bearer(d.Token))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = s.do(http.MethodPut, path+"/password", gin.H{"currentPassword": "secret1", "newPassword": "another1"}, bearer(d.Token))
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodPost, path+"/unlock", gin.H{"password": "another1"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, path+"/events", gin.H{"title": "x", "date": time.Now().Add(time.Hour)}, bearer(d.Token))
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = s.do(http.MethodDelete, path, nil, bearer(d.Token))
	require.Equal(t, http.StatusOK, w.Code)
	_, err := s.store.GetDashboard(context.Background(), d.Dashboard.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	events, err := s.store.ListEvents(context.Background(), d.Dashboard.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	w, _ = s.do(http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminJobs(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/api/v1/admin/jobs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	admin := map[string]string{"X-Admin-Token": "admin-token"}
	w, env := s.do(http.MethodGet, "/api/v1/admin/jobs", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []jobs.EntryInfo `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Items, 3)
	assert.Equal(t, jobs.JobInactivity, list.Items[0].Name)

	w, _ = s.do(http.MethodPost, "/api/v1/admin/jobs/"+jobs.JobTrending+"/run", nil, admin)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = s.do(http.MethodPost, "/api/v1/admin/jobs/nope/run", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	_, err := s.suite.Scheduler.RunNow(context.Background(), jobs.JobRetention)
	require.NoError(t, err)

	w, _ := s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "countdown_job_runs_total")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(http.MethodGet, "/api/v1/nothing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
}
