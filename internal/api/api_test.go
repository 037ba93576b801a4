package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/blockaid/internal/audit"
	"github.com/opensource-finance/blockaid/internal/bus"
	"github.com/opensource-finance/blockaid/internal/cache"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/opensource-finance/blockaid/internal/event"
	"github.com/opensource-finance/blockaid/internal/fund"
	"github.com/opensource-finance/blockaid/internal/repository"
	"github.com/opensource-finance/blockaid/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	classify func(context.Context, []byte) (domain.Predictions, error)
}

func newTestServer(t *testing.T, limits domain.RateLimitConfig) *testServer {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(16)
	t.Cleanup(func() { b.Close() })

	c := cache.NewLRUCache(100)
	trail := audit.NewTrail(repo)

	engine, err := rules.NewEngine(2)
	require.NoError(t, err)

	ts := &testServer{
		classify: func(context.Context, []byte) (domain.Predictions, error) {
			return domain.Predictions{Low: 0.1, Medium: 0.3, High: 0.6}, nil
		},
	}
	classifier := domain.ClassifierFunc(func(ctx context.Context, image []byte) (domain.Predictions, error) {
		return ts.classify(ctx, image)
	})

	ts.Server = NewServer(domain.ServerConfig{MaxUploadBytes: 1 << 20}, limits, Deps{
		Repo:  repo,
		Cache: c,
		Bus:   b,
		Events: event.NewManager(event.Deps{
			Repo:       repo,
			Cache:      c,
			Bus:        b,
			Classifier: classifier,
			Trail:      trail,
		}),
		Funds:   fund.NewManager(repo, b, trail),
		Trail:   trail,
		Engine:  engine,
		Version: "test",
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.Router().ServeHTTP(rr, req)
	return rr
}

func asUser(req *http.Request, id string, role domain.Role) *http.Request {
	if id != "" {
		req.Header.Set(UserIDHeader, id)
	}
	if role != "" {
		req.Header.Set(UserRoleHeader, string(role))
	}
	return req
}

func eventForm(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "photo.jpg")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func floodFields() map[string]string {
	return map[string]string{
		"disaster_type":         "flood",
		"location":              "Sylhet",
		"rainfall_mm":           "120",
		"water_level_cm":        "85",
		"population_affected":   "5000",
		"infrastructure_damage": "65",
		"impact_area":           "35",
	}
}

func postEvent(t *testing.T, ts *testServer, fields map[string]string, image []byte, id string, role domain.Role) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := eventForm(t, fields, image)
	req := httptest.NewRequest(http.MethodPost, "/events", body)
	req.Header.Set("Content-Type", ct)
	return ts.do(asUser(req, id, role))
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func createEvent(t *testing.T, ts *testServer, image string) string {
	t.Helper()
	rr := postEvent(t, ts, floodFields(), []byte(image), "ngo-1", domain.RoleNGO)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[CreateEventResponse](t, rr).ID
}

func TestCreateEvent(t *testing.T) {
	ts := newTestServer(t, domain.RateLimitConfig{})

	t.Run("Created", func(t *testing.T) {
		rr := postEvent(t, ts, floodFields(), []byte("img-1"), "ngo-1", domain.RoleNGO)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		resp := decode[CreateEventResponse](t, rr)
		assert.NotEmpty(t, resp.ID)
		assert.InDelta(t, 62.10, resp.SeverityScore, 1e-9)
		assert.Equal(t, domain.SeverityMedium, resp.SeverityLevel)
		assert.InDelta(t, 0.92, resp.Confidence, 1e-9)
		assert.Equal(t, 36.67, resp.ComponentScores.PopulationAffected)
		assert.NotEmpty(t, rr.Header().Get(TraceIDHeader))
	})

	t.Run("Duplicate", func(t *testing.T) {
		fields := floodFields()
		fields["location"] = "Dhaka"
		rr := postEvent(t, ts, fields, []byte("img-1"), "ngo-2", domain.RoleNGO)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("MissingFields", func(t *testing.T) {
		fields := floodFields()
		delete(fields, "impact_area")
		rr := postEvent(t, ts, fields, nil, "ngo-1", domain.RoleNGO)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		msg := decode[map[string]string](t, rr)["error"]
		assert.Contains(t, msg, "impact_area")
		assert.Contains(t, msg, "image")
	})

	t.Run("InvalidNumber", func(t *testing.T) {
		fields := floodFields()
		fields["rainfall_mm"] = "lots"
		rr := postEvent(t, ts, fields, []byte("img-x"), "ngo-1", domain.RoleNGO)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "rainfall_mm")
	})

	t.Run("NotMultipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rr := ts.do(asUser(req, "ngo-1", domain.RoleNGO))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Anonymous", func(t *testing.T) {
		rr := postEvent(t, ts, floodFields(), []byte("img-2"), "", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Donor", func(t *testing.T) {
		rr := postEvent(t, ts, floodFields(), []byte("img-3"), "donor-1", domain.RoleDonor)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("ClassifierDown", func(t *testing.T) {
		ts.classify = func(context.Context, []byte) (domain.Predictions, error) {
			return domain.Predictions{}, fmt.Errorf("%w: model not loaded", domain.ErrUnavailable)
		}
		defer func() {
			ts.classify = func(context.Context, []byte) (domain.Predictions, error) {
				return domain.Predictions{High: 1}, nil
			}
		}()
		rr := postEvent(t, ts, floodFields(), []byte("img-4"), "ngo-1", domain.RoleNGO)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("ClassifierBroken", func(t *testing.T) {
		ts.classify = func(context.Context, []byte) (domain.Predictions, error) {
			return domain.Predictions{}, fmt.Errorf("decode failure")
		}
		rr := postEvent(t, ts, floodFields(), []byte("img-5"), "ngo-1", domain.RoleNGO)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "internal server error", decode[map[string]string](t, rr)["error"])
	})
}

func TestEventReadsAndVerify(t *testing.T) {
	ts := newTestServer(t, domain.RateLimitConfig{})
	id := createEvent(t, ts, "read-me")
	createEvent(t, ts, "second")

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/events/"+id, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, id, decode[domain.DisasterEvent](t, rr).ID)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/events/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/events?page=1&per_page=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct {
		Total       int                    `json:"total"`
		Pages       int                    `json:"pages"`
		CurrentPage int                    `json:"current_page"`
		Events      []domain.DisasterEvent `json:"events"`
	}](t, rr)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 2, list.Pages)
	assert.Equal(t, 1, list.CurrentPage)
	require.Len(t, list.Events, 1)
	assert.Equal(t, id, list.Events[0].ID)

	verify := func(userID string, role domain.Role) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/events/"+id+"/verify", nil)
		return ts.do(asUser(req, userID, role))
	}

	assert.Equal(t, http.StatusUnauthorized, verify("", "").Code)
	assert.Equal(t, http.StatusForbidden, verify("ngo-1", domain.RoleNGO).Code)

	rr = verify("official-1", domain.RoleOfficial)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[struct {
		Message string               `json:"message"`
		Event   domain.DisasterEvent `json:"event"`
	}](t, rr)
	assert.True(t, body.Event.IsVerified)
	assert.Equal(t, "official-1", body.Event.VerifiedBy)

	assert.Equal(t, http.StatusConflict, verify("official-1", domain.RoleOfficial).Code)

	req := httptest.NewRequest(http.MethodPost, "/events/missing/verify", nil)
	assert.Equal(t, http.StatusNotFound, ts.do(asUser(req, "official-1", domain.RoleOfficial)).Code)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/events/"+id, nil))
	assert.True(t, decode[domain.DisasterEvent](t, rr).IsVerified)
}

func TestFunds(t *testing.T) {
	ts := newTestServer(t, domain.RateLimitConfig{})
	id := createEvent(t, ts, "fund-me")

	postFund := func(body string, userID string, role domain.Role) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/funds", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return ts.do(asUser(req, userID, role))
	}
	valid := fmt.Sprintf(`{"event_id":%q,"amount":"1500.50"}`, id)

	assert.Equal(t, http.StatusUnauthorized, postFund(valid, "", "").Code)
	assert.Equal(t, http.StatusForbidden, postFund(valid, "ngo-1", domain.RoleNGO).Code)
	assert.Equal(t, http.StatusBadRequest, postFund(`{"event_id":"x"}`, "official-1", domain.RoleOfficial).Code)
	assert.Equal(t, http.StatusBadRequest, postFund(`not json`, "official-1", domain.RoleOfficial).Code)
	assert.Equal(t, http.StatusNotFound, postFund(`{"event_id":"ghost","amount":1}`, "official-1", domain.RoleOfficial).Code)

	// Unverified event
	assert.Equal(t, http.StatusBadRequest, postFund(valid, "official-1", domain.RoleOfficial).Code)

	req := httptest.NewRequest(http.MethodPost, "/events/"+id+"/verify", nil)
	require.Equal(t, http.StatusOK, ts.do(asUser(req, "official-1", domain.RoleOfficial)).Code)

	negative := fmt.Sprintf(`{"event_id":%q,"amount":-5}`, id)
	assert.Equal(t, http.StatusBadRequest, postFund(negative, "official-1", domain.RoleOfficial).Code)

	rr := postFund(valid, "official-1", domain.RoleOfficial)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[struct {
		ID   string      `json:"id"`
		Fund domain.Fund `json:"fund"`
	}](t, rr)
	assert.Equal(t, domain.FundApproved, created.Fund.Status)
	assert.Equal(t, "1500.5", created.Fund.TotalAmount.String())

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/funds/"+created.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, id, decode[domain.Fund](t, rr).EventID)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/funds/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/events/"+id+"/funds", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	listed := decode[struct {
		Funds []domain.Fund `json:"funds"`
		Count int           `json:"count"`
	}](t, rr)
	assert.Equal(t, 1, listed.Count)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/events/ghost/funds", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAuditLogs(t *testing.T) {
	ts := newTestServer(t, domain.RateLimitConfig{})
	id := createEvent(t, ts, "audited")

	get := func(userID string, role domain.Role) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/audit-logs?per_page=500", nil)
		return ts.do(asUser(req, userID, role))
	}

	assert.Equal(t, http.StatusUnauthorized, get("", "").Code)
	assert.Equal(t, http.StatusForbidden, get("ngo-1", domain.RoleNGO).Code)

	rr := get("official-1", domain.RoleOfficial)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[struct {
		Total int                  `json:"total"`
		Logs  []domain.AuditRecord `json:"logs"`
	}](t, rr)
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Logs, 1)
	assert.Equal(t, domain.ActionCreateEvent, body.Logs[0].Action)
	assert.Equal(t, id, body.Logs[0].EntityID)
	assert.Equal(t, "ngo-1", body.Logs[0].Actor)
}

func TestRules(t *testing.T) {
	ts := newTestServer(t, domain.RateLimitConfig{})

	postRule := func(body string, role domain.Role) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return ts.do(asUser(req, "user-1", role))
	}

	rule := `{"id":"critical","name":"Critical","expression":"severity_score > 90.0","weight":1,"enabled":true,
		"bands":[{"upperLimit":1,"outcome":".pass"},{"lowerLimit":1,"outcome":".fail","reason":"critical"}]}`

	assert.Equal(t, http.StatusForbidden, postRule(rule, domain.RoleNGO).Code)
	assert.Equal(t, http.StatusBadRequest, postRule(`{"id":"x"}`, domain.RoleOfficial).Code)
	assert.Equal(t, http.StatusBadRequest,
		postRule(`{"id":"x","name":"x","expression":"amount > 1.0"}`, domain.RoleOfficial).Code)

	rr := postRule(rule, domain.RoleOfficial)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	// Stored but not loaded until reload.
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/rules", nil))
	assert.Equal(t, float64(0), decode[map[string]any](t, rr)["count"])

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/rules/critical", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/rules/reload", nil)
	rr = ts.do(asUser(req, "user-1", domain.RoleOfficial))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(1), decode[map[string]any](t, rr)["count"])

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/rules", nil))
	assert.Equal(t, float64(1), decode[map[string]any](t, rr)["count"])

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/rules/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/audit-logs", nil)
	rr = ts.do(asUser(req, "official-1", domain.RoleOfficial))
	logs := decode[struct {
		Logs []domain.AuditRecord `json:"logs"`
	}](t, rr).Logs
	require.Len(t, logs, 1)
	assert.Equal(t, domain.ActionCreateRule, logs[0].Action)
	assert.Equal(t, domain.EntityEscalationRule, logs[0].EntityType)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, domain.RateLimitConfig{})

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rr)["status"])

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	createEvent(t, ts, "counted")
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "blockaid_events_created_total")
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, domain.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2})

	get := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.RemoteAddr = addr
		return ts.do(req).Code
	}

	assert.Equal(t, http.StatusOK, get("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, get("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, get("10.0.0.2:1000"), "limits are per client")

	// Probes are never throttled.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:1003"
	assert.Equal(t, http.StatusOK, ts.do(req).Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, domain.RateLimitConfig{})
	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "https://relief.example")
	rr := ts.do(req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://relief.example", rr.Header().Get("Access-Control-Allow-Origin"))
}
