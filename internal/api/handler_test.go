package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/egovportal/internal/auth"
	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/store/memory"
	"github.com/punchamoorthee/egovportal/internal/service"
)

const (
	testSecret   = "test-secret-test-secret-test-secret"
	testAudience = "authenticated"
)

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type testAPI struct {
	t       *testing.T
	logs    *logtest.Hook
	store   *memory.Store
	router  http.Handler
	revenue string
	health  string
	birth   string
	permit  string
	citizen string
	other   string
	admin   string
	deptAdm string
}

func newTestAPI(t *testing.T, limiter *RateLimiter) *testAPI {
	t.Helper()
	a := &testAPI{
		t:       t,
		store:   memory.New(),
		revenue: uuid.NewString(),
		health:  uuid.NewString(),
		birth:   uuid.NewString(),
		permit:  uuid.NewString(),
		citizen: uuid.NewString(),
		other:   uuid.NewString(),
		admin:   uuid.NewString(),
		deptAdm: uuid.NewString(),
	}
	a.store.PutDepartment(domain.Department{ID: a.revenue, Name: "Revenue"})
	a.store.PutDepartment(domain.Department{ID: a.health, Name: "Health"})
	a.store.PutService(domain.Service{ID: a.birth, Name: "Birth Certificate", Fee: 50, DepartmentID: a.revenue, IsActive: true})
	a.store.PutService(domain.Service{ID: a.permit, Name: "Food Permit", Fee: 20, DepartmentID: a.health, IsActive: true})
	a.store.PutProfile(domain.Profile{ID: a.citizen, Name: "Asha"})
	a.store.PutRole(domain.UserRole{UserID: a.admin, Role: domain.RoleSuperAdmin})
	revenue := a.revenue
	a.store.PutRole(domain.UserRole{UserID: a.deptAdm, Role: domain.RoleDepartmentAdmin, DepartmentID: &revenue})

	clk := testclock.NewClock(now)
	logger, hook := logtest.NewNullLogger()
	a.logs = hook
	manager := service.NewManager(a.store, clk, logger)
	catalog := service.NewCatalog(a.store, clk, logger)
	verifier := auth.NewJWTVerifier(testSecret, testAudience, clk)
	a.router = NewHandler(manager, catalog, verifier, limiter, logger).Routes()
	return a
}

func (a *testAPI) do(method, path, user string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		token, err := auth.Issue(testSecret, testAudience, user, now, time.Hour)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type list[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func (a *testAPI) submit(user, serviceID string) domain.RequestDetail {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/requests", user, map[string]string{
		"service_id": serviceID, "payment_method": "upi",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.RequestDetail](a.t, rec)
}

func TestHealthCheck(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPublicCatalog(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodGet, "/api/v1/services?q=health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	services := decode[list[domain.Service]](t, rec)
	require.Equal(t, 1, services.Count)
	assert.Equal(t, "Food Permit", services.Items[0].Name)

	rec = a.do(http.MethodGet, "/api/v1/services/"+a.birth, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Revenue", decode[domain.Service](t, rec).DepartmentName)

	rec = a.do(http.MethodGet, "/api/v1/services/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/departments", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[list[domain.Department]](t, rec).Count)
}

func TestAuthenticationRequired(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodGet, "/api/v1/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[errorBody](t, rec).Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer forged.token.value")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/me", a.citizen, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[domain.Actor](t, rec)
	assert.Equal(t, a.citizen, me.UserID)
	assert.Equal(t, domain.RoleCitizen, me.Role)
}

func TestSubmitTrackAndLookup(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodPost, "/api/v1/requests", a.citizen, map[string]string{
		"service_id": a.birth, "payment_method": "upi",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	detail := decode[domain.RequestDetail](t, rec)
	assert.Equal(t, "/api/v1/requests/"+detail.ID, rec.Header().Get("Location"))
	assert.Equal(t, domain.StatusPending, detail.Status)
	require.Len(t, detail.Payments, 1)
	assert.Equal(t, 50.0, detail.Payments[0].Amount)

	rec = a.do(http.MethodGet, "/api/v1/track/"+detail.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tracked map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracked))
	assert.Equal(t, "pending", tracked["status"])
	assert.Equal(t, "Birth Certificate", tracked["service_name"])
	assert.NotContains(t, tracked, "citizen_id")
	assert.NotContains(t, tracked, "payments")
	assert.NotContains(t, tracked, "remarks")

	rec = a.do(http.MethodGet, "/api/v1/requests/"+detail.ID, a.citizen, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodGet, "/api/v1/requests/"+detail.ID, a.other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/track/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitValidationErrors(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodPost, "/api/v1/requests", a.citizen, `{"service_id":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decode[errorBody](t, rec).Error.Code)

	rec = a.do(http.MethodPost, "/api/v1/requests", a.citizen, map[string]string{
		"service_id": a.birth, "payment_method": "cheque",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode[errorBody](t, rec).Error.Code)

	rec = a.do(http.MethodPost, "/api/v1/requests", a.citizen, map[string]string{
		"service_id": uuid.NewString(), "payment_method": "card",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransitions(t *testing.T) {
	a := newTestAPI(t, nil)
	detail := a.submit(a.citizen, a.birth)
	path := "/api/v1/requests/" + detail.ID + "/transitions"

	rec := a.do(http.MethodPost, path, a.citizen, map[string]string{"status": "approved"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[errorBody](t, rec).Error.Code)

	rec = a.do(http.MethodPost, path, a.admin, map[string]string{"status": "rejected"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, path, a.admin, map[string]string{"status": "approved", "remarks": "ok"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusApproved, decode[domain.ServiceRequest](t, rec).Status)

	rec = a.do(http.MethodPost, path, a.admin, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, path, a.admin, map[string]string{"status": "pending"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[errorBody](t, rec).Error.Code)

	rec = a.do(http.MethodPost, path, a.admin, map[string]string{"status": "rejected"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[errorBody](t, rec).Error.Code)
}

func TestDepartmentAdminSeesOwnDepartment(t *testing.T) {
	a := newTestAPI(t, nil)
	a.submit(a.citizen, a.birth)
	healthReq := a.submit(a.citizen, a.permit)

	rec := a.do(http.MethodGet, "/api/v1/requests", a.deptAdm, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	requests := decode[list[domain.RequestDetail]](t, rec)
	require.Equal(t, 1, requests.Count)
	assert.Equal(t, "Asha", requests.Items[0].CitizenName)

	rec = a.do(http.MethodPost, "/api/v1/requests/"+healthReq.ID+"/transitions", a.deptAdm, map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/requests?status=bogus", a.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/requests", a.citizen, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCitizenListsAndStats(t *testing.T) {
	a := newTestAPI(t, nil)
	a.submit(a.citizen, a.birth)
	a.submit(a.citizen, a.permit)
	a.submit(a.other, a.birth)

	rec := a.do(http.MethodGet, "/api/v1/me/requests", a.citizen, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[list[domain.RequestDetail]](t, rec)
	require.Equal(t, 2, mine.Count)
	for _, r := range mine.Items {
		assert.Equal(t, a.citizen, r.CitizenID)
	}

	rec = a.do(http.MethodGet, "/api/v1/citizens/"+a.citizen+"/requests", a.other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(http.MethodGet, "/api/v1/citizens/"+a.citizen+"/requests", a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[list[domain.RequestDetail]](t, rec).Count)

	rec = a.do(http.MethodGet, "/api/v1/dashboard/stats", a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.Stats{Total: 3, Pending: 3}, decode[domain.Stats](t, rec))
}

func TestAdminCatalog(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodPost, "/api/v1/admin/services", a.admin, map[string]any{
		"name": "Trade Licence", "description": "For traders", "fee": 0,
		"department_id": a.revenue, "processing_time": "5 days",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Service](t, rec)
	assert.True(t, created.IsActive)
	assert.Equal(t, 0.0, created.Fee)

	rec = a.do(http.MethodPost, "/api/v1/admin/services", a.admin, map[string]any{
		"name": "Trade Licence", "description": "For traders",
		"department_id": a.revenue, "processing_time": "5 days",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPatch, "/api/v1/admin/services/"+created.ID, a.admin, map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[domain.Service](t, rec).IsActive)

	rec = a.do(http.MethodPatch, "/api/v1/admin/services/"+created.ID, a.admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/admin/services", a.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[list[domain.Service]](t, rec).Count)

	rec = a.do(http.MethodGet, "/api/v1/services", "", nil)
	assert.Equal(t, 2, decode[list[domain.Service]](t, rec).Count)

	rec = a.do(http.MethodGet, "/api/v1/admin/services", a.citizen, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBackendOutageIs503(t *testing.T) {
	a := newTestAPI(t, nil)
	a.store.Fail = func(string) error { return errors.New("connection refused") }

	rec := a.do(http.MethodGet, "/api/v1/services", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "unavailable", body.Error.Code)
	assert.NotContains(t, body.Error.Message, "connection refused")
}

func TestCanceledRequestIsNotAnOutage(t *testing.T) {
	a := newTestAPI(t, nil)
	a.store.Fail = func(string) error { return context.Canceled }

	rec := a.do(http.MethodGet, "/api/v1/services", "", nil)
	require.Equal(t, statusClientClosedRequest, rec.Code)
	assert.Equal(t, "client_closed", decode[errorBody](t, rec).Error.Code)
	for _, entry := range a.logs.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, entry.Level, entry.Message)
	}
}

func newLimiter(t *testing.T, clk clock.Clock, burst int, trusted ...string) *RateLimiter {
	t.Helper()
	limiter, err := NewRateLimiter(0.001, burst, clk, trusted...)
	require.NoError(t, err)
	return limiter
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, newLimiter(t, clock.WallClock, 2))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", "", nil).Code)
	}
	rec := a.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode[errorBody](t, rec).Error.Code)
}

func health(router http.Handler, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	a := newTestAPI(t, newLimiter(t, clock.WallClock, 1))

	assert.Equal(t, http.StatusOK, health(a.router, "198.51.100.7:4000", "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, health(a.router, "198.51.100.7:4001", "10.0.0.2"))
	assert.Equal(t, http.StatusOK, health(a.router, "198.51.100.8:4000", ""))
}

func TestRateLimitTrustedProxy(t *testing.T) {
	a := newTestAPI(t, newLimiter(t, clock.WallClock, 1, "192.0.2.0/24"))

	assert.Equal(t, http.StatusOK, health(a.router, "192.0.2.10:80", "203.0.113.5"))
	assert.Equal(t, http.StatusTooManyRequests, health(a.router, "192.0.2.11:80", "203.0.113.5"))
	// a forged left-most hop does not buy a fresh bucket
	assert.Equal(t, http.StatusTooManyRequests, health(a.router, "192.0.2.10:80", "1.2.3.4, 203.0.113.5"))
	assert.Equal(t, http.StatusOK, health(a.router, "192.0.2.10:80", "203.0.113.6, 192.0.2.99"))
}

func TestNewRateLimiterRejectsBadProxy(t *testing.T) {
	_, err := NewRateLimiter(1, 1, clock.WallClock, "not-an-ip")
	assert.Error(t, err)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	clk := testclock.NewClock(now)
	limiter := newLimiter(t, clk, 1)

	limiter.limiter("198.51.100.1")
	clk.Advance(10 * time.Minute)
	limiter.limiter("198.51.100.2")

	assert.Equal(t, 1, limiter.Cleanup(5*time.Minute))
	assert.Len(t, limiter.limiters, 1)
	assert.Contains(t, limiter.limiters, "198.51.100.2")
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(http.MethodGet, "/api/v2/nothing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Error.Code)
}
