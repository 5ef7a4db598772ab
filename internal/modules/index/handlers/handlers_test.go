package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/index"
	"github.com/aristath/tierindex/internal/server/apiutil"
	testingpkg "github.com/aristath/tierindex/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	core   *core.Core
	oracle *testingpkg.MockOracle
}

// newFixture holds 10 units of DOT at 5 and 4 units of KSM at 25: aggregate 150
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{oracle: testingpkg.NewMockOracle()}
	c, err := core.New(nil, core.Deps{Oracle: f.oracle, Clock: testingpkg.NewFakeClock(testingpkg.Epoch)}, core.DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)
	f.core = c

	m := decimal.NewFromInt(1_000_000)
	manager := domain.NewRoleSet(domain.RoleManager)
	holdings := []struct {
		name     string
		quantity int64
		price    int64
	}{{"DOT", 10, 5}, {"KSM", 4, 25}}
	for i, h := range holdings {
		id := domain.AssetID(i + 1)
		f.oracle.SetMetrics(id, m.Mul(decimal.NewFromInt(60)), m.Mul(decimal.NewFromInt(6)))
		f.oracle.SetPrice(id, decimal.NewFromInt(h.price))
		_, err := c.RegisterAsset(context.Background(), manager, h.name, "oracle", 0)
		require.NoError(t, err)
		require.NoError(t, c.SetHoldings(context.Background(), manager, id, decimal.NewFromInt(h.quantity), decimal.Zero))
	}
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, roles ...domain.Role) *httptest.ResponseRecorder {
	t.Helper()
	caps := domain.NewRoleSet(roles...)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(apiutil.WithCapabilities(req.Context(), caps)))
		})
	})
	NewHandler(f.core, zerolog.Nop()).RegisterRoutes(r)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w
}

type envelope struct {
	Data     index.Reading `json:"data"`
	Metadata struct {
		Warning string `json:"warning"`
	} `json:"metadata"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
	return e
}

func TestInitializeOnce(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/index/initialize", InitializeRequest{}, domain.RoleManager).Code)

	w := f.do(t, "POST", "/index/initialize", InitializeRequest{BaselineValue: decimal.NewFromInt(1000)}, domain.RoleOwner)
	require.Equal(t, http.StatusCreated, w.Code)
	e := decode(t, w)
	assert.True(t, e.Data.Initialized)
	assert.True(t, e.Data.BaselineAggregate.Equal(decimal.NewFromInt(150)))
	assert.True(t, e.Data.CurrentValue.Equal(decimal.NewFromInt(1000)))

	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/index/initialize", InitializeRequest{}, domain.RoleOwner).Code)
}

func TestRefreshTracksPerformance(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/index/initialize", InitializeRequest{}, domain.RoleOwner).Code)

	// KSM doubles: aggregate 250, value 100 * 250 / 150
	f.oracle.SetPrice(2, decimal.NewFromInt(50))
	w := f.do(t, "POST", "/index/refresh", nil, domain.RoleManager)
	require.Equal(t, http.StatusOK, w.Code)
	e := decode(t, w)
	assert.Equal(t, int32(6666), e.Data.PerformanceBP)
	assert.Empty(t, e.Metadata.Warning)

	// DOT loses its price: the reading is committed but degraded
	f.oracle.RemovePrice(1)
	w = f.do(t, "POST", "/index/refresh", nil, domain.RoleManager)
	require.Equal(t, http.StatusOK, w.Code)
	e = decode(t, w)
	assert.True(t, e.Data.Degraded)
	assert.Equal(t, []domain.AssetID{1}, e.Data.Missing)
	assert.Contains(t, e.Metadata.Warning, domain.ErrPartialDataDegraded.Error())

	w = f.do(t, "GET", "/index", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode(t, w).Data.Degraded)

	f.oracle.RemovePrice(2)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, "POST", "/index/refresh", nil, domain.RoleManager).Code)
}

func TestLiveValue(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/index/live", nil).Code, "not initialized")

	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/index/initialize", InitializeRequest{}, domain.RoleOwner).Code)
	f.oracle.SetPrice(1, decimal.NewFromInt(20))

	w := f.do(t, "GET", "/index/live", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var e struct {
		Data index.Valuation `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
	assert.True(t, e.Data.Aggregate.Equal(decimal.NewFromInt(300)))
	assert.True(t, e.Data.Value.Equal(decimal.NewFromInt(200)))

	// live valuation is not cached
	assert.True(t, f.core.IndexReading().CurrentValue.Equal(decimal.NewFromInt(100)))
}

func TestEmergencyResetAndTracking(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/index/initialize", InitializeRequest{}, domain.RoleOwner).Code)
	f.oracle.SetPrice(1, decimal.NewFromInt(20))

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/index/reset", ResetRequest{}, domain.RoleEmergencyController).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, "POST", "/index/reset", ResetRequest{Justification: "x"}, domain.RoleManager).Code)

	w := f.do(t, "POST", "/index/reset", ResetRequest{Justification: "oracle migration"}, domain.RoleEmergencyController)
	require.Equal(t, http.StatusOK, w.Code)
	e := decode(t, w)
	assert.Equal(t, 1, e.Data.ResetCount)
	assert.True(t, e.Data.BaselineAggregate.Equal(decimal.NewFromInt(300)))
	assert.Zero(t, e.Data.PerformanceBP)

	w = f.do(t, "PUT", "/index/tracking", TrackingRequest{Enabled: false}, domain.RoleOwner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode(t, w).Data.TrackingEnabled)
}
