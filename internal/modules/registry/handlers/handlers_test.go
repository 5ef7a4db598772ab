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
	"github.com/aristath/tierindex/internal/server/apiutil"
	testingpkg "github.com/aristath/tierindex/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func millions(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Mul(decimal.NewFromInt(1_000_000))
}

func setupRouter(t *testing.T, roles ...domain.Role) (http.Handler, *core.Core, *testingpkg.MockOracle) {
	t.Helper()
	oracle := testingpkg.NewMockOracle()
	c, err := core.New(nil, core.Deps{
		Oracle: oracle,
		Clock:  testingpkg.NewFakeClock(testingpkg.Epoch),
	}, core.DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)

	caps := domain.NewRoleSet(roles...)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(apiutil.WithCapabilities(req.Context(), caps)))
		})
	})
	NewHandler(c, zerolog.Nop()).RegisterRoutes(r)
	return r, c, oracle
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}

func TestHandleRegisterAsset(t *testing.T) {
	router, _, oracle := setupRouter(t, domain.RoleManager)
	oracle.SetMetrics(1, millions(300), millions(30))

	w := do(t, router, "POST", "/assets", RegisterAssetRequest{Underlying: "DOT", Provider: "oracle", TargetWeightBP: 1500})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var asset domain.AssetRecord
	decodeData(t, w, &asset)
	assert.Equal(t, domain.AssetID(1), asset.ID)
	assert.Equal(t, domain.Tier2, asset.Tier)
	assert.Equal(t, 1500, asset.TargetWeightBP)
}

func TestHandleRegisterAsset_Errors(t *testing.T) {
	tests := []struct {
		name     string
		roles    []domain.Role
		body     interface{}
		metrics  bool
		wantCode int
	}{
		{"anonymous caller", nil, RegisterAssetRequest{Underlying: "DOT", Provider: "oracle"}, true, http.StatusForbidden},
		{"emergency role cannot register", []domain.Role{domain.RoleEmergencyController}, RegisterAssetRequest{Underlying: "DOT", Provider: "oracle"}, true, http.StatusForbidden},
		{"unknown field", []domain.Role{domain.RoleManager}, map[string]interface{}{"symbol": "DOT"}, true, http.StatusBadRequest},
		{"weight out of range", []domain.Role{domain.RoleManager}, RegisterAssetRequest{Underlying: "DOT", Provider: "oracle", TargetWeightBP: 10001}, true, http.StatusBadRequest},
		{"no market data", []domain.Role{domain.RoleManager}, RegisterAssetRequest{Underlying: "DOT", Provider: "oracle"}, false, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _, oracle := setupRouter(t, tt.roles...)
			if tt.metrics {
				oracle.SetMetrics(1, millions(60), millions(6))
			}
			w := do(t, router, "POST", "/assets", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)

			var resp map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestHandleListAssets(t *testing.T) {
	router, c, oracle := setupRouter(t, domain.RoleManager)
	caps := domain.NewRoleSet(domain.RoleManager)
	oracle.SetMetrics(1, millions(60), millions(6))
	oracle.SetMetrics(2, millions(600), millions(60))
	_, err := c.RegisterAsset(context.Background(), caps, "PHA", "oracle", 0)
	require.NoError(t, err)
	_, err = c.RegisterAsset(context.Background(), caps, "DOT", "oracle", 0)
	require.NoError(t, err)

	w := do(t, router, "GET", "/assets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Assets []domain.AssetRecord `json:"assets"`
		Count  int                  `json:"count"`
	}
	decodeData(t, w, &all)
	assert.Equal(t, 2, all.Count)

	w = do(t, router, "GET", "/assets?tier=tier3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &all)
	require.Equal(t, 1, all.Count)
	assert.Equal(t, "DOT", all.Assets[0].Underlying)

	w = do(t, router, "GET", "/assets?tier=gold", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAssetLifecycle(t *testing.T) {
	router, _, oracle := setupRouter(t, domain.RoleOwner)
	oracle.SetMetrics(1, millions(60), millions(6))
	require.Equal(t, http.StatusCreated, do(t, router, "POST", "/assets", RegisterAssetRequest{Underlying: "PHA", Provider: "oracle"}).Code)

	w := do(t, router, "PUT", "/assets/1/weight", WeightRequest{TargetWeightBP: 2500})
	require.Equal(t, http.StatusOK, w.Code)
	var asset domain.AssetRecord
	decodeData(t, w, &asset)
	assert.Equal(t, 2500, asset.TargetWeightBP)

	w = do(t, router, "PUT", "/assets/1/holdings", HoldingsRequest{Quantity: decimal.NewFromInt(10), Staked: decimal.NewFromInt(4)})
	require.Equal(t, http.StatusOK, w.Code)

	// still holds a position
	assert.Equal(t, http.StatusBadRequest, do(t, router, "DELETE", "/assets/1", nil).Code)

	require.Equal(t, http.StatusOK, do(t, router, "PUT", "/assets/1/holdings", HoldingsRequest{}).Code)
	w = do(t, router, "DELETE", "/assets/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &asset)
	assert.True(t, asset.Retired)

	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/assets/9", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/assets/abc", nil).Code)
}

func TestHandleAdjustReserve(t *testing.T) {
	router, _, _ := setupRouter(t, domain.RoleOwner)

	w := do(t, router, "POST", "/reserve", ReserveRequest{Delta: decimal.NewFromInt(500)})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Reserve decimal.Decimal `json:"reserve"`
	}
	decodeData(t, w, &resp)
	assert.True(t, resp.Reserve.Equal(decimal.NewFromInt(500)))

	w = do(t, router, "POST", "/reserve", ReserveRequest{Delta: decimal.NewFromInt(-600)})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleOperations(t *testing.T) {
	router, c, oracle := setupRouter(t, domain.RoleOwner)
	oracle.SetMetrics(1, millions(60), millions(6))
	_, err := c.RegisterAsset(context.Background(), domain.NewRoleSet(domain.RoleManager), "PHA", "oracle", 0)
	require.NoError(t, err)

	w := do(t, router, "GET", "/operations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ops core.Operations
	decodeData(t, w, &ops)
	assert.Equal(t, domain.OperatingActive, ops.State)

	w = do(t, router, "POST", "/operations/pause", ReasonRequest{Reason: "oracle incident"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &ops)
	assert.Equal(t, domain.OperatingEmergency, ops.State)

	w = do(t, router, "PUT", "/assets/1/holdings", HoldingsRequest{Quantity: decimal.NewFromInt(5), Staked: decimal.Zero})
	assert.Equal(t, http.StatusLocked, w.Code)
	w = do(t, router, "POST", "/reserve", ReserveRequest{Delta: decimal.NewFromInt(5)})
	assert.Equal(t, http.StatusLocked, w.Code)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", "/operations", OperatingStateRequest{State: "frozen", Reason: "x"}).Code)
	w = do(t, router, "PUT", "/operations", OperatingStateRequest{State: "maintenance", Reason: "venue migration"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &ops)
	assert.Equal(t, domain.OperatingMaintenance, ops.State)

	w = do(t, router, "POST", "/operations/resume", ReasonRequest{Reason: "done"})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, "PUT", "/assets/1/holdings", HoldingsRequest{Quantity: decimal.NewFromInt(5), Staked: decimal.Zero})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleOperations_Roles(t *testing.T) {
	router, _, _ := setupRouter(t, domain.RoleEmergencyController)

	assert.Equal(t, http.StatusForbidden, do(t, router, "PUT", "/operations", OperatingStateRequest{State: "paused", Reason: "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/operations/pause", ReasonRequest{}).Code)
	assert.Equal(t, http.StatusOK, do(t, router, "POST", "/operations/pause", ReasonRequest{Reason: "x"}).Code)

	manager, _, _ := setupRouter(t, domain.RoleManager)
	assert.Equal(t, http.StatusForbidden, do(t, manager, "POST", "/operations/pause", ReasonRequest{Reason: "x"}).Code)
}

func TestHandleLimits(t *testing.T) {
	router, c, oracle := setupRouter(t, domain.RoleOwner)
	oracle.SetMetrics(1, millions(60), millions(6))
	oracle.SetMetrics(2, millions(60), millions(6))
	_, err := c.RegisterAsset(context.Background(), domain.NewRoleSet(domain.RoleManager), "PHA", "oracle", 0)
	require.NoError(t, err)

	var limits struct {
		MaxAssets  int `json:"max_assets"`
		Registered int `json:"registered"`
	}
	w := do(t, router, "GET", "/limits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &limits)
	assert.Equal(t, 50, limits.MaxAssets)
	assert.Equal(t, 1, limits.Registered)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", "/limits", LimitsRequest{MaxAssets: 0}).Code)
	w = do(t, router, "PUT", "/limits", LimitsRequest{MaxAssets: 1})
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &limits)
	assert.Equal(t, 1, limits.MaxAssets)

	w = do(t, router, "POST", "/assets", RegisterAssetRequest{Underlying: "DOT", Provider: "oracle"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
