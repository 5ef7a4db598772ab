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
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/aristath/tierindex/internal/modules/tiers"
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

type fixture struct {
	router http.Handler
	core   *core.Core
	oracle *testingpkg.MockOracle
}

func setup(t *testing.T, roles ...domain.Role) *fixture {
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
	NewHandler(c, 10, zerolog.Nop()).RegisterRoutes(r)
	return &fixture{router: r, core: c, oracle: oracle}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
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

func TestHandleGetThresholds(t *testing.T) {
	f := setup(t)
	w := f.do(t, "GET", "/tiers/thresholds", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []ThresholdResponse
	decodeData(t, w, &list)
	require.Len(t, list, 4)
	assert.Equal(t, domain.Tier1, list[0].Tier)
	assert.True(t, list[0].MarketCapFloor.Equal(millions(50)))
	assert.Equal(t, domain.Tier4, list[3].Tier)
	assert.True(t, list[3].VolumeFloor.Equal(millions(200)))
}

func TestHandleSetThresholds(t *testing.T) {
	raised := tiers.DefaultThresholds()
	raised[0].MarketCapFloor = millions(100)

	broken := tiers.DefaultThresholds()
	broken[1].VolumeFloor = millions(1)

	tests := []struct {
		name     string
		roles    []domain.Role
		body     interface{}
		wantCode int
	}{
		{"owner raises tier1 floor", []domain.Role{domain.RoleOwner}, raised, http.StatusOK},
		{"manager may not", []domain.Role{domain.RoleManager}, raised, http.StatusForbidden},
		{"floors must increase", []domain.Role{domain.RoleOwner}, broken, http.StatusBadRequest},
		{"not an array", []domain.Role{domain.RoleOwner}, map[string]int{"tier1": 1}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, tt.roles...)
			w := f.do(t, "PUT", "/tiers/thresholds", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.True(t, f.core.Thresholds()[0].MarketCapFloor.Equal(millions(100)))
			} else {
				assert.Equal(t, tiers.DefaultThresholds(), f.core.Thresholds())
			}
		})
	}
}

func TestHandleClassify(t *testing.T) {
	f := setup(t)
	tests := []struct {
		marketCap, volume int64
		want              domain.Tier
	}{
		{40, 6, domain.TierNone},
		{60, 6, domain.Tier1},
		{600, 40, domain.Tier2},
		{2500, 250, domain.Tier4},
	}
	for _, tt := range tests {
		w := f.do(t, "POST", "/tiers/classify", domain.Metrics{MarketCap: millions(tt.marketCap), TrailingVolume: millions(tt.volume)})
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Tier domain.Tier `json:"tier"`
		}
		decodeData(t, w, &resp)
		assert.Equal(t, tt.want, resp.Tier, "%dM/%dM", tt.marketCap, tt.volume)
	}
}

func TestHandleDistributionAndSampling(t *testing.T) {
	f := setup(t, domain.RoleManager)
	caps := domain.NewRoleSet(domain.RoleManager)
	f.oracle.SetMetrics(1, millions(60), millions(6))
	f.oracle.SetMetrics(2, millions(70), millions(7))
	f.oracle.SetPrice(1, decimal.NewFromInt(2))
	f.oracle.SetPrice(2, decimal.NewFromInt(30))
	for _, name := range []string{"PHA", "KSM"} {
		_, err := f.core.RegisterAsset(context.Background(), caps, name, "oracle", 0)
		require.NoError(t, err)
	}

	w := f.do(t, "GET", "/tiers/distribution", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dist map[string]int
	decodeData(t, w, &dist)
	assert.Equal(t, 2, dist["tier1"])
	assert.Equal(t, 0, dist["tier4"])
	assert.Len(t, dist, 5)

	require.Equal(t, http.StatusOK, f.do(t, "POST", "/tiers/distribution/refresh", nil).Code)

	w = f.do(t, "POST", "/tiers/metrics/sample?batch=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res history.SampleResult
	decodeData(t, w, &res)
	assert.Equal(t, 2, res.Sampled)
	assert.True(t, res.Done)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/tiers/metrics/sample?batch=-1", nil).Code)
}
