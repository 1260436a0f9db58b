package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blues/fundledger/internal/event"
	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/ledger/ledgertest"
	"github.com/blues/fundledger/internal/lock"
	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	engine *gin.Engine
	ledger *ledgertest.Ledger
	bus    *event.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := ledgertest.New()
	bus, err := event.NewBus(1)
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	services := logic.NewServices(repository.NewMemoryStore(), l, lock.NewMemoryLocker(), bus, logic.Options{
		PlatformAddress: "rPlatform",
		PlatformSecret:  "sPlatform",
		NativeAsset:     "XRP",
		Concurrency:     1,
		MinInvestment:   decimal.NewFromInt(1),
		AmountTolerance: decimal.RequireFromString("0.01"),
	})
	services.RegisterProcessors(bus)
	return &testServer{engine: Setup(services), ledger: l, bus: bus}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decodeID(t *testing.T, data json.RawMessage) string {
	t.Helper()
	var v struct {
		Id string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &v))
	require.NotEmpty(t, v.Id)
	return v.Id
}

func TestHealthAndCORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/campaigns", nil)
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestInvestmentFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/campaigns", gin.H{
		"title":       "Wind Park",
		"goal_amount": "100",
		"end_date":    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	campaignID := decodeID(t, env.Data)

	code, _ = s.do(t, http.MethodPost, "/api/v1/campaigns/"+campaignID+"/activate", nil)
	require.Equal(t, http.StatusOK, code)
	code, env = s.do(t, http.MethodPost, "/api/v1/campaigns/"+campaignID+"/activate", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Data), "invalid_campaign_status")

	code, env = s.do(t, http.MethodPost, "/api/v1/investors", gin.H{"name": "Alice", "wallet_address": "rAlice"})
	require.Equal(t, http.StatusCreated, code)
	investorID := decodeID(t, env.Data)

	code, env = s.do(t, http.MethodPost, "/api/v1/investments", gin.H{
		"campaign_id": campaignID,
		"investor_id": investorID,
		"amount":      "100",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var intent struct {
		Investment struct {
			Id string `json:"id"`
		} `json:"investment"`
		Condition   string `json:"condition"`
		Destination string `json:"destination"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &intent))
	assert.Equal(t, "rPlatform", intent.Destination)
	assert.Len(t, intent.Condition, 64)

	s.ledger.AddTransaction(ledger.Transaction{
		Hash: "HASH1", Verified: true, Success: true, Type: ledger.TxTypePayment,
		Account: "rAlice", Destination: "rPlatform", Amount: decimal.NewFromInt(100),
	})

	code, env = s.do(t, http.MethodPost, "/api/v1/investments/"+intent.Investment.Id+"/confirm", gin.H{"transaction_hash": "MISSING"})
	assert.Equal(t, http.StatusBadGateway, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/investments/"+intent.Investment.Id+"/confirm", gin.H{"transaction_hash": "HASH1"})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), `"crossed_threshold":true`)
	s.bus.Wait()

	code, env = s.do(t, http.MethodGet, "/api/v1/investments/"+intent.Investment.Id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"CONFIRMED"`)
	assert.Contains(t, string(env.Data), `"transaction_hash":"HASH1"`)
	assert.NotContains(t, string(env.Data), "preimage")

	code, env = s.do(t, http.MethodGet, "/api/v1/investors/"+investorID+"/investments", nil)
	require.Equal(t, http.StatusOK, code)
	var listed []struct {
		Id     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, intent.Investment.Id, listed[0].Id)
	assert.Equal(t, "CONFIRMED", listed[0].Status)

	code, env = s.do(t, http.MethodGet, "/api/v1/campaigns/"+campaignID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"FUNDED"`)

	code, env = s.do(t, http.MethodPost, "/api/v1/campaigns/"+campaignID+"/token/distribute", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(env.Data), "token_not_issued")
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/api/v1/campaigns/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(env.Data), "campaign_not_found")

	code, _ = s.do(t, http.MethodPost, "/api/v1/investors", gin.H{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/campaigns/missing/dividends", gin.H{
		"total_amount": "10", "asset": "XRP", "distribution_type": "EQUAL",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(env.Data), "invalid_distribution_type")

	code, _ = s.do(t, http.MethodGet, "/api/v1/dividends/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/investments/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(env.Data), "investment_not_found")

	code, env = s.do(t, http.MethodGet, "/api/v1/investors/missing/investments", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(env.Data), "investor_not_found")

	code, env = s.do(t, http.MethodPost, "/api/v1/escrows/check-and-release", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}
