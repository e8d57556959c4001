package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"crowdvault/core/events"
	"crowdvault/crypto"
	"crowdvault/native/crowdfund"
	"crowdvault/state"
	"crowdvault/storage"
)

const testToken = "test-secret"

type testEnv struct {
	server  *httptest.Server
	manager *state.Manager
	journal *events.Journal

	owner    crypto.Address
	creator  crypto.Address
	managerA crypto.Address
	donor    crypto.Address
}

func testAddress(t *testing.T, fill byte) crypto.Address {
	t.Helper()
	raw := bytes.Repeat([]byte{fill}, 20)
	return crypto.NewAddress(crypto.Prefix, raw)
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	t.Setenv("CROWDVAULT_RPC_TOKEN", testToken)

	env := &testEnv{
		owner:    testAddress(t, 0x01),
		creator:  testAddress(t, 0x11),
		managerA: testAddress(t, 0x22),
		donor:    testAddress(t, 0x33),
	}

	env.manager = state.NewManager(storage.NewMemDB())
	require.NoError(t, env.manager.Bootstrap(env.owner.Raw(), 250))
	require.NoError(t, env.manager.CreditAccount(env.creator.Raw(), big.NewInt(10_000)))
	require.NoError(t, env.manager.CreditAccount(env.donor.Raw(), big.NewInt(10_000)))

	env.journal = events.NewJournal(128)

	engine := crowdfund.NewEngine()
	engine.SetState(env.manager)
	engine.SetEmitter(env.journal)
	engine.SetNowFunc(func() int64 { return 1_000 })

	server := NewServer(engine, env.journal, cfg, nil)
	env.server = httptest.NewServer(server.Router())
	t.Cleanup(env.server.Close)
	return env
}

func (env *testEnv) call(t *testing.T, token, method string, params interface{}) (*http.Response, RPCResponse) {
	t.Helper()
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		reqBody["params"] = []interface{}{params}
	}
	blob, err := json.Marshal(reqBody)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/rpc", bytes.NewReader(blob))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (env *testEnv) createCampaign(t *testing.T) uint64 {
	t.Helper()
	resp, rpcResp := env.call(t, testToken, "crowdfund_create", map[string]interface{}{
		"caller":          env.creator.String(),
		"deposit":         "10",
		"name":            "community garden",
		"manager":         env.managerA.String(),
		"minimumDonation": "10",
		"goal":            "1000",
		"endTime":         2_000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)

	blob, err := json.Marshal(rpcResp.Result)
	require.NoError(t, err)
	var result createResult
	require.NoError(t, json.Unmarshal(blob, &result))
	return result.CampaignID
}

func TestMutationsRequireAuth(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	resp, rpcResp := env.call(t, "", "crowdfund_donate", map[string]interface{}{
		"caller":     env.donor.String(),
		"deposit":    "10",
		"campaignId": 0,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, codeUnauthorized, rpcResp.Error.Code)

	resp, rpcResp = env.call(t, "wrong-token", "crowdfund_donate", map[string]interface{}{
		"caller":     env.donor.String(),
		"deposit":    "10",
		"campaignId": 0,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, codeUnauthorized, rpcResp.Error.Code)

	// Queries stay open.
	resp, rpcResp = env.call(t, "", "crowdfund_total", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)
}

func TestCreateDonateQueryFlow(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	id := env.createCampaign(t)

	resp, rpcResp := env.call(t, testToken, "crowdfund_donate", map[string]interface{}{
		"caller":     env.donor.String(),
		"deposit":    "240",
		"campaignId": id,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)

	_, rpcResp = env.call(t, "", "crowdfund_get", map[string]interface{}{"campaignId": id})
	require.Nil(t, rpcResp.Error)
	blob, _ := json.Marshal(rpcResp.Result)
	var campaign campaignJSON
	require.NoError(t, json.Unmarshal(blob, &campaign))
	require.Equal(t, "250", campaign.TotalDonated)
	require.Equal(t, uint64(2), campaign.DonorCount)
	require.Equal(t, env.managerA.String(), campaign.Manager)
	require.False(t, campaign.Ended)

	_, rpcResp = env.call(t, "", "crowdfund_total", nil)
	require.Nil(t, rpcResp.Error)
	blob, _ = json.Marshal(rpcResp.Result)
	var total totalResult
	require.NoError(t, json.Unmarshal(blob, &total))
	require.Equal(t, uint64(1), total.Total)

	_, rpcResp = env.call(t, "", "crowdfund_status", map[string]interface{}{"campaignId": id})
	require.Nil(t, rpcResp.Error)
	blob, _ = json.Marshal(rpcResp.Result)
	var status statusJSON
	require.NoError(t, json.Unmarshal(blob, &status))
	require.True(t, status.IsActive)
	require.False(t, status.IsSuccessful)
	require.Equal(t, int64(1_000), status.RemainingTime)
	require.Equal(t, uint64(25), status.FundingProgressPercent)

	_, rpcResp = env.call(t, "", "crowdfund_getDonation", map[string]interface{}{
		"campaignId": id,
		"donor":      env.donor.String(),
	})
	require.Nil(t, rpcResp.Error)
	blob, _ = json.Marshal(rpcResp.Result)
	var donation donationResult
	require.NoError(t, json.Unmarshal(blob, &donation))
	require.Equal(t, "240", donation.Amount)

	_, rpcResp = env.call(t, "", "account_get", map[string]interface{}{
		"address": env.donor.String(),
	})
	require.Nil(t, rpcResp.Error)
	blob, _ = json.Marshal(rpcResp.Result)
	var account accountResult
	require.NoError(t, json.Unmarshal(blob, &account))
	require.Equal(t, "9760", account.Balance)

	_, rpcResp = env.call(t, "", "crowdfund_events", map[string]interface{}{"limit": 10})
	require.Nil(t, rpcResp.Error)
	blob, _ = json.Marshal(rpcResp.Result)
	var entries []events.Entry
	require.NoError(t, json.Unmarshal(blob, &entries))
	require.Len(t, entries, 3)
	require.Equal(t, crowdfund.EventTypeCampaignCreated, entries[0].Type)
	require.Equal(t, crowdfund.EventTypeDonationReceived, entries[1].Type)
	require.Equal(t, crowdfund.EventTypeDonationReceived, entries[2].Type)
}

func TestEngineErrorCodeMapping(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	id := env.createCampaign(t)

	// Unknown campaign.
	resp, rpcResp := env.call(t, testToken, "crowdfund_donate", map[string]interface{}{
		"caller":     env.donor.String(),
		"deposit":    "10",
		"campaignId": 99,
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, codeNotFound, rpcResp.Error.Code)

	// Withdrawal by someone other than the manager.
	resp, rpcResp = env.call(t, testToken, "crowdfund_withdraw", map[string]interface{}{
		"caller":     env.donor.String(),
		"campaignId": id,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, codeUnauthorizedCaller, rpcResp.Error.Code)

	// Withdrawal while the campaign is still active.
	resp, rpcResp = env.call(t, testToken, "crowdfund_withdraw", map[string]interface{}{
		"caller":     env.managerA.String(),
		"campaignId": id,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, codeInvalidState, rpcResp.Error.Code)

	// Fee above the ceiling.
	resp, rpcResp = env.call(t, testToken, "crowdfund_setFee", map[string]interface{}{
		"caller": env.owner.String(),
		"feeBps": 1_001,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, codeInvalidArgument, rpcResp.Error.Code)

	// Donation below the campaign minimum.
	resp, rpcResp = env.call(t, testToken, "crowdfund_donate", map[string]interface{}{
		"caller":     env.donor.String(),
		"deposit":    "1",
		"campaignId": id,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, codeInsufficientAmount, rpcResp.Error.Code)
}

func TestMethodNotFound(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	resp, rpcResp := env.call(t, "", "crowdfund_unknown", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, codeMethodNotFound, rpcResp.Error.Code)
}

func TestInvalidParams(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	// Missing campaignId.
	resp, rpcResp := env.call(t, testToken, "crowdfund_donate", map[string]interface{}{
		"caller":  env.donor.String(),
		"deposit": "10",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, codeInvalidParams, rpcResp.Error.Code)

	// Malformed address.
	resp, rpcResp = env.call(t, testToken, "crowdfund_donate", map[string]interface{}{
		"caller":     "nonsense",
		"deposit":    "10",
		"campaignId": 0,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, codeInvalidParams, rpcResp.Error.Code)
}

func TestRateLimitAppliesToMutations(t *testing.T) {
	env := newTestEnv(t, ServerConfig{RateLimitPerMin: 60, RateLimitBurst: 1})

	params := map[string]interface{}{
		"caller":     env.donor.String(),
		"deposit":    "10",
		"campaignId": 99,
	}
	resp, _ := env.call(t, testToken, "crowdfund_donate", params)
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "first call passes the limiter")

	resp, rpcResp := env.call(t, testToken, "crowdfund_donate", params)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, codeRateLimited, rpcResp.Error.Code)

	// Queries are never limited.
	for i := 0; i < 5; i++ {
		resp, _ = env.call(t, "", "crowdfund_total", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestFullSettlementOverRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	id := env.createCampaign(t)

	resp, rpcResp := env.call(t, testToken, "crowdfund_donate", map[string]interface{}{
		"caller":     env.donor.String(),
		"deposit":    "990",
		"campaignId": id,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)

	resp, rpcResp = env.call(t, testToken, "crowdfund_withdraw", map[string]interface{}{
		"caller":     env.managerA.String(),
		"campaignId": id,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)

	_, rpcResp = env.call(t, "", "account_get", map[string]interface{}{"address": env.managerA.String()})
	require.Nil(t, rpcResp.Error)
	blob, _ := json.Marshal(rpcResp.Result)
	var account accountResult
	require.NoError(t, json.Unmarshal(blob, &account))
	require.Equal(t, "975", account.Balance, "manager share at 250 bps")

	_, rpcResp = env.call(t, "", "account_get", map[string]interface{}{"address": env.owner.String()})
	require.Nil(t, rpcResp.Error)
	blob, _ = json.Marshal(rpcResp.Result)
	require.NoError(t, json.Unmarshal(blob, &account))
	require.Equal(t, "25", account.Balance, "owner fee at 250 bps")

	resp, rpcResp = env.call(t, testToken, "crowdfund_withdraw", map[string]interface{}{
		"caller":     env.managerA.String(),
		"campaignId": id,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, codeInvalidState, rpcResp.Error.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	resp, err := env.server.Client().Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointExposed(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	// Generate at least one observation first.
	env.call(t, "", "crowdfund_total", nil)

	resp, err := env.server.Client().Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnsupportedJSONRPCVersion(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	body := []byte(`{"jsonrpc":"1.0","id":1,"method":"crowdfund_total"}`)
	resp, err := env.server.Client().Post(env.server.URL+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
