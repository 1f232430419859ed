package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	agenterr "github.com/gustavo/defi-agent/internal/errors"
	"github.com/gustavo/defi-agent/internal/model"
	"github.com/gustavo/defi-agent/internal/store"
)

type fakeRunner struct {
	lastReq    model.ActionRequest
	outcome    model.TransactionOutcome
	report     model.BalanceReport
	balanceErr error
}

func (f *fakeRunner) Dispatch(ctx context.Context, req model.ActionRequest) model.TransactionOutcome {
	f.lastReq = req
	return f.outcome
}

func (f *fakeRunner) Balance(ctx context.Context, assetID string) (model.BalanceReport, error) {
	return f.report, f.balanceErr
}

type fakeLister struct {
	pools []model.LendingPool
	err   error
}

func (f *fakeLister) ListPools(ctx context.Context) ([]model.LendingPool, error) {
	return f.pools, f.err
}

type fakeLendSubmitter struct {
	outcome model.TransactionOutcome
}

func (f *fakeLendSubmitter) SubmitLend(ctx context.Context, asset, tokenAmount, poolAddress string) model.TransactionOutcome {
	return f.outcome
}

type fakeHistory struct {
	entries []store.Entry
}

func (f *fakeHistory) List(ctx context.Context, limit int) ([]store.Entry, error) {
	return f.entries, nil
}

type testEnv struct {
	runner  *fakeRunner
	lister  *fakeLister
	lender  *fakeLendSubmitter
	history *fakeHistory
	handler http.Handler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	env := &testEnv{
		runner:  &fakeRunner{},
		lister:  &fakeLister{},
		lender:  &fakeLendSubmitter{},
		history: &fakeHistory{},
	}
	if cfg.Listen == "" {
		cfg.Listen = ":0"
	}
	srv := New(cfg, env.runner, env.lister, env.lender, env.history, log)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAaveSupplySuccessEnvelope(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.runner.outcome = model.ConfirmedOutcome("0xabc", 7, "Supplied 100 usdc to Aave")

	rec := env.do(t, http.MethodPost, "/api/aave", `{"action":"supply","amount":"100"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["response"] != "Supplied 100 usdc to Aave" {
		t.Fatalf("unexpected envelope: %v", body)
	}
	if env.runner.lastReq.Action != model.ActionSupply || env.runner.lastReq.Amount != "100" {
		t.Fatalf("request not plumbed through: %+v", env.runner.lastReq)
	}
}

func TestAaveRejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodPost, "/api/aave", `{"action":"liquidate","amount":"1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestAaveFailureEnvelope(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.runner.outcome = model.OutcomeFromError(agenterr.New(agenterr.KindApprovalFailed, "approve allowance for pool"))

	rec := env.do(t, http.MethodPost, "/api/aave", `{"action":"repay","amount":"5"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["error_kind"] != "approval_failed" {
		t.Fatalf("unexpected envelope: %v", body)
	}
}

func TestPoolsListing(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.lister.pools = []model.LendingPool{{Asset: "ETH", Protocol: "Compound III", APY: 2.5}}

	rec := env.do(t, http.MethodGet, "/api/lending/pools", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	pools, ok := body["pools"].([]any)
	if !ok || len(pools) != 1 {
		t.Fatalf("unexpected pools payload: %v", body)
	}
}

func TestPoolsTotalFailureKeepsShape(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.lister.err = agenterr.New(agenterr.KindNoPoolsAvailable, "no lending pools could be quoted")

	rec := env.do(t, http.MethodGet, "/api/lending/pools", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] == "" {
		t.Fatal("error message must be present")
	}
	pools, ok := body["pools"].([]any)
	if !ok || len(pools) != 0 {
		t.Fatalf("pools must be an empty array on failure: %v", body)
	}
}

func TestLendPassesOutcomeThrough(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.lender.outcome = model.ConfirmedOutcome("0xlend", 42, "Lent 1.5 ETH to Compound III")

	rec := env.do(t, http.MethodPost, "/api/lending/lend", `{"asset":"ETH","tokenAmount":"1.5","poolAddress":"0x1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["block_number"] != float64(42) {
		t.Fatalf("block number missing: %v", body)
	}
}

func TestAddress(t *testing.T) {
	env := newTestEnv(t, Config{Address: "0x00000000000000000000000000000000000000AA"})
	rec := env.do(t, http.MethodGet, "/api/address", "")
	body := decodeBody(t, rec)
	if body["address"] != "0x00000000000000000000000000000000000000AA" {
		t.Fatalf("unexpected address: %v", body)
	}
}

func TestBalanceErrorKindMapsToStatus(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.runner.balanceErr = agenterr.New(agenterr.KindUnsupportedAsset, "asset not supported")

	rec := env.do(t, http.MethodGet, "/api/balance?asset=0x00000000000000000000000000000000000000ff", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error_kind"] != "unsupported_asset" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestTransferPlumbsFields(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.runner.outcome = model.ConfirmedOutcome("0xt", 1, "ok")

	rec := env.do(t, http.MethodPost, "/api/transfer", `{"amount":"2","asset":"usdc","destination":"0xBB"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	got := env.runner.lastReq
	if got.Action != model.ActionTransfer || got.Amount != "2" || got.Asset != "usdc" || got.Counterparty != "0xBB" {
		t.Fatalf("request not plumbed through: %+v", got)
	}
}

func TestFaucetRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{FaucetPerMinute: 1})
	env.runner.outcome = model.TransactionOutcome{Success: true, TxHash: "0xf", Message: "ok"}

	first := env.do(t, http.MethodPost, "/api/faucet", "{}")
	if first.Code != http.StatusOK {
		t.Fatalf("first request status: %d", first.Code)
	}
	second := env.do(t, http.MethodPost, "/api/faucet", "{}")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request must be limited, got %d", second.Code)
	}
}

func TestActionsHistory(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.history.entries = []store.Entry{
		{Seq: 2, Action: model.ActionTransfer, Outcome: model.ConfirmedOutcome("0xb", 2, "ok")},
		{Seq: 1, Action: model.ActionSupply, Outcome: model.ConfirmedOutcome("0xa", 1, "ok")},
	}

	rec := env.do(t, http.MethodGet, "/api/actions?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	actions, ok := body["actions"].([]any)
	if !ok || len(actions) != 2 {
		t.Fatalf("unexpected actions payload: %v", body)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.do(t, http.MethodGet, "/api/address", "")
	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "agent_http_requests_total") {
		t.Fatal("request counter must be exported")
	}
}
