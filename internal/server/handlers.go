package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	agenterr "github.com/gustavo/defi-agent/internal/errors"
	"github.com/gustavo/defi-agent/internal/model"
	"github.com/gustavo/defi-agent/internal/store"
)

var aaveActions = map[model.ActionName]bool{
	model.ActionSupply:   true,
	model.ActionBorrow:   true,
	model.ActionRepay:    true,
	model.ActionWithdraw: true,
}

// handleAave runs one of the four pool operations.
// POST {"action": "supply|borrow|repay|withdraw", "amount": "100"}
func (s *Server) handleAave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		Action model.ActionName `json:"action"`
		Amount string           `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !aaveActions[req.Action] {
		writeError(w, http.StatusBadRequest, "action must be one of supply, borrow, repay, withdraw")
		return
	}
	outcome := s.actions.Dispatch(r.Context(), model.ActionRequest{Action: req.Action, Amount: req.Amount})
	writeOutcomeEnvelope(w, outcome)
}

// handlePools lists the quoted pools. A total quoting failure is a 500 with
// an empty pools array so clients always see the same shape.
func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	pools, err := s.pools.ListPools(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("pool listing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"pools": []model.LendingPool{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

// handleLend deposits into a quoted pool.
// POST {"asset": "ETH", "tokenAmount": "1.5", "poolAddress": "0x..."}
func (s *Server) handleLend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		Asset       string `json:"asset"`
		TokenAmount string `json:"tokenAmount"`
		PoolAddress string `json:"poolAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome := s.lender.SubmitLend(r.Context(), req.Asset, req.TokenAmount, req.PoolAddress)
	writeJSON(w, outcomeStatus(outcome), outcome)
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": s.cfg.Address})
}

// handleBalance reads one asset balance. GET /api/balance?asset=usdc
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	assetID := r.URL.Query().Get("asset")
	if assetID == "" {
		assetID = "eth"
	}
	report, err := s.actions.Balance(r.Context(), assetID)
	if err != nil {
		writeJSON(w, kindStatus(agenterr.KindOf(err)), map[string]string{
			"error":      err.Error(),
			"error_kind": string(agenterr.KindOf(err)),
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleTransfer sends an asset to a destination.
// POST {"amount": "1", "asset": "eth", "destination": "0x..."}
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		Amount      string `json:"amount"`
		Asset       string `json:"asset"`
		Destination string `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome := s.actions.Dispatch(r.Context(), model.ActionRequest{
		Action:       model.ActionTransfer,
		Amount:       req.Amount,
		Asset:        req.Asset,
		Counterparty: req.Destination,
	})
	writeJSON(w, outcomeStatus(outcome), outcome)
}

// handleFaucet is rate limited; test funds are a shared resource.
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if !s.faucet.Allow() {
		writeError(w, http.StatusTooManyRequests, "faucet rate limit exceeded, try again later")
		return
	}
	outcome := s.actions.Dispatch(r.Context(), model.ActionRequest{Action: model.ActionFaucet})
	writeJSON(w, outcomeStatus(outcome), outcome)
}

// handleActions returns the journaled history. GET /api/actions?limit=20
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]store.Entry{"actions": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeOutcomeEnvelope is the legacy aave envelope: {success, response|error}.
func writeOutcomeEnvelope(w http.ResponseWriter, outcome model.TransactionOutcome) {
	if outcome.Success {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"response": outcome.Message,
			"tx_hash":  outcome.TxHash,
		})
		return
	}
	writeJSON(w, outcomeStatus(outcome), map[string]any{
		"success":    false,
		"error":      outcome.Message,
		"error_kind": outcome.ErrorKind,
	})
}

func outcomeStatus(outcome model.TransactionOutcome) int {
	if outcome.Success {
		return http.StatusOK
	}
	return kindStatus(outcome.ErrorKind)
}

func kindStatus(kind agenterr.Kind) int {
	switch kind {
	case agenterr.KindInvalidRequest, agenterr.KindInvalidAmount:
		return http.StatusBadRequest
	case agenterr.KindInsufficientBalance, agenterr.KindUnsupportedAsset, agenterr.KindNetworkNotSupported:
		return http.StatusUnprocessableEntity
	case agenterr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
