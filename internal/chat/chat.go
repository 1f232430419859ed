// Package chat exposes the tool-call socket. The language model stays on the
// client side of this socket: frames carry either free text or structured
// tool calls, and every tool resolves to one orchestrator or quote-service
// operation. In-flight work is canceled when the client disconnects.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gustavo/defi-agent/internal/model"
)

// Frame is one message in either direction.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	frameMessage  = "message"
	frameToolCall = "tool_call"
	frameContent  = "content"
)

// ToolCall is the payload of an inbound tool_call frame.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ActionRunner mirrors the orchestrator surface the tools need.
type ActionRunner interface {
	Dispatch(ctx context.Context, req model.ActionRequest) model.TransactionOutcome
	Balance(ctx context.Context, assetID string) (model.BalanceReport, error)
}

type PoolLister interface {
	ListPools(ctx context.Context) ([]model.LendingPool, error)
}

type LendSubmitter interface {
	SubmitLend(ctx context.Context, asset, tokenAmount, poolAddress string) model.TransactionOutcome
}

type Handler struct {
	actions  ActionRunner
	pools    PoolLister
	lender   LendSubmitter
	address  string
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewHandler(actions ActionRunner, pools PoolLister, lender LendSubmitter, address string, log logrus.FieldLogger) *Handler {
	return &Handler{
		actions: actions,
		pools:   pools,
		lender:  lender,
		address: address,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Canceling this context aborts in-flight tool work once the read loop
	// observes the disconnect.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &session{conn: conn}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			session.writeContent("malformed frame: " + err.Error())
			continue
		}
		go h.handleFrame(ctx, session, frame)
	}
}

// session serializes writes; tool handlers run concurrently per frame.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) write(frameType string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteJSON(map[string]any{"type": frameType, "data": data})
}

func (s *session) writeContent(text string) { s.write(frameContent, text) }

func (h *Handler) handleFrame(ctx context.Context, session *session, frame Frame) {
	switch frame.Type {
	case frameMessage:
		var text string
		_ = json.Unmarshal(frame.Data, &text)
		session.writeContent(h.messageReply(text))
	case frameToolCall:
		var call ToolCall
		if err := json.Unmarshal(frame.Data, &call); err != nil {
			session.writeContent("malformed tool call: " + err.Error())
			return
		}
		result, err := h.runTool(ctx, call)
		if err != nil {
			session.writeContent(err.Error())
			return
		}
		session.write(frameToolCall, result)
	default:
		session.writeContent(fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

// messageReply answers free text. The model lives client-side, so the server
// only describes its tool surface.
func (h *Handler) messageReply(string) string {
	return "send a tool_call frame; available tools: supply, borrow, repay, withdraw, " +
		"transfer, get_balance, get_address, request_faucet, list_pools, lend"
}

type transferArgs struct {
	Amount      string `json:"amount"`
	Asset       string `json:"asset"`
	Destination string `json:"destination"`
}

type amountArgs struct {
	Amount string `json:"amount"`
}

type balanceArgs struct {
	Asset string `json:"asset"`
}

type lendArgs struct {
	Asset       string `json:"asset"`
	TokenAmount string `json:"tokenAmount"`
	PoolAddress string `json:"poolAddress"`
}

func (h *Handler) runTool(ctx context.Context, call ToolCall) (any, error) {
	switch call.Name {
	case "supply", "borrow", "repay", "withdraw":
		var args amountArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", call.Name, err)
		}
		return h.actions.Dispatch(ctx, model.ActionRequest{
			Action: model.ActionName(call.Name),
			Amount: args.Amount,
		}), nil
	case "transfer":
		var args transferArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid transfer arguments: %w", err)
		}
		return h.actions.Dispatch(ctx, model.ActionRequest{
			Action:       model.ActionTransfer,
			Amount:       args.Amount,
			Asset:        args.Asset,
			Counterparty: args.Destination,
		}), nil
	case "get_balance":
		var args balanceArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid get_balance arguments: %w", err)
		}
		if args.Asset == "" {
			args.Asset = "eth"
		}
		report, err := h.actions.Balance(ctx, args.Asset)
		if err != nil {
			return nil, err
		}
		return report, nil
	case "get_address":
		return map[string]string{"address": h.address}, nil
	case "request_faucet":
		return h.actions.Dispatch(ctx, model.ActionRequest{Action: model.ActionFaucet}), nil
	case "list_pools":
		pools, err := h.pools.ListPools(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"pools": pools}, nil
	case "lend":
		var args lendArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid lend arguments: %w", err)
		}
		return h.lender.SubmitLend(ctx, args.Asset, args.TokenAmount, args.PoolAddress), nil
	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}
