package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/gustavo/defi-agent/internal/model"
	"github.com/gustavo/defi-agent/internal/registry"
)

const testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

func newRPCServer(t *testing.T, handler func(req rpcRequest) (any, *string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := "1"
		if len(req.ID) > 0 {
			id = string(req.ID)
		}
		w.Header().Set("Content-Type", "application/json")
		result, rpcErr := handler(req)
		if rpcErr != nil {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":%q}}`, id, *rpcErr)
			return
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			t.Fatalf("encode rpc result: %v", err)
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, id, encoded)
	}))
}

func chainIDOnly(t *testing.T, extra func(req rpcRequest) (any, *string)) func(req rpcRequest) (any, *string) {
	return func(req rpcRequest) (any, *string) {
		if req.Method == "eth_chainId" {
			return "0x14a34", nil // 84532, base-sepolia
		}
		if extra != nil {
			return extra(req)
		}
		msg := "method not supported in test: " + req.Method
		return nil, &msg
	}
}

func newTestNode(t *testing.T, handler func(req rpcRequest) (any, *string)) (*Node, *httptest.Server) {
	t.Helper()
	rpc := newRPCServer(t, chainIDOnly(t, handler))
	t.Cleanup(rpc.Close)
	node, err := NewNode(context.Background(), Config{
		RPCURL:        rpc.URL,
		Network:       registry.BaseSepolia,
		PrivateKeyHex: testKeyHex,
	}, logrus.New())
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	t.Cleanup(node.Close)
	return node, rpc
}

func TestNewNodeImportsSeedFromWalletData(t *testing.T) {
	rpc := newRPCServer(t, chainIDOnly(t, nil))
	defer rpc.Close()

	data := fmt.Sprintf(`{"wallet-1":{"seed":"%s"}}`, testKeyHex)
	node, err := NewNode(context.Background(), Config{
		RPCURL:     rpc.URL,
		Network:    registry.BaseSepolia,
		WalletID:   "wallet-1",
		WalletData: data,
	}, logrus.New())
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	defer node.Close()

	direct, err := NewNode(context.Background(), Config{
		RPCURL:        rpc.URL,
		Network:       registry.BaseSepolia,
		PrivateKeyHex: testKeyHex,
	}, logrus.New())
	if err != nil {
		t.Fatalf("NewNode direct: %v", err)
	}
	defer direct.Close()

	if node.Address() != direct.Address() {
		t.Fatalf("seed import derived %s, want %s", node.Address(), direct.Address())
	}
}

func TestNewNodeRejectsChainMismatch(t *testing.T) {
	rpc := newRPCServer(t, func(req rpcRequest) (any, *string) {
		return "0x1", nil // ethereum mainnet, not base-sepolia
	})
	defer rpc.Close()

	_, err := NewNode(context.Background(), Config{
		RPCURL:        rpc.URL,
		Network:       registry.BaseSepolia,
		PrivateKeyHex: testKeyHex,
	}, logrus.New())
	if err == nil {
		t.Fatal("expected chain id mismatch error")
	}
}

func TestNewNodeRequiresKeyMaterial(t *testing.T) {
	if _, err := loadPrivateKey(Config{}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := loadPrivateKey(Config{WalletData: `{"w":{"seed":"ab"}}`}); err == nil {
		t.Fatal("expected missing wallet id error")
	}
	if _, err := loadPrivateKey(Config{WalletID: "other", WalletData: `{"w":{"seed":"ab"}}`}); err == nil {
		t.Fatal("expected missing entry error")
	}
}

func TestBalanceNative(t *testing.T) {
	node, _ := newTestNode(t, func(req rpcRequest) (any, *string) {
		if req.Method == "eth_getBalance" {
			return "0xde0b6b3a7640000", nil // 1 eth
		}
		msg := "unexpected method: " + req.Method
		return nil, &msg
	})

	balance, err := node.Balance(context.Background(), model.Asset{Symbol: "eth", Decimals: 18})
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1_000_000_000_000_000_000)) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}
}

func TestBalanceERC20(t *testing.T) {
	node, _ := newTestNode(t, func(req rpcRequest) (any, *string) {
		if req.Method == "eth_call" {
			out, err := erc20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(2_500_000))
			if err != nil {
				t.Fatalf("pack balance: %v", err)
			}
			return "0x" + hex.EncodeToString(out), nil
		}
		msg := "unexpected method: " + req.Method
		return nil, &msg
	})

	asset := model.Asset{Symbol: "usdc", ContractAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6}
	balance, err := node.Balance(context.Background(), asset)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.Cmp(big.NewInt(2_500_000)) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}
}

func TestBalanceUnsupportedAsset(t *testing.T) {
	node, _ := newTestNode(t, func(req rpcRequest) (any, *string) {
		if req.Method == "eth_call" {
			return "0x", nil // no contract at that address
		}
		msg := "unexpected method: " + req.Method
		return nil, &msg
	})

	asset := model.Asset{Symbol: "0x00000000000000000000000000000000000000ff", ContractAddress: "0x00000000000000000000000000000000000000fF", Decimals: 18}
	_, err := node.Balance(context.Background(), asset)
	if !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
}

func TestFaucetRequest(t *testing.T) {
	var gotAddress string
	faucet := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Address string `json:"address"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotAddress = body.Address
		_ = json.NewEncoder(w).Encode(map[string]string{"tx_hash": "0xfaucet"})
	}))
	defer faucet.Close()

	rpc := newRPCServer(t, chainIDOnly(t, nil))
	defer rpc.Close()
	node, err := NewNode(context.Background(), Config{
		RPCURL:        rpc.URL,
		Network:       registry.BaseSepolia,
		PrivateKeyHex: testKeyHex,
		FaucetURL:     faucet.URL,
	}, logrus.New())
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	defer node.Close()

	hash, err := node.Faucet(context.Background())
	if err != nil {
		t.Fatalf("Faucet: %v", err)
	}
	if hash != "0xfaucet" {
		t.Fatalf("unexpected faucet hash: %s", hash)
	}
	if gotAddress != node.Address().Hex() {
		t.Fatalf("faucet called with %s, want %s", gotAddress, node.Address().Hex())
	}
}

func TestFaucetRequiresURL(t *testing.T) {
	node, _ := newTestNode(t, nil)
	if _, err := node.Faucet(context.Background()); err == nil {
		t.Fatal("expected error when faucet url is not configured")
	}
}
