package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileThenEnvThenFlags(t *testing.T) {
	path := writeConfig(t, `
network: base-sepolia
rpc_url: https://file.example/rpc
listen: ":9000"
confirm:
  timeout: 90s
  poll_interval: 500ms
`)
	t.Setenv("AGENT_LISTEN", ":9100")
	t.Setenv(EnvRPCURL, "")

	settings, err := Load(GlobalFlags{ConfigPath: path, LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.RPCURL != "https://file.example/rpc" {
		t.Fatalf("rpc url from file lost: %s", settings.RPCURL)
	}
	if settings.Listen != ":9100" {
		t.Fatalf("env must override file: %s", settings.Listen)
	}
	if settings.LogLevel != "debug" {
		t.Fatalf("flag must override default: %s", settings.LogLevel)
	}
	if settings.ConfirmTimeout != 90*time.Second {
		t.Fatalf("confirm timeout: %v", settings.ConfirmTimeout)
	}
	if settings.PollInterval != 500*time.Millisecond {
		t.Fatalf("poll interval: %v", settings.PollInterval)
	}
}

func TestLoadSecretsFromEnvOnly(t *testing.T) {
	path := writeConfig(t, `
rpc_url: https://file.example/rpc
wallet:
  private_key_env: TEST_WALLET_KEY
`)
	t.Setenv("TEST_WALLET_KEY", "0xabc123")
	t.Setenv(EnvLLMAPIKey, "sk-test")

	settings, err := Load(GlobalFlags{ConfigPath: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.WalletPrivateKey != "0xabc123" {
		t.Fatalf("wallet key not resolved from pointed env var")
	}
	if settings.LLMAPIKey != "sk-test" {
		t.Fatalf("llm key not resolved from env")
	}
}

func TestLoadRequiresRPCURL(t *testing.T) {
	path := writeConfig(t, "network: base-sepolia\n")
	t.Setenv(EnvRPCURL, "")
	if _, err := Load(GlobalFlags{ConfigPath: path}); err == nil {
		t.Fatal("expected error when rpc url is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "rpc_url: https://file.example/rpc\n")
	settings, err := Load(GlobalFlags{ConfigPath: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.Network != "base-sepolia" {
		t.Fatalf("default network: %s", settings.Network)
	}
	if settings.ConfirmTimeout != 2*time.Minute {
		t.Fatalf("default confirm timeout: %v", settings.ConfirmTimeout)
	}
	if settings.FaucetPerMinute != 1 {
		t.Fatalf("default faucet rate: %d", settings.FaucetPerMinute)
	}
}
