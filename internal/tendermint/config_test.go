package tendermint

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultHome(t *testing.T) {
	t.Setenv("TMHOME", "/srv/tm")
	if got := DefaultHome(); got != "/srv/tm" {
		t.Fatalf("DefaultHome() = %q", got)
	}
	t.Setenv("TMHOME", "")
	t.Setenv("HOME", "/home/notary")
	if got := DefaultHome(); got != filepath.Join("/home/notary", ".notary", "tendermint") {
		t.Fatalf("DefaultHome() = %q", got)
	}
}

func TestInitHomeKeepsExistingConfig(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "config", "config.toml"), []byte("# existing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// no tendermint binary is needed when the home is already initialized
	if err := InitHome(home); err != nil {
		t.Fatalf("InitHome: %v", err)
	}
}

func TestNodeCommand(t *testing.T) {
	cmd, err := NodeCommand("/srv/tm", "", "http://127.0.0.1:36657")
	if err != nil {
		t.Fatalf("NodeCommand: %v", err)
	}
	want := []string{"tendermint", "node", "--home", "/srv/tm", "--proxy_app", DefaultProxyApp, "--rpc.laddr", "tcp://127.0.0.1:36657"}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Fatalf("args = %v, want %v", cmd.Args, want)
	}

	cmd, err = NodeCommand("/srv/tm", "tcp://127.0.0.1:26658", "")
	if err != nil {
		t.Fatalf("NodeCommand: %v", err)
	}
	want = []string{"tendermint", "node", "--home", "/srv/tm", "--proxy_app", "tcp://127.0.0.1:26658"}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Fatalf("args = %v, want %v", cmd.Args, want)
	}

	if _, err := NodeCommand("/srv/tm", "", "localhost"); err == nil {
		t.Fatal("expected error for an RPC address without host")
	}
}
