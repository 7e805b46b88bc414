package tendermint

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
)

// DefaultProxyApp is the socket notaryd serves the ABCI application on when
// none is configured.
const DefaultProxyApp = "unix://notary.sock"

// DefaultHome returns the home directory of the Tendermint node that runs
// the notary ledger: $TMHOME, or ~/.notary/tendermint.
func DefaultHome() string {
	if home := os.Getenv("TMHOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".notary", "tendermint")
}

// InitHome runs `tendermint init` in home unless it already holds a
// config.toml. Genesis and validator keys are left to Tendermint.
func InitHome(home string) error {
	if home == "" {
		home = DefaultHome()
	}
	if _, err := os.Stat(filepath.Join(home, "config", "config.toml")); err == nil {
		return nil
	}

	cmd := exec.Command("tendermint", "init", "--home", home)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to initialize Tendermint home %s: %w", home, err)
	}
	return nil
}

// NodeCommand returns the command that starts a Tendermint node with
// notaryd at proxyApp as its application. rpcAddr is the client-facing
// RPC URL (as used by the notary CLI); when set, the node listens on its
// host and port.
func NodeCommand(home, proxyApp, rpcAddr string) (*exec.Cmd, error) {
	if home == "" {
		home = DefaultHome()
	}
	if proxyApp == "" {
		proxyApp = DefaultProxyApp
	}
	args := []string{"node", "--home", home, "--proxy_app", proxyApp}
	if rpcAddr != "" {
		u, err := url.Parse(rpcAddr)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid tendermint RPC address %q", rpcAddr)
		}
		args = append(args, "--rpc.laddr", "tcp://"+u.Host)
	}

	cmd := exec.Command("tendermint", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd, nil
}
