package ton

import (
	"context"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/liteclient"
	tonapi "github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/config"
)

const (
	mainnetConfigURL = "https://ton.org/global.config.json"
	testnetConfigURL = "https://ton.org/testnet-global.config.json"
)

// Network ids as used by TON Connect.
const (
	NetworkMainnet = "-239"
	NetworkTestnet = "-3"
)

// NetworkID maps the configured network name to the TON Connect chain id.
func NetworkID(network string) string {
	if strings.EqualFold(network, "mainnet") {
		return NetworkMainnet
	}
	return NetworkTestnet
}

// Connect opens a lite client pool. A single configured lite server takes
// precedence over the public global config.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (tonapi.APIClientWrapped, error) {
	pool := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := pool.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := testnetConfigURL
		if strings.EqualFold(cfg.TONNetwork, "mainnet") {
			configURL = mainnetConfigURL
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.TONNetwork))
		if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	policy := tonapi.ProofCheckPolicyFast
	if strings.EqualFold(cfg.TONNetwork, "mainnet") {
		policy = tonapi.ProofCheckPolicySecure
	}

	return tonapi.NewAPIClient(pool, policy).WithRetry(), nil
}
