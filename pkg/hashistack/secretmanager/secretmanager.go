// Package secretmanager provides the optional Vault client the config layer
// reads secrets through.
package secretmanager

import (
	"os"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

const requestTimeout = 10 * time.Second

// ProvideVault returns a client configured from VAULT_ADDR and VAULT_TOKEN.
// The result is nil when VAULT_ADDR is unset, in which case secrets come from
// config.yaml and the environment only.
func ProvideVault() (*vault.Client, error) {
	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return nil, nil
	}

	client, err := vault.New(
		vault.WithEnvironment(),
		vault.WithRequestTimeout(requestTimeout),
	)
	if err != nil {
		return nil, err
	}

	zap.L().Info("[Vault] reading secrets from vault", zap.String("addr", addr))
	return client, nil
}
