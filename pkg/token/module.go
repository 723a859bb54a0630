package token

import (
	"errors"

	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/security"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("token",
	fx.Provide(ProvideCodec),
)

// ProvideCodec builds the process wide codec from TOKEN.SECRET. Outside
// production a missing secret is replaced by a random one, which
// invalidates outstanding links on every restart.
func ProvideCodec(cfg *config.Config) (*Codec, error) {
	secret := cfg.Token.Secret
	if secret == "" {
		if cfg.AppEnv == "production" {
			return nil, errors.New("token: TOKEN.SECRET is required in production")
		}
		generated, err := security.GenerateBase64Secret(32)
		if err != nil {
			return nil, err
		}
		zap.L().Warn("[Token] TOKEN.SECRET not set, using an ephemeral signing secret")
		secret = generated
	}
	return NewCodec([]byte(secret), WithTTL(cfg.Token.TTL))
}
