package sequence

import (
	"crypto/rand"
	"math/big"
	"strings"

	"ristosmart-license/pkg/config"

	"go.uber.org/fx"
)

// KeyAlphabet excludes I, O, 0 and 1.
const KeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	keyGroups    = 4
	keyGroupSize = 4
)

var Module = fx.Module("sequence",
	fx.Provide(func(cfg *config.Config) KeyGenerator {
		return NewKeyGenerator(cfg.License.KeyPrefix)
	}),
)

type KeyGenerator interface {
	NextLicenseKey() (string, error)
}

type randomKeyGenerator struct {
	prefix string
}

func NewKeyGenerator(prefix string) KeyGenerator {
	if prefix == "" {
		prefix = "RSFM"
	}
	return &randomKeyGenerator{prefix: prefix}
}

// NextLicenseKey returns PREFIX-XXXX-XXXX-XXXX-XXXX.
func (g *randomKeyGenerator) NextLicenseKey() (string, error) {
	parts := make([]string, 0, keyGroups+1)
	parts = append(parts, g.prefix)
	for i := 0; i < keyGroups; i++ {
		group, err := randomAlphaNumeric(keyGroupSize)
		if err != nil {
			return "", err
		}
		parts = append(parts, group)
	}
	return strings.Join(parts, "-"), nil
}

func randomAlphaNumeric(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(KeyAlphabet)))
	for i := range b {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = KeyAlphabet[num.Int64()]
	}
	return string(b), nil
}
