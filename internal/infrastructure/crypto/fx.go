package crypto

import (
	"go.uber.org/fx"

	"github.com/Hwoarang91/afrodita-sub000/config"
)

// Module provides the session blob cipher for fx DI
var Module = fx.Module("crypto",
	fx.Provide(NewBlobCipherFx),
)

// NewBlobCipherFx builds the cipher from the configured secret. Key problems
// fail app startup.
func NewBlobCipherFx(cfg *config.SessionConfig) (*BlobCipher, error) {
	key, err := ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return NewBlobCipher(key)
}
