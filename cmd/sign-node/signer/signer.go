package signer

import (
	"fmt"

	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/common/config"
	"github.com/lyzr/signer/common/keyring"
)

// New returns the signing backend selected by configuration
func New(cfg *config.Config, keys *keyring.KeyRing, log Logger) (pipeline.Signer, error) {
	switch cfg.Signer.Backend {
	case "gpg":
		return NewExecSigner(ExecOpts{
			GPGBinary:     cfg.Signer.GPGBinary,
			RPMSignBinary: cfg.Signer.RPMSignBinary,
			GPGHome:       cfg.Signer.GPGHome,
			Logger:        log,
		}), nil
	case "native":
		return NewNativeSigner(keys, log), nil
	default:
		return nil, fmt.Errorf("unknown signer backend: %s", cfg.Signer.Backend)
	}
}
