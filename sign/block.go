package sign

import (
	"crypto/ed25519"

	"github.com/dagbft/wavedag/types"
)

// SignBlock fills in the block's signature. The signature covers the
// intent-wrapped digest so it cannot be replayed for another message kind.
func SignBlock(priv ed25519.PrivateKey, b *types.Block) error {
	msg, err := types.BlockIntentBytes(b.Digest())
	if err != nil {
		return err
	}
	b.Signature = SignEd25519(priv, msg)
	return nil
}

// VerifyBlock checks the block signature against the author's public key.
func VerifyBlock(pub ed25519.PublicKey, b *types.Block) (bool, error) {
	msg, err := types.BlockIntentBytes(b.Digest())
	if err != nil {
		return false, err
	}
	return VerifySignEd25519(pub, msg, b.Signature)
}
