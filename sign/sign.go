/*
Package sign wraps the two signature schemes used by the consensus core:
Ed25519 for block signatures and a BLS threshold scheme (tbls over bn256)
for the shared leader coin.
*/
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
)

var suite = bn256.NewSuite()

// GenED25519Keys creates a fresh Ed25519 key pair.
func GenED25519Keys() (ed25519.PrivateKey, ed25519.PublicKey) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return priv, pub
}

// SignEd25519 signs data with the private key.
func SignEd25519(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// VerifySignEd25519 checks sig over data against the public key.
func VerifySignEd25519(pub ed25519.PublicKey, data []byte, sig []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("bad ed25519 public key size: %d", len(pub))
	}
	return ed25519.Verify(pub, data, sig), nil
}

// GenTSKeys creates n threshold-signature key shares with threshold t, along
// with the public polynomial used to verify partials and assembled
// signatures.
func GenTSKeys(t, n int) ([]*share.PriShare, *share.PubPoly) {
	secret := suite.G1().Scalar().Pick(suite.RandomStream())
	priPoly := share.NewPriPoly(suite.G2(), t, secret, suite.RandomStream())
	pubPoly := priPoly.Commit(suite.G2().Point().Base())
	return priPoly.Shares(n), pubPoly
}

// SignTSPartial produces one authority's partial signature over data.
func SignTSPartial(priv *share.PriShare, data []byte) []byte {
	sig, err := tbls.Sign(suite, priv, data)
	if err != nil {
		panic(err)
	}
	return sig
}

// VerifyTSPartial checks a single partial signature.
func VerifyTSPartial(pub *share.PubPoly, data, partial []byte) error {
	return tbls.Verify(suite, pub, data, partial)
}

// AssembleIntactTSPartial recovers the full threshold signature from at
// least t partials and verifies it before returning.
func AssembleIntactTSPartial(partials [][]byte, pub *share.PubPoly, data []byte, t, n int) ([]byte, error) {
	if len(partials) < t {
		return nil, fmt.Errorf("need %d partial signatures, have %d", t, len(partials))
	}
	sig, err := tbls.Recover(suite, pub, data, partials, t, n)
	if err != nil {
		return nil, fmt.Errorf("recover threshold signature: %w", err)
	}
	if err := bls.Verify(suite, pub.Commit(), data, sig); err != nil {
		return nil, fmt.Errorf("verify threshold signature: %w", err)
	}
	return sig, nil
}

// EncodeTSPublicKey serializes the public polynomial for config files.
func EncodeTSPublicKey(pub *share.PubPoly) ([]byte, error) {
	base, commits := pub.Info()
	if base != nil && !base.Equal(suite.G2().Point().Base()) {
		return nil, errors.New("only the standard base point is supported")
	}
	var out []byte
	for _, p := range commits {
		raw, err := p.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	return out, nil
}

// DecodeTSPublicKey is the inverse of EncodeTSPublicKey.
func DecodeTSPublicKey(raw []byte) (*share.PubPoly, error) {
	pointLen := suite.G2().Point().MarshalSize()
	if len(raw) == 0 || len(raw)%pointLen != 0 {
		return nil, fmt.Errorf("bad public polynomial length: %d", len(raw))
	}
	var commits []kyber.Point
	for off := 0; off < len(raw); off += pointLen {
		p := suite.G2().Point()
		if err := p.UnmarshalBinary(raw[off : off+pointLen]); err != nil {
			return nil, err
		}
		commits = append(commits, p)
	}
	return share.NewPubPoly(suite.G2(), suite.G2().Point().Base(), commits), nil
}

// EncodeTSPartialKey serializes a private key share for config files.
// Layout: one byte share index, then the scalar.
func EncodeTSPartialKey(priv *share.PriShare) ([]byte, error) {
	if priv.I < 0 || priv.I > 255 {
		return nil, fmt.Errorf("share index %d out of range", priv.I)
	}
	raw, err := priv.V.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(priv.I)}, raw...), nil
}

// DecodeTSPartialKey is the inverse of EncodeTSPartialKey.
func DecodeTSPartialKey(raw []byte) (*share.PriShare, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("bad private share length: %d", len(raw))
	}
	v := suite.G2().Scalar()
	if err := v.UnmarshalBinary(raw[1:]); err != nil {
		return nil, err
	}
	return &share.PriShare{I: int(raw[0]), V: v}, nil
}
