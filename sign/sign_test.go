package sign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/wavedag/types"
)

func TestEd25519SignVerify(t *testing.T) {
	priv, pub := GenED25519Keys()
	msg := []byte("order the blocks")

	sig := SignEd25519(priv, msg)
	ok, err := VerifySignEd25519(pub, msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySignEd25519(pub, []byte("another message"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, otherPub := GenED25519Keys()
	ok, err = VerifySignEd25519(otherPub, msg, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestThresholdSignature(t *testing.T) {
	const (
		n         = 4
		threshold = 3
	)
	shares, pub := GenTSKeys(threshold, n)
	require.Len(t, shares, n)
	msg := []byte("coin for round 9")

	partials := make([][]byte, 0, threshold)
	for i := 0; i < threshold; i++ {
		p := SignTSPartial(shares[i], msg)
		require.NoError(t, VerifyTSPartial(pub, msg, p))
		partials = append(partials, p)
	}

	full, err := AssembleIntactTSPartial(partials, pub, msg, threshold, n)
	require.NoError(t, err)
	assert.NotEmpty(t, full)

	// Any subset of size threshold recovers the same signature.
	others := [][]byte{
		SignTSPartial(shares[1], msg),
		SignTSPartial(shares[2], msg),
		SignTSPartial(shares[3], msg),
	}
	full2, err := AssembleIntactTSPartial(others, pub, msg, threshold, n)
	require.NoError(t, err)
	assert.Equal(t, full, full2)

	_, err = AssembleIntactTSPartial(partials[:threshold-1], pub, msg, threshold, n)
	assert.Error(t, err, "below threshold")
}

func TestTSKeyEncoding(t *testing.T) {
	shares, pub := GenTSKeys(3, 4)

	rawPub, err := EncodeTSPublicKey(pub)
	require.NoError(t, err)
	gotPub, err := DecodeTSPublicKey(rawPub)
	require.NoError(t, err)

	rawShare, err := EncodeTSPartialKey(shares[2])
	require.NoError(t, err)
	gotShare, err := DecodeTSPartialKey(rawShare)
	require.NoError(t, err)
	assert.Equal(t, shares[2].I, gotShare.I)

	// The decoded pair must still produce verifiable partials.
	msg := []byte("round trip")
	p := SignTSPartial(gotShare, msg)
	require.NoError(t, VerifyTSPartial(gotPub, msg, p))
}

func TestBlockSignature(t *testing.T) {
	priv, pub := GenED25519Keys()
	b := types.NewBlock(1, 0, 0, types.GenesisRefs(4), [][]byte{[]byte("tx")})

	require.NoError(t, SignBlock(priv, b))
	require.NotEmpty(t, b.Signature)

	ok, err := VerifyBlock(pub, b)
	require.NoError(t, err)
	assert.True(t, ok)

	// A signature for one block must not verify for another.
	other := types.NewBlock(2, 0, 0, types.GenesisRefs(4), nil)
	other.Signature = b.Signature
	ok, err = VerifyBlock(pub, other)
	require.NoError(t, err)
	assert.False(t, ok)
}
