package types

// IntentScope separates signing domains so a signature over one message kind
// can never be replayed as another.
type IntentScope uint8

const (
	// IntentConsensusBlock covers block header digests.
	IntentConsensusBlock IntentScope = iota
	// IntentLeaderCoin covers the per-round threshold coin input.
	IntentLeaderCoin
)

// IntentAppConsensus tags all messages signed by this protocol.
const IntentAppConsensus uint8 = 1

// IntentVersion bumps when the signing format changes.
const IntentVersion uint8 = 0

// intentMessage is the wrapper actually fed to the signature scheme:
// a three-byte domain tag followed by the payload digest.
type intentMessage struct {
	Scope   IntentScope
	App     uint8
	Version uint8
	Digest  []byte
}

// IntentBytes returns the canonical bytes to sign for a payload digest under
// the given scope.
func IntentBytes(scope IntentScope, digest []byte) ([]byte, error) {
	return Encode(intentMessage{
		Scope:   scope,
		App:     IntentAppConsensus,
		Version: IntentVersion,
		Digest:  digest,
	})
}

// BlockIntentBytes returns the bytes an authority signs for a block.
// The signature covers the intent-wrapped digest, not the raw header.
func BlockIntentBytes(digest BlockDigest) ([]byte, error) {
	return IntentBytes(IntentConsensusBlock, digest[:])
}

// CoinIntentBytes returns the bytes threshold-signed to derive the leader
// coin of a round.
func CoinIntentBytes(round Round) ([]byte, error) {
	raw, err := Encode(round)
	if err != nil {
		return nil, err
	}
	return IntentBytes(IntentLeaderCoin, raw)
}
