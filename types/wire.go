package types

// wireBlock is the self-describing record exchanged with the network and
// persisted by the store: the signed header fields plus the signature.
type wireBlock struct {
	Round     Round
	Author    AuthorityIndex
	Timestamp int64
	Ancestors []wireRef
	Payloads  [][]byte
	Signature []byte
}

// MarshalBlock encodes a block, signature included, into its canonical wire
// form.
func MarshalBlock(b *Block) ([]byte, error) {
	return Encode(wireBlock{
		Round:     b.Round,
		Author:    b.Author,
		Timestamp: b.Timestamp,
		Ancestors: wireRefs(b.Ancestors),
		Payloads:  b.Payloads,
		Signature: b.Signature,
	})
}

// UnmarshalBlock decodes a block from its wire form. The digest is not
// trusted from the wire; it is recomputed from the decoded header.
func UnmarshalBlock(raw []byte) (*Block, error) {
	var w wireBlock
	if err := Decode(raw, &w); err != nil {
		return nil, err
	}
	ancestors := make([]BlockRef, len(w.Ancestors))
	for i, wr := range w.Ancestors {
		ref, err := wr.ref()
		if err != nil {
			return nil, err
		}
		ancestors[i] = ref
	}
	b := NewBlock(w.Round, w.Author, w.Timestamp, ancestors, w.Payloads)
	b.Signature = w.Signature
	return b, nil
}
