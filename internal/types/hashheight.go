package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const SizeHashHeightPair = SizeHash + SizeHeight

// HashHeightPair points at a block: the tip of a coin store.
type HashHeightPair struct {
	Hash   chainhash.Hash
	Height int32
}

func NewHashHeightPair(hash chainhash.Hash, height int32) *HashHeightPair {
	return &HashHeightPair{Hash: hash, Height: height}
}

func (p *HashHeightPair) Equal(o *HashHeightPair) bool {
	if p == nil || o == nil {
		return p == nil && o == nil
	}
	return p.Height == o.Height && p.Hash == o.Hash
}

func (p *HashHeightPair) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s-%d", p.Hash, p.Height)
}

func (p *HashHeightPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Hash   string `json:"hash"`
		Height int32  `json:"height"`
	}{p.Hash.String(), p.Height})
}

// Serialise returns hash ++ big endian height.
func (p *HashHeightPair) Serialise() []byte {
	b := make([]byte, SizeHashHeightPair)
	p.put(b)
	return b
}

func (p *HashHeightPair) put(b []byte) {
	copy(b[:SizeHash], p.Hash[:])
	binary.BigEndian.PutUint32(b[SizeHash:SizeHashHeightPair], uint32(p.Height))
}

func DeserialiseHashHeightPair(data []byte) (*HashHeightPair, error) {
	if len(data) != SizeHashHeightPair {
		return nil, serializationErrorf("tip has %d bytes, want %d", len(data), SizeHashHeightPair)
	}
	p := &HashHeightPair{Height: int32(binary.BigEndian.Uint32(data[SizeHash:]))}
	copy(p.Hash[:], data[:SizeHash])
	return p, nil
}

// HeightKey is the fixed width big endian key of a block height.
func HeightKey(height int32) []byte {
	k := make([]byte, SizeHeight)
	binary.BigEndian.PutUint32(k, uint32(height))
	return k
}

func ParseHeightKey(k []byte) (int32, error) {
	if len(k) != SizeHeight {
		return 0, serializationErrorf("height key has %d bytes, want %d", len(k), SizeHeight)
	}
	return int32(binary.BigEndian.Uint32(k)), nil
}
