package types

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	SizeHash     = chainhash.HashSize
	SizeIndex    = 4
	SizeOutPoint = SizeHash + SizeIndex
	SizeHeight   = 4
)

// OutPointKey encodes an outpoint as txid ++ big endian index so that key
// order matches CompareOutPoints.
func OutPointKey(op wire.OutPoint) []byte {
	k := make([]byte, SizeOutPoint)
	PutOutPoint(k, op)
	return k
}

// PutOutPoint writes the 36 byte key form of op into b.
func PutOutPoint(b []byte, op wire.OutPoint) {
	copy(b[:SizeHash], op.Hash[:])
	binary.BigEndian.PutUint32(b[SizeHash:SizeOutPoint], op.Index)
}

// ParseOutPoint decodes the 36 byte key form of an outpoint.
func ParseOutPoint(b []byte) (wire.OutPoint, error) {
	var op wire.OutPoint
	if len(b) != SizeOutPoint {
		return op, serializationErrorf("outpoint key has %d bytes, want %d", len(b), SizeOutPoint)
	}
	copy(op.Hash[:], b[:SizeHash])
	op.Index = binary.BigEndian.Uint32(b[SizeHash:])
	return op, nil
}

// CompareOutPoints orders outpoints the way their keys sort on disk.
func CompareOutPoints(a, b wire.OutPoint) int {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c
	}
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}
	return 0
}
