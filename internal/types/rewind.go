package types

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxRewindEntries bounds the element counts read from a stored rewind record.
const maxRewindEntries = 1 << 24

// RewindData undoes one connected block.
//
// OutputsToRemove are the outputs the block created, OutputsToRestore hold the
// values the block spent or replaced. Undo deletes the former and then writes
// the latter.
type RewindData struct {
	PreviousTip      HashHeightPair
	OutputsToRemove  []wire.OutPoint
	OutputsToRestore []*UnspentOutput
}

func PairFactoryRewindData() Pair {
	var pair Pair = &RewindData{}
	return pair
}

// Height is the height of the block this record undoes.
func (r *RewindData) Height() int32 {
	return r.PreviousTip.Height + 1
}

// Clone returns a deep copy.
func (r *RewindData) Clone() *RewindData {
	c := &RewindData{
		PreviousTip:     r.PreviousTip,
		OutputsToRemove: append([]wire.OutPoint(nil), r.OutputsToRemove...),
	}
	if r.OutputsToRestore != nil {
		c.OutputsToRestore = make([]*UnspentOutput, len(r.OutputsToRestore))
		for i, out := range r.OutputsToRestore {
			c.OutputsToRestore[i] = NewUnspentOutput(out.OutPoint, out.Coins.Clone())
		}
	}
	return c
}

func (r *RewindData) SerialiseKey() ([]byte, error) {
	return HeightKey(r.Height()), nil
}

func (r *RewindData) DeSerialiseKey(key []byte) error {
	height, err := ParseHeightKey(key)
	if err != nil {
		return err
	}
	if r.PreviousTip.Hash == (chainhash.Hash{}) {
		// key decoded before the value
		r.PreviousTip.Height = height - 1
		return nil
	}
	if r.Height() != height {
		return serializationErrorf("rewind key height %d does not match record height %d", height, r.Height())
	}
	return nil
}

// SerialiseData encodes
// tip ++ varint(n) ++ n*outpoint ++ varint(m) ++ m*(outpoint ++ varbytes(coins)).
func (r *RewindData) SerialiseData() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(r.PreviousTip.Serialise())

	if err := wire.WriteVarInt(&buf, 0, uint64(len(r.OutputsToRemove))); err != nil {
		return nil, err
	}
	key := make([]byte, SizeOutPoint)
	for _, op := range r.OutputsToRemove {
		PutOutPoint(key, op)
		buf.Write(key)
	}

	if err := wire.WriteVarInt(&buf, 0, uint64(len(r.OutputsToRestore))); err != nil {
		return nil, err
	}
	for _, out := range r.OutputsToRestore {
		if out.Coins == nil {
			return nil, serializationErrorf("rewind restore of %s carries no coins", out.OutPoint)
		}
		PutOutPoint(key, out.OutPoint)
		buf.Write(key)
		data, err := out.Coins.Serialise()
		if err != nil {
			return nil, err
		}
		if err := wire.WriteVarBytes(&buf, 0, data); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (r *RewindData) DeSerialiseData(data []byte) error {
	if len(data) < SizeHashHeightPair {
		return serializationErrorf("rewind record has %d bytes", len(data))
	}
	tip, err := DeserialiseHashHeightPair(data[:SizeHashHeightPair])
	if err != nil {
		return err
	}
	rd := bytes.NewReader(data[SizeHashHeightPair:])

	removeCount, err := readCount(rd)
	if err != nil {
		return err
	}
	key := make([]byte, SizeOutPoint)
	toRemove := make([]wire.OutPoint, 0, min(removeCount, uint64(rd.Len()/SizeOutPoint)))
	for i := uint64(0); i < removeCount; i++ {
		if _, err := io.ReadFull(rd, key); err != nil {
			return serializationErrorf("rewind remove entry %d: %v", i, err)
		}
		op, err := ParseOutPoint(key)
		if err != nil {
			return err
		}
		toRemove = append(toRemove, op)
	}

	restoreCount, err := readCount(rd)
	if err != nil {
		return err
	}
	toRestore := make([]*UnspentOutput, 0, min(restoreCount, uint64(rd.Len()/SizeOutPoint)))
	for i := uint64(0); i < restoreCount; i++ {
		if _, err := io.ReadFull(rd, key); err != nil {
			return serializationErrorf("rewind restore entry %d: %v", i, err)
		}
		op, err := ParseOutPoint(key)
		if err != nil {
			return err
		}
		raw, err := wire.ReadVarBytes(rd, 0, maxScriptLen, "coins")
		if err != nil {
			return serializationErrorf("rewind restore entry %d: %v", i, err)
		}
		coins, err := DeserialiseCoins(raw)
		if err != nil {
			return err
		}
		toRestore = append(toRestore, NewUnspentOutput(op, coins))
	}
	if rd.Len() != 0 {
		return serializationErrorf("%d trailing bytes after rewind record", rd.Len())
	}

	r.PreviousTip = *tip
	r.OutputsToRemove = toRemove
	r.OutputsToRestore = toRestore
	return nil
}

// DeserialiseRewindData decodes a stored rewind value.
func DeserialiseRewindData(data []byte) (*RewindData, error) {
	r := &RewindData{}
	if err := r.DeSerialiseData(data); err != nil {
		return nil, err
	}
	return r, nil
}

func readCount(r *bytes.Reader) (uint64, error) {
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, serializationErrorf("rewind count: %v", err)
	}
	if n > maxRewindEntries {
		return 0, serializationErrorf("rewind count %d exceeds %d", n, maxRewindEntries)
	}
	return n, nil
}
