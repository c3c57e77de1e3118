package types

import (
	"sort"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func hash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	h[31] = b
	return h
}

func TestCoinsEncoding(t *testing.T) {
	c := NewCoins(700_001, true, wire.NewTxOut(5_000_000_000, []byte{0x76, 0xa9, 0x14}))

	data, err := c.Serialise()
	require.NoError(t, err)

	decoded, err := DeserialiseCoins(data)
	require.NoError(t, err)
	require.True(t, c.Equal(decoded))

	// header code carries the coinbase flag in the lowest bit
	require.Equal(t, uint64(700_001<<1|1), c.headerCode())

	_, err = DeserialiseCoins(append(data, 0x00))
	require.ErrorIs(t, err, ErrSerialization)

	_, err = DeserialiseCoins(data[:5])
	require.ErrorIs(t, err, ErrSerialization)
}

func TestCoinsCloneIsDeep(t *testing.T) {
	c := NewCoins(1, false, wire.NewTxOut(50, []byte{0x51}))
	clone := c.Clone()
	clone.TxOut.PkScript[0] = 0x00
	require.Equal(t, byte(0x51), c.TxOut.PkScript[0])

	var nilCoins *Coins
	require.Nil(t, nilCoins.Clone())
	require.True(t, nilCoins.Equal(nil))
	require.False(t, c.Equal(nil))
}

func TestOutPointKeyOrder(t *testing.T) {
	ops := []wire.OutPoint{
		{Hash: hash(2), Index: 0},
		{Hash: hash(1), Index: 256},
		{Hash: hash(1), Index: 1},
	}
	sort.Slice(ops, func(i, j int) bool { return CompareOutPoints(ops[i], ops[j]) < 0 })

	var prev []byte
	for _, op := range ops {
		k := OutPointKey(op)
		if prev != nil {
			require.Negative(t, compareBytes(prev, k))
		}
		prev = k

		parsed, err := ParseOutPoint(k)
		require.NoError(t, err)
		require.Equal(t, op, parsed)
	}

	_, err := ParseOutPoint([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrSerialization)
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func TestRewindDataEncoding(t *testing.T) {
	rd := &RewindData{
		PreviousTip:     HashHeightPair{Hash: hash(9), Height: 41},
		OutputsToRemove: []wire.OutPoint{{Hash: hash(3), Index: 0}, {Hash: hash(3), Index: 1}},
		OutputsToRestore: []*UnspentOutput{
			NewUnspentOutput(wire.OutPoint{Hash: hash(4), Index: 7}, NewCoins(12, false, wire.NewTxOut(1000, []byte{0x00, 0x14}))),
		},
	}
	require.Equal(t, int32(42), rd.Height())

	key, err := rd.SerialiseKey()
	require.NoError(t, err)
	data, err := rd.SerialiseData()
	require.NoError(t, err)

	decoded := &RewindData{}
	require.NoError(t, decoded.DeSerialiseData(data))
	require.NoError(t, decoded.DeSerialiseKey(key))
	require.Equal(t, rd.PreviousTip, decoded.PreviousTip)
	require.Equal(t, rd.OutputsToRemove, decoded.OutputsToRemove)
	require.Len(t, decoded.OutputsToRestore, 1)
	require.True(t, rd.OutputsToRestore[0].Coins.Equal(decoded.OutputsToRestore[0].Coins))

	// a key of another height does not belong to this record
	require.ErrorIs(t, decoded.DeSerialiseKey(HeightKey(7)), ErrSerialization)

	_, err = DeserialiseRewindData(data[:len(data)-1])
	require.ErrorIs(t, err, ErrSerialization)
}

func TestRewindDataRejectsSpentRestore(t *testing.T) {
	rd := &RewindData{
		OutputsToRestore: []*UnspentOutput{NewUnspentOutput(wire.OutPoint{Hash: hash(1)}, nil)},
	}
	_, err := rd.SerialiseData()
	require.ErrorIs(t, err, ErrSerialization)
}

func TestHashHeightPair(t *testing.T) {
	p := NewHashHeightPair(hash(5), 123)
	decoded, err := DeserialiseHashHeightPair(p.Serialise())
	require.NoError(t, err)
	require.True(t, p.Equal(decoded))
	require.False(t, p.Equal(NewHashHeightPair(hash(5), 124)))

	_, err = DeserialiseHashHeightPair(p.Serialise()[:10])
	require.ErrorIs(t, err, ErrSerialization)
}
