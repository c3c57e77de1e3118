package blockstore

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/types"
	"github.com/stretchr/testify/require"
)

// testBlocks builds a chain of n blocks on top of the zero hash, block i
// carrying i+1 transactions.
func testBlocks(t *testing.T, n int) ([]*wire.MsgBlock, int) {
	t.Helper()
	return extendBlocks(t, chainhash.Hash{}, 0, n)
}

// extendBlocks builds n blocks on top of prev. tag keeps branches apart.
func extendBlocks(t *testing.T, prev chainhash.Hash, tag byte, n int) ([]*wire.MsgBlock, int) {
	t.Helper()
	var (
		blocks []*wire.MsgBlock
		txs    int
	)
	for i := 0; i < n; i++ {
		block := wire.NewMsgBlock(&wire.BlockHeader{PrevBlock: prev, Nonce: uint32(tag)<<16 | uint32(i)})
		for j := 0; j <= i; j++ {
			tx := wire.NewMsgTx(wire.TxVersion)
			tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: uint32(j)}, []byte{tag, byte(i), byte(j)}, nil))
			tx.AddTxOut(wire.NewTxOut(int64(1000*i+j), []byte{0x51}))
			require.NoError(t, block.AddTransaction(tx))
			txs++
		}
		blocks = append(blocks, block)
		prev = block.BlockHash()
	}
	return blocks, txs
}

func tipOf(block *wire.MsgBlock, height int32) *types.HashHeightPair {
	return types.NewHashHeightPair(block.BlockHash(), height)
}

func snapshotIndex(t *testing.T, s *Store) map[chainhash.Hash]chainhash.Hash {
	t.Helper()
	index := make(map[chainhash.Hash]chainhash.Hash)
	require.NoError(t, s.ForEachTxIndex(func(txid, blockHash chainhash.Hash) error {
		index[txid] = blockHash
		return nil
	}))
	return index
}

func TestPutGetBlocks(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	tip, err := s.GetTip()
	require.NoError(t, err)
	require.Nil(t, tip)

	blocks, _ := testBlocks(t, 3)
	require.NoError(t, s.PutBlocks(tipOf(blocks[2], 3), blocks))

	tip, err = s.GetTip()
	require.NoError(t, err)
	require.True(t, tipOf(blocks[2], 3).Equal(tip))

	for _, b := range blocks {
		ok, err := s.Exist(b.BlockHash())
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.GetBlock(b.BlockHash())
		require.NoError(t, err)
		require.Equal(t, b.BlockHash(), got.BlockHash())
		require.Len(t, got.Transactions, len(b.Transactions))
	}

	got, err := s.GetBlock(chainhash.Hash{0x01})
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.Delete(tipOf(blocks[1], 2), []chainhash.Hash{blocks[2].BlockHash()}))
	ok, err := s.Exist(blocks[2].BlockHash())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestToggleTxIndexAndReIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	blocks, m := testBlocks(t, 4)
	require.NoError(t, s.PutBlocks(tipOf(blocks[3], 4), blocks))

	// flag is off by default: nothing indexed
	require.False(t, s.TxIndex())
	n, err := s.CountTxIndex()
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, s.SetTxIndex(false))
	require.NoError(t, s.SetTxIndex(true))
	require.NoError(t, s.ReIndex())

	n, err = s.CountTxIndex()
	require.NoError(t, err)
	require.Equal(t, m, n)
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			blockID, err := s.GetBlockIDByTransactionID(tx.TxHash())
			require.NoError(t, err)
			require.NotNil(t, blockID)
			require.Equal(t, b.BlockHash(), *blockID)
		}
	}

	first := snapshotIndex(t, s)
	require.NoError(t, s.ReIndex())
	require.Equal(t, first, snapshotIndex(t, s))

	// the flag survives a restart
	require.NoError(t, s.Close())
	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	require.True(t, s.TxIndex())
	require.Equal(t, first, snapshotIndex(t, s))
}

func TestIndexFollowsPutAndDelete(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SetTxIndex(true))

	blocks, _ := testBlocks(t, 2)
	require.NoError(t, s.PutBlocks(tipOf(blocks[1], 2), blocks))
	n, err := s.CountTxIndex()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, s.Delete(tipOf(blocks[0], 1), []chainhash.Hash{blocks[1].BlockHash()}))
	n, err = s.CountTxIndex()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	blockID, err := s.GetBlockIDByTransactionID(blocks[1].Transactions[0].TxHash())
	require.NoError(t, err)
	require.Nil(t, blockID)

	require.NoError(t, s.SetTxIndex(false))
	require.NoError(t, s.ReIndex())
	n, err = s.CountTxIndex()
	require.NoError(t, err)
	require.Zero(t, n)
	blockID, err = s.GetBlockIDByTransactionID(blocks[0].Transactions[0].TxHash())
	require.NoError(t, err)
	require.Nil(t, blockID)
}

func TestReIndexSkipsBlocksOffTheTipChain(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SetTxIndex(true))

	main, m := testBlocks(t, 3)
	stale, _ := extendBlocks(t, main[0].BlockHash(), 1, 3)

	// a stale branch left behind, then the tip moved to the main chain
	require.NoError(t, s.PutBlocks(tipOf(stale[2], 4), stale))
	require.NoError(t, s.PutBlocks(tipOf(main[2], 3), main))
	require.NoError(t, s.ReIndex())

	n, err := s.CountTxIndex()
	require.NoError(t, err)
	require.Equal(t, m, n)
	for txid, blockHash := range snapshotIndex(t, s) {
		var found bool
		for _, b := range main {
			if b.BlockHash() == blockHash {
				found = true
			}
		}
		require.True(t, found, "tx %s indexed to %s", txid, blockHash)
	}
}

func TestTrimTo(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SetTxIndex(true))

	blocks, _ := testBlocks(t, 5)
	require.NoError(t, s.PutBlocks(tipOf(blocks[4], 5), blocks))

	// at or above the stored tip nothing changes
	n, err := s.TrimTo(tipOf(blocks[4], 5))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.TrimTo(tipOf(blocks[1], 2))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	tip, err := s.GetTip()
	require.NoError(t, err)
	require.True(t, tipOf(blocks[1], 2).Equal(tip))
	for i, b := range blocks {
		ok, err := s.Exist(b.BlockHash())
		require.NoError(t, err)
		require.Equal(t, i < 2, ok)
	}
	count, err := s.CountTxIndex()
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// a tip that is not on the stored chain
	_, err = s.TrimTo(tipOf(blocks[3], 1))
	require.Error(t, err)
}
