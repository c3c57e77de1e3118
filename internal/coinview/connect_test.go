package coinview

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/database/storetest"
	"github.com/setavenger/coindb/internal/types"
	"github.com/stretchr/testify/require"
)

var p2tr = append([]byte{txscript.OP_1, txscript.OP_DATA_32}, make([]byte, 32)...)

func coinbaseTx(value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: wire.MaxPrevOutIndex}, []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(value, p2tr))
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN, 0x01, 0xaa}))
	return tx
}

func spendTx(prev wire.OutPoint, values ...int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	for _, v := range values {
		tx.AddTxOut(wire.NewTxOut(v, p2tr))
	}
	return tx
}

func TestConnectBlock(t *testing.T) {
	view, _ := newTestView(t, defaultConfig())

	funding := storetest.OutPoint(1, 0)
	require.NoError(t, view.SaveChanges([]*types.UnspentOutput{storetest.Coin(funding, 100, 1)}, storetest.Tip(0, 0), storetest.Tip(1, 1)))

	cb := coinbaseTx(50)
	tx1 := spendTx(funding, 60, 40)
	// spends an output created earlier in the same block
	tx2 := spendTx(wire.OutPoint{Hash: tx1.TxHash(), Index: 1}, 39)

	block := wire.NewMsgBlock(&wire.BlockHeader{})
	require.NoError(t, block.AddTransaction(cb))
	require.NoError(t, block.AddTransaction(tx1))
	require.NoError(t, block.AddTransaction(tx2))

	outputs, err := ConnectBlock(view, block, 2)
	require.NoError(t, err)

	got := make(map[wire.OutPoint]*types.Coins)
	for _, out := range outputs {
		got[out.OutPoint] = out.Coins
	}
	require.Len(t, got, 4)

	require.Contains(t, got, funding)
	require.Nil(t, got[funding])

	cbOut := got[wire.OutPoint{Hash: cb.TxHash(), Index: 0}]
	require.NotNil(t, cbOut)
	require.True(t, cbOut.IsCoinbase)
	require.Equal(t, uint32(2), cbOut.Height)
	require.NotContains(t, got, wire.OutPoint{Hash: cb.TxHash(), Index: 1})

	require.Equal(t, int64(60), got[wire.OutPoint{Hash: tx1.TxHash(), Index: 0}].TxOut.Value)
	require.NotContains(t, got, wire.OutPoint{Hash: tx1.TxHash(), Index: 1})
	require.False(t, got[wire.OutPoint{Hash: tx2.TxHash(), Index: 0}].IsCoinbase)

	// the derived batch is directly consumable by the view
	require.NoError(t, view.SaveChanges(outputs, storetest.Tip(1, 1), storetest.Tip(2, 2)))
	require.Nil(t, fetch(t, view, funding))
}

func TestConnectBlockMissingInput(t *testing.T) {
	view, _ := newTestView(t, defaultConfig())

	block := wire.NewMsgBlock(&wire.BlockHeader{})
	require.NoError(t, block.AddTransaction(coinbaseTx(50)))
	require.NoError(t, block.AddTransaction(spendTx(storetest.OutPoint(9, 9), 1)))

	_, err := ConnectBlock(view, block, 1)
	require.ErrorIs(t, err, ErrMissingInput)
}

func TestConnectBlockDoubleSpend(t *testing.T) {
	view, _ := newTestView(t, defaultConfig())

	funding := storetest.OutPoint(1, 0)
	require.NoError(t, view.SaveChanges([]*types.UnspentOutput{storetest.Coin(funding, 100, 1)}, storetest.Tip(0, 0), storetest.Tip(1, 1)))

	block := wire.NewMsgBlock(&wire.BlockHeader{})
	require.NoError(t, block.AddTransaction(coinbaseTx(50)))
	require.NoError(t, block.AddTransaction(spendTx(funding, 1)))
	require.NoError(t, block.AddTransaction(spendTx(funding, 2)))

	_, err := ConnectBlock(view, block, 2)
	require.ErrorIs(t, err, ErrMissingInput)
}
