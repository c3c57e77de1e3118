package coinview

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/types"
)

// ErrMissingInput is returned when a block spends an output the view does not hold.
var ErrMissingInput = errors.New("block spends a missing or already spent output")

// ConnectBlock derives the net coin changes of block at height: spent inputs
// come back with nil Coins, created outputs with their value. Outputs created
// and spent inside the block never show up, provably unspendable outputs are
// skipped.
func ConnectBlock(view View, block *wire.MsgBlock, height int32) ([]*types.UnspentOutput, error) {
	var (
		createdOrder []wire.OutPoint
		created      = make(map[wire.OutPoint]*types.Coins)
		spends       []wire.OutPoint
		spent        = make(map[wire.OutPoint]struct{})
	)

	for i, tx := range block.Transactions {
		isCoinbase := i == 0
		if !isCoinbase {
			for _, in := range tx.TxIn {
				prev := in.PreviousOutPoint
				if _, dup := spent[prev]; dup {
					return nil, errors.Wrapf(ErrMissingInput, "double spend of %s", prev)
				}
				spent[prev] = struct{}{}
				if _, ok := created[prev]; ok {
					delete(created, prev)
					continue
				}
				spends = append(spends, prev)
			}
		}

		txHash := tx.TxHash()
		for vout, out := range tx.TxOut {
			if txscript.IsUnspendable(out.PkScript) {
				continue
			}
			op := wire.OutPoint{Hash: txHash, Index: uint32(vout)}
			if _, dup := created[op]; !dup {
				createdOrder = append(createdOrder, op)
			}
			created[op] = types.NewCoins(uint32(height), isCoinbase, out)
		}
	}

	outputs := make([]*types.UnspentOutput, 0, len(spends)+len(created))
	if len(spends) > 0 {
		prevouts, err := view.FetchCoins(spends)
		if err != nil {
			return nil, err
		}
		for _, op := range spends {
			if prevouts[op].IsSpent() {
				return nil, errors.Wrapf(ErrMissingInput, "input %s at height %d", op, height)
			}
			outputs = append(outputs, types.NewUnspentOutput(op, nil))
		}
	}

	for _, op := range createdOrder {
		coins, ok := created[op]
		if !ok {
			continue
		}
		outputs = append(outputs, types.NewUnspentOutput(op, coins))
	}
	return outputs, nil
}
