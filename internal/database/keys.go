package database

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/types"
)

/*

0x01 coins   key = [01][32 txid][4 voutBE]   val = varint(height<<1|coinbase) [8 valueLE] varbytes(script)
0x02 tip     key = [02]                      val = [32 blockHash][4 heightBE]
0x03 rewind  key = [03][4 heightBE]          val = [36 previousTip] varint(n) n*[36 outpoint] varint(m) m*([36 outpoint] varbytes(coins))
0x04 stake   key = [04][32 blockHash]        val = opaque stake bytes

*/

// Prefix Keys "K"
const (
	KCoins  = 0x01
	KTip    = 0x02
	KRewind = 0x03
	KStake  = 0x04
)

func KeyCoins(op wire.OutPoint) []byte {
	k := make([]byte, 1+types.SizeOutPoint)
	k[0] = KCoins
	types.PutOutPoint(k[1:], op)
	return k
}

func KeyTip() []byte {
	return []byte{KTip}
}

func KeyRewind(height int32) []byte {
	k := make([]byte, 1+types.SizeHeight)
	k[0] = KRewind
	copy(k[1:], types.HeightKey(height))
	return k
}

func KeyStake(blockID chainhash.Hash) []byte {
	k := make([]byte, 1+types.SizeHash)
	k[0] = KStake
	copy(k[1:], blockID[:])
	return k
}

// BoundsPrefix returns the [lb, ub) range covering every key of a prefix.
func BoundsPrefix(prefix byte) (lb, ub []byte) {
	return []byte{prefix}, []byte{prefix + 1}
}

// BoundsRewindBelow covers the rewind keys with a height lower than height.
func BoundsRewindBelow(height int32) (lb, ub []byte) {
	lb = []byte{KRewind}
	ub = KeyRewind(height)
	return
}
