package types

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// StakeItem carries the proof-of-stake metadata of one block. BlockStake is
// opaque to the coin store. InStore is set once the item is durably written.
type StakeItem struct {
	BlockID    chainhash.Hash
	BlockStake []byte
	InStore    bool
}

func PairFactoryStakeItem() Pair {
	var pair Pair = &StakeItem{}
	return pair
}

func (s *StakeItem) SerialiseKey() ([]byte, error) {
	k := make([]byte, SizeHash)
	copy(k, s.BlockID[:])
	return k, nil
}

func (s *StakeItem) SerialiseData() ([]byte, error) {
	if s.BlockStake == nil {
		return nil, serializationErrorf("stake of block %s is empty", s.BlockID)
	}
	v := make([]byte, len(s.BlockStake))
	copy(v, s.BlockStake)
	return v, nil
}

func (s *StakeItem) DeSerialiseKey(key []byte) error {
	if len(key) != SizeHash {
		return serializationErrorf("stake key has %d bytes, want %d", len(key), SizeHash)
	}
	copy(s.BlockID[:], key)
	return nil
}

func (s *StakeItem) DeSerialiseData(data []byte) error {
	s.BlockStake = make([]byte, len(data))
	copy(s.BlockStake, data)
	return nil
}
