package dblevel

import (
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
	"github.com/syndtr/goleveldb/leveldb/util"
)

func (s *Store) GetRewindData(height int32) (*types.RewindData, error) {
	rd := &types.RewindData{}
	found, err := retrieve(s.DB, database.KeyRewind(height), rd)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return rd, nil
}

func (s *Store) GetMinRewindHeight() (int32, error) {
	iter := s.DB.NewIterator(util.BytesPrefix([]byte{database.KRewind}), nil)
	defer iter.Release()

	if !iter.First() {
		return -1, iter.Error()
	}
	return types.ParseHeightKey(iter.Key()[1:])
}

func (s *Store) PruneRewindData(belowHeight int32) (int, error) {
	if belowHeight <= 0 {
		return 0, nil
	}
	lb, ub := database.BoundsRewindBelow(belowHeight)
	n, err := deleteRange(s.DB, &util.Range{Start: lb, Limit: ub})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.L.Debug().Int("records", n).Int32("below", belowHeight).Msg("pruned rewind data")
	}
	return n, nil
}
