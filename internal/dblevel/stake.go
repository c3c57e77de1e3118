package dblevel

import (
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
	"github.com/syndtr/goleveldb/leveldb"
)

// PutStake writes new stake items in one batch. Items already InStore are skipped.
func (s *Store) PutStake(items []*types.StakeItem) error {
	batch := new(leveldb.Batch)
	var pending []*types.StakeItem
	for _, item := range items {
		if item.InStore {
			continue
		}
		key, value, err := extractKeyValue(database.KStake, item)
		if err != nil {
			return err
		}
		batch.Put(key, value)
		pending = append(pending, item)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.DB.Write(batch, nil); err != nil {
		logging.L.Err(err).Msg("error writing stake batch")
		return err
	}
	for _, item := range pending {
		item.InStore = true
	}
	return nil
}

func (s *Store) GetStake(items []*types.StakeItem) error {
	snap, err := s.DB.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	for _, item := range items {
		found, err := retrieve(snap, database.KeyStake(item.BlockID), item)
		if err != nil {
			return err
		}
		if found {
			item.InStore = true
		}
	}
	return nil
}
