package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRESTSource(t *testing.T) {
	chain := extend([]*wire.MsgBlock{genesisBlock()}, 1)
	chain = extend(chain, 2)

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/chaininfo.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChainInfo{Chain: "regtest", Blocks: int32(len(chain) - 1)})
	})
	for height, block := range chain {
		hash := block.BlockHash()
		var raw bytes.Buffer
		require.NoError(t, block.Serialize(&raw))

		mux.HandleFunc(fmt.Sprintf("/rest/blockhashbyheight/%d.bin", height), func(w http.ResponseWriter, r *http.Request) {
			w.Write(hash[:])
		})
		mux.HandleFunc(fmt.Sprintf("/rest/block/%s.bin", hash), func(w http.ResponseWriter, r *http.Request) {
			w.Write(raw.Bytes())
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := NewRESTSource(srv.URL + "/")
	ctx := context.Background()

	info, err := source.ChainInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), info.Blocks)
	require.Equal(t, "regtest", info.Chain)

	hash, err := source.BlockHashByHeight(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, chain[2].BlockHash(), *hash)

	block, err := source.Block(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, chain[2].BlockHash(), block.BlockHash())
	require.Len(t, block.Transactions, 2)

	_, err = source.BlockHashByHeight(ctx, 3)
	require.True(t, errors.Is(err, ErrBadStatus))

	blocks, err := pullBlocks(ctx, source, 1, 2)
	require.NoError(t, err)
	require.Equal(t, chain[1].BlockHash(), blocks[0].BlockHash())
	require.Equal(t, chain[2].BlockHash(), blocks[1].BlockHash())

	_, err = pullBlocks(ctx, source, 1, 3)
	require.Error(t, err)
}
