package indexer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestRPCSource(t *testing.T) {
	chain := extend([]*wire.MsgBlock{genesisBlock()}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "u" || pass != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "getblockchaininfo":
			result = ChainInfo{Chain: "regtest", Blocks: 1}
		case "getblockhash":
			height := int(req.Params[0].(float64))
			if height >= len(chain) {
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]any{
					"result": nil,
					"error":  rpcError{Code: -8, Message: "Block height out of range"},
				})
				return
			}
			result = chain[height].BlockHash().String()
		case "getblock":
			var raw bytes.Buffer
			require.NoError(t, chain[1].Serialize(&raw))
			result = hex.EncodeToString(raw.Bytes())
		}
		json.NewEncoder(w).Encode(map[string]any{"result": result, "error": nil})
	}))
	defer srv.Close()

	source := NewRPCSource(srv.URL, "u", "p")
	ctx := context.Background()

	info, err := source.ChainInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), info.Blocks)

	hash, err := source.BlockHashByHeight(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, chain[1].BlockHash(), *hash)

	block, err := source.Block(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, chain[1].BlockHash(), block.BlockHash())

	_, err = source.BlockHashByHeight(ctx, 5)
	require.ErrorContains(t, err, "out of range")

	_, err = NewRPCSource(srv.URL, "u", "wrong").ChainInfo(ctx)
	require.ErrorIs(t, err, ErrBadStatus)
}
