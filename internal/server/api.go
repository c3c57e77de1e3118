package server

import (
	"bytes"
	"encoding/hex"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gin-gonic/gin"

	"github.com/setavenger/coindb/internal/coinview"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/node"
	"github.com/setavenger/coindb/internal/types"
)

// ApiHandler serves read only views of an open node.
type ApiHandler struct {
	Network string
	Node    *node.Node
}

type InfoResponse struct {
	Network         string                `json:"network"`
	Backend         string                `json:"backend"`
	Tip             *types.HashHeightPair `json:"tip"`
	FlushedTip      *types.HashHeightPair `json:"flushed_tip"`
	MinRewindHeight int32                 `json:"min_rewind_height"`
	TxIndex         bool                  `json:"txindex"`
	Cache           coinview.Stats        `json:"cache"`
}

type CoinResponse struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Height   uint32 `json:"height"`
	Coinbase bool   `json:"coinbase"`
	Value    int64  `json:"value"`
	Script   string `json:"script_pubkey"`
}

type RewindResponse struct {
	Height           int32                 `json:"height"`
	PreviousTip      *types.HashHeightPair `json:"previous_tip"`
	OutputsToRemove  []string              `json:"outputs_to_remove"`
	OutputsToRestore []CoinResponse        `json:"outputs_to_restore"`
}

type TxResponse struct {
	TxID      string `json:"txid"`
	BlockHash string `json:"block_hash"`
	Data      string `json:"data"`
}

func coinResponse(op wire.OutPoint, coins *types.Coins) CoinResponse {
	return CoinResponse{
		TxID:     op.Hash.String(),
		Vout:     op.Index,
		Height:   coins.Height,
		Coinbase: coins.IsCoinbase,
		Value:    coins.TxOut.Value,
		Script:   hex.EncodeToString(coins.TxOut.PkScript),
	}
}

func internalError(c *gin.Context, err error, msg string) {
	logging.L.Err(err).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "could not retrieve data from database",
	})
}

func (h *ApiHandler) GetInfo(c *gin.Context) {
	tip, err := h.Node.View.GetTipHash()
	if err != nil {
		internalError(c, err, "error fetching tip")
		return
	}
	minHeight, err := h.Node.Store.GetMinRewindHeight()
	if err != nil {
		internalError(c, err, "error fetching min rewind height")
		return
	}
	c.JSON(http.StatusOK, InfoResponse{
		Network:         h.Network,
		Backend:         h.Node.Backend(),
		Tip:             tip,
		FlushedTip:      h.Node.View.FlushedTip(),
		MinRewindHeight: minHeight,
		TxIndex:         h.Node.Blocks.TxIndex(),
		Cache:           h.Node.View.Stats(),
	})
}

func (h *ApiHandler) GetCoin(c *gin.Context) {
	op := c.MustGet("outpoint").(wire.OutPoint)

	res, err := h.Node.View.FetchCoins([]wire.OutPoint{op})
	if err != nil {
		internalError(c, err, "error fetching coins")
		return
	}
	if res[op].IsSpent() {
		c.JSON(http.StatusNotFound, gin.H{"error": "output is spent or unknown"})
		return
	}
	c.JSON(http.StatusOK, coinResponse(op, res[op].Coins))
}

func (h *ApiHandler) GetRewindData(c *gin.Context) {
	height := c.MustGet("height").(int32)

	rd, err := h.Node.View.GetRewindData(height)
	if err != nil {
		internalError(c, err, "error fetching rewind data")
		return
	}
	if rd == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no rewind data for height"})
		return
	}

	result := RewindResponse{
		Height:           rd.Height(),
		PreviousTip:      &rd.PreviousTip,
		OutputsToRemove:  make([]string, len(rd.OutputsToRemove)),
		OutputsToRestore: make([]CoinResponse, len(rd.OutputsToRestore)),
	}
	for i, op := range rd.OutputsToRemove {
		result.OutputsToRemove[i] = op.String()
	}
	for i, out := range rd.OutputsToRestore {
		result.OutputsToRestore[i] = coinResponse(out.OutPoint, out.Coins)
	}
	c.JSON(http.StatusOK, result)
}

func (h *ApiHandler) GetTransaction(c *gin.Context) {
	txid, err := chainhash.NewHashFromStr(c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse txid"})
		return
	}
	if !h.Node.Blocks.TxIndex() {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction index is disabled"})
		return
	}

	blockID, err := h.Node.Blocks.GetBlockIDByTransactionID(*txid)
	if err != nil {
		internalError(c, err, "error fetching tx index")
		return
	}
	if blockID == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	block, err := h.Node.Blocks.GetBlock(*blockID)
	if err != nil {
		internalError(c, err, "error fetching block")
		return
	}
	if block == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}

	for _, tx := range block.Transactions {
		if tx.TxHash() != *txid {
			continue
		}
		var buf bytes.Buffer
		if err = tx.Serialize(&buf); err != nil {
			internalError(c, err, "error serialising tx")
			return
		}
		c.JSON(http.StatusOK, TxResponse{
			TxID:      txid.String(),
			BlockHash: blockID.String(),
			Data:      hex.EncodeToString(buf.Bytes()),
		})
		return
	}
	logging.L.Warn().Stringer("txid", txid).Stringer("block", blockID).Msg("tx index points at a block without the tx")
	c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
}

func (h *ApiHandler) GetStake(c *gin.Context) {
	blockHash, err := chainhash.NewHashFromStr(c.Param("blockhash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse block hash"})
		return
	}
	data, err := h.Node.Stake.Get(*blockHash)
	if err != nil {
		internalError(c, err, "error fetching stake")
		return
	}
	if data == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no stake for block"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"block_hash": blockHash.String(),
		"stake":      hex.EncodeToString(data),
	})
}
