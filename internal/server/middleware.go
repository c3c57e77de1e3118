package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gin-gonic/gin"
	"github.com/setavenger/coindb/internal/logging"
)

func ParseHeightMiddleware(c *gin.Context) {
	heightStr := c.Param("blockheight")
	if heightStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "block height is required"})
		c.Abort()
		return
	}

	height, err := strconv.ParseInt(heightStr, 10, 32)
	if err != nil || height < 0 {
		logging.L.Debug().Str("height", heightStr).Msg("could not parse block height")
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse block height"})
		c.Abort()
		return
	}

	c.Set("height", int32(height))
	c.Next()
}

func ParseOutPointMiddleware(c *gin.Context) {
	txid, err := chainhash.NewHashFromStr(c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse txid"})
		c.Abort()
		return
	}
	vout, err := strconv.ParseUint(c.Param("vout"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse vout"})
		c.Abort()
		return
	}

	c.Set("outpoint", wire.OutPoint{Hash: *txid, Index: uint32(vout)})
	c.Next()
}

// requestLogger routes gin's access log through zerolog.
func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	logging.L.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("dur", time.Since(start)).
		Msg("http request")
}
