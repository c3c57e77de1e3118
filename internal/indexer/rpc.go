package indexer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/logging"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// RPCSource reads blocks through the JSON-RPC interface of a bitcoind style
// node, for nodes running without -rest.
type RPCSource struct {
	endpoint string
	user     string
	pass     string
	client   *http.Client
}

func NewRPCSource(endpoint, user, pass string) *RPCSource {
	return &RPCSource{endpoint: endpoint, user: user, pass: pass, client: httpClient}
}

func (s *RPCSource) call(ctx context.Context, method string, result any, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "coindb",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrap(err, "error marshaling RPC data")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "error creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.user, s.pass)

	resp, err := s.client.Do(req)
	if err != nil {
		logging.L.Err(err).Str("method", method).Msg("error performing request")
		return errors.Wrap(err, "error performing request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "error reading response body")
	}

	// bitcoind answers RPC errors with a 500 and a json body
	var rpcResp rpcResponse
	if err = json.Unmarshal(body, &rpcResp); err != nil {
		logging.L.Err(err).
			Int("status_code", resp.StatusCode).
			Str("body", string(body)).
			Msg("error unmarshaling response")
		return errors.Wrapf(ErrBadStatus, "%s: %s", method, resp.Status)
	}
	if rpcResp.Error != nil {
		return errors.Errorf("rpc %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	return json.Unmarshal(rpcResp.Result, result)
}

func (s *RPCSource) ChainInfo(ctx context.Context) (*ChainInfo, error) {
	var info ChainInfo
	if err := s.call(ctx, "getblockchaininfo", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *RPCSource) BlockHashByHeight(ctx context.Context, height int32) (*chainhash.Hash, error) {
	var hash string
	if err := s.call(ctx, "getblockhash", &hash, height); err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(hash)
}

func (s *RPCSource) Block(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error) {
	var raw string
	if err := s.call(ctx, "getblock", &raw, hash.String(), 0); err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode block %s", hash)
	}
	block := new(wire.MsgBlock)
	if err = block.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, errors.Wrapf(err, "deserialise block %s", hash)
	}
	if block.BlockHash() != *hash {
		return nil, errors.Errorf("requested block %s, got %s", hash, block.BlockHash())
	}
	return block, nil
}
