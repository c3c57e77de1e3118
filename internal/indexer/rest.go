package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/logging"
)

// ErrBadStatus is returned when the node answers with a non 200 status.
var ErrBadStatus = errors.New("bad status code")

// pooling of api calls to potentially improve performance
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		// Pooling / reuse
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0,

		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	},
}

type ChainInfo struct {
	Chain                string   `json:"chain"`
	Blocks               int32    `json:"blocks"`
	Headers              int32    `json:"headers"`
	BestBlockHash        string   `json:"bestblockhash"`
	Difficulty           float64  `json:"difficulty"`
	Time                 int64    `json:"time"`
	MedianTime           int64    `json:"mediantime"`
	VerificationProgress float64  `json:"verificationprogress"`
	InitialBlockDownload bool     `json:"initialblockdownload"`
	ChainWork            string   `json:"chainwork"`
	Pruned               bool     `json:"pruned"`
	Warnings             []string `json:"warnings"`
}

// BlockSource is where the syncer takes the best chain from.
type BlockSource interface {
	ChainInfo(ctx context.Context) (*ChainInfo, error)
	BlockHashByHeight(ctx context.Context, height int32) (*chainhash.Hash, error)
	Block(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error)
}

// RESTSource reads blocks from the REST interface of a bitcoind style node.
type RESTSource struct {
	endpoint string
	client   *http.Client
}

func NewRESTSource(endpoint string) *RESTSource {
	return &RESTSource{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   httpClient,
	}
}

func (s *RESTSource) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error creating request")
	}

	resp, err := s.client.Do(req) // <-- reuse the shared client
	if err != nil {
		logging.L.Err(err).Str("url", req.URL.String()).Msg("error performing request")
		return nil, errors.Wrap(err, "error performing request")
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		logging.L.Warn().
			Str("url", req.URL.String()).
			Str("status", resp.Status).
			Msg("bad status code")
		return nil, errors.Wrapf(ErrBadStatus, "%s: %s", req.URL.Path, resp.Status)
	}
	return resp, nil
}

func (s *RESTSource) ChainInfo(ctx context.Context) (*ChainInfo, error) {
	resp, err := s.get(ctx, "/rest/chaininfo.json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chainInfo ChainInfo
	if err = json.NewDecoder(resp.Body).Decode(&chainInfo); err != nil {
		logging.L.Err(err).Msg("unable to decode body")
		return nil, errors.Wrap(err, "decode chaininfo")
	}
	return &chainInfo, nil
}

func (s *RESTSource) BlockHashByHeight(ctx context.Context, height int32) (*chainhash.Hash, error) {
	resp, err := s.get(ctx, fmt.Sprintf("/rest/blockhashbyheight/%d.bin", height))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var blockhash chainhash.Hash
	if _, err = io.ReadFull(resp.Body, blockhash[:]); err != nil {
		return nil, errors.Wrapf(err, "read block hash at height %d", height)
	}
	return &blockhash, nil
}

func (s *RESTSource) Block(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error) {
	resp, err := s.get(ctx, fmt.Sprintf("/rest/block/%s.bin", hash))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	block, err := btcutil.NewBlockFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "decode block %s", hash)
	}
	if !block.Hash().IsEqual(hash) {
		return nil, errors.Errorf("requested block %s, got %s", hash, block.Hash())
	}
	return block.MsgBlock(), nil
}
