// Package core provides JSON-RPC client of the core chain node. The client
// reports chain tip and verifies quorum signatures of the platform results.
package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/internal/jsonrpc"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"go.uber.org/zap"
)

// Defaults of the Client parameters.
const (
	DefaultQuorumType      = 6
	DefaultQuorumCacheSize = 100
)

// quorumPublicKeySize is a length of compressed BLS12-381 G1 point.
const quorumPublicKeySize = 48

// Prm groups parameters of the Client.
type Prm struct {
	Logger *zap.Logger

	// Core JSON-RPC endpoint URL.
	Endpoint string

	// Optional HTTP client.
	HTTPClient *http.Client

	// Basic authentication credentials.
	User     string
	Password string

	// Type of the quorums signing platform results. Defaults to
	// DefaultQuorumType.
	QuorumType int

	// Capacity of the quorum public key cache. Defaults to
	// DefaultQuorumCacheSize.
	QuorumCacheSize int
}

// Client is a core node JSON-RPC client. Client is safe for concurrent use.
type Client struct {
	log        *zap.Logger
	rpc        *jsonrpc.Client
	quorumType int
	quorumKeys *lru.Cache[util.Uint256, []byte]
}

// New constructs Client from the given parameters.
func New(prm Prm) (*Client, error) {
	if prm.Endpoint == "" {
		return nil, fmt.Errorf("missing core endpoint")
	}

	if prm.QuorumType == 0 {
		prm.QuorumType = DefaultQuorumType
	}

	if prm.QuorumCacheSize <= 0 {
		prm.QuorumCacheSize = DefaultQuorumCacheSize
	}

	cache, err := lru.New[util.Uint256, []byte](prm.QuorumCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init quorum key cache: %w", err)
	}

	if prm.Logger == nil {
		prm.Logger = zap.NewNop()
	}

	return &Client{
		log: prm.Logger,
		rpc: jsonrpc.New(jsonrpc.Prm{
			Endpoint:   prm.Endpoint,
			HTTPClient: prm.HTTPClient,
			User:       prm.User,
			Password:   prm.Password,
		}),
		quorumType: prm.QuorumType,
		quorumKeys: cache,
	}, nil
}

// BlockCount returns current height of the core chain.
func (x *Client) BlockCount(ctx context.Context) (uint32, error) {
	var res uint32

	err := x.rpc.Call(ctx, "getblockcount", nil, &res)
	if err != nil {
		return 0, fmt.Errorf("get block count: %w", err)
	}

	return res, nil
}

// BestBlockHash returns hash of the core chain tip.
func (x *Client) BestBlockHash(ctx context.Context) (util.Uint256, error) {
	var s string

	err := x.rpc.Call(ctx, "getbestblockhash", nil, &s)
	if err != nil {
		return util.Uint256{}, fmt.Errorf("get best block hash: %w", err)
	}

	res, err := util.Uint256DecodeStringLE(s)
	if err != nil {
		return util.Uint256{}, fmt.Errorf("decode best block hash: %w", err)
	}

	return res, nil
}

type quorumInfo struct {
	QuorumHash      string `json:"quorumHash"`
	QuorumPublicKey string `json:"quorumPublicKey"`
}

// QuorumPublicKey returns BLS12-381 public key of the quorum. Keys are cached.
func (x *Client) QuorumPublicKey(ctx context.Context, quorumHash util.Uint256) ([]byte, error) {
	if key, ok := x.quorumKeys.Get(quorumHash); ok {
		return key, nil
	}

	var info quorumInfo

	err := x.rpc.Call(ctx, "quorum", []any{"info", x.quorumType, quorumHash.StringLE()}, &info)
	if err != nil {
		return nil, fmt.Errorf("get quorum %s info: %w", quorumHash.StringLE(), err)
	}

	key, err := hex.DecodeString(info.QuorumPublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode quorum public key: %w", err)
	}

	if len(key) != quorumPublicKeySize {
		return nil, fmt.Errorf("invalid quorum public key length %d", len(key))
	}

	x.quorumKeys.Add(quorumHash, key)
	x.log.Debug("quorum public key cached", zap.String("quorum", quorumHash.StringLE()))

	return key, nil
}

// VerifyQuorumSignature checks BLS12-381 signature of the data by the
// quorum. Implements [platform.QuorumVerifier].
func (x *Client) VerifyQuorumSignature(ctx context.Context, quorumHash util.Uint256, data, sig []byte) error {
	key, err := x.QuorumPublicKey(ctx, quorumHash)
	if err != nil {
		return err
	}

	return identity.VerifyBLS(key, data, sig)
}
