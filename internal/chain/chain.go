// Package chain is a small Secret Network client: wallet derivation, encrypted
// contract queries and execute transactions over the LCD REST API.
package chain

import (
	"context"
	"errors"
)

const (
	Bech32Prefix = "secret"
	CoinType     = 529
	FeeDenom     = "uscrt"

	MainnetChainID = "secret-4"
)

// ErrTxNotFound means the node does not know the hash yet.
var ErrTxNotFound = errors.New("tx not found")

// Coin is an amount in base units.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// ExecuteMsg is one contract call. Msg is marshalled to JSON and encrypted
// against CodeHash before it goes on the wire.
type ExecuteMsg struct {
	Contract  string
	CodeHash  string
	Msg       any
	SentFunds []Coin
}

type BroadcastResult struct {
	Code      uint32
	Codespace string
	TxHash    string
	RawLog    string
}

type TxInfo struct {
	TxHash    string
	Height    int64
	Code      uint32
	Codespace string
	RawLog    string
	GasUsed   int64
	GasWanted int64
	Timestamp string
}

type NodeInfo struct {
	Network          string
	Moniker          string
	AppVersion       string
	CosmosSDKVersion string
}

// Querier runs read-only contract queries.
type Querier interface {
	QueryContract(ctx context.Context, contract, codeHash string, query any, out any) error
}

// Broadcaster signs and submits transactions and looks them up afterwards.
// SignAndBroadcast returns a *SubmitError when the transaction may have been
// delivered without an answer from the node.
type Broadcaster interface {
	Address() string
	SignAndBroadcast(ctx context.Context, msgs []ExecuteMsg, gasLimit uint64) (BroadcastResult, error)
	TxInfo(ctx context.Context, hash string) (TxInfo, error)
}
