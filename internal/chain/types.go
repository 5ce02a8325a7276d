// Package chain provides EVM JSON-RPC access: a WebSocket client for log
// subscriptions and an HTTP client for receipt fetches and balance reads.
package chain

import "context"

// WSClient defines the ledger WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogFilter) (<-chan Log, error)

	// Close closes the WebSocket connection.
	Close() error
}

// RPCClient defines the ledger HTTP interface.
type RPCClient interface {
	// TransactionReceipt retrieves a receipt by transaction hash.
	// Returns nil (no error) when the receipt is not yet available.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// BalanceOf reads an ERC-20 balance via eth_call.
	BalanceOf(ctx context.Context, token, holder string) (Quantity, error)
}

// LogFilter restricts a log subscription to a set of contract addresses.
type LogFilter struct {
	Addresses []string
}

// Log is one EVM event log as delivered by the node. Quantities keep the
// node's hex encoding; decode with their accessor methods.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	Removed     bool     `json:"removed"`
}

// Topic0 returns the event signature topic, empty for anonymous logs.
func (l Log) Topic0() string {
	if len(l.Topics) == 0 {
		return ""
	}
	return l.Topics[0]
}

// BlockNumberInt decodes the block number quantity. Zero when absent.
func (l Log) BlockNumberInt() int64 {
	n, err := ParseQuantity(l.BlockNumber)
	if err != nil {
		return 0
	}
	return n.Int64()
}

// Receipt is a transaction receipt. Only the log set matters here: the
// ingestion source scans it for same-transaction marker events.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	BlockNumber string `json:"blockNumber"`
	Status      string `json:"status"`
	Logs        []Log  `json:"logs"`
}
