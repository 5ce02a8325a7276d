// Package ingestion turns raw ledger logs into typed domain events and
// publishes them on the event bus.
package ingestion

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"mosaic-sync/internal/chain"
	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/events"
	"mosaic-sync/internal/observability"
)

// receiptRetryDelay is the wait before the single receipt re-fetch.
const receiptRetryDelay = 100 * time.Millisecond

// Topic hashes of the contract events this source understands.
var (
	topicAirdropped   = chain.EventTopic("Airdropped(address,uint256,uint256)")
	topicSwapExecuted = chain.EventTopic("SwapExecuted(address,bool,uint256,uint256,uint256)")
	topicUserMint     = chain.EventTopic("UserMint(uint256,address,string,string)")
	topicUserTransfer = chain.EventTopic("UserTransfer(address,address,uint256,uint256,uint256,string)")
	topicMosaicMint   = chain.EventTopic("MosaicMint(address,address,uint256,uint256,string)")
)

// ChainEventSource subscribes to logs from the configured contracts,
// decodes them into domain events and publishes them on the bus.
//
// Transfers need the receipt of their own transaction to learn whether a
// mint marker fired alongside, so each transfer is finished on its own
// goroutine; transfer publish order is therefore not guaranteed relative
// to other events, which downstream consumers tolerate.
type ChainEventSource struct {
	ws        chain.WSClient
	rpc       chain.RPCClient
	bus       *events.Bus
	addresses []string

	// retryDelay overrides receiptRetryDelay in tests.
	retryDelay time.Duration

	wg sync.WaitGroup
}

// NewChainEventSource creates a source over the given contract address set.
func NewChainEventSource(ws chain.WSClient, rpc chain.RPCClient, bus *events.Bus, addresses []string) *ChainEventSource {
	normalized := make([]string, len(addresses))
	for i, a := range addresses {
		normalized[i] = chain.NormalizeAddress(a)
	}
	return &ChainEventSource{
		ws:         ws,
		rpc:        rpc,
		bus:        bus,
		addresses:  normalized,
		retryDelay: receiptRetryDelay,
	}
}

// Run subscribes and processes logs until the context is cancelled or the
// log channel closes. Outstanding receipt fetches are drained before
// returning.
func (s *ChainEventSource) Run(ctx context.Context) error {
	logsCh, err := s.ws.SubscribeLogs(ctx, chain.LogFilter{Addresses: s.addresses})
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	log.Printf("[source] Subscribed to %d contracts", len(s.addresses))

	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lg, ok := <-logsCh:
			if !ok {
				log.Println("[source] log channel closed")
				return nil
			}
			s.handleLog(ctx, lg)
		}
	}
}

// handleLog decodes one raw log and publishes the resulting event.
// Unknown topics and removed (reorged-out) logs are dropped.
func (s *ChainEventSource) handleLog(ctx context.Context, lg chain.Log) {
	if lg.Removed {
		observability.RecordEventDropped()
		return
	}

	switch lg.Topic0() {
	case topicAirdropped:
		s.publishAirdrop(lg)
	case topicSwapExecuted:
		s.publishSwap(lg)
	case topicUserMint:
		s.publishMintConfirmed(lg)
	case topicUserTransfer:
		s.spawnTransfer(ctx, lg)
	default:
		observability.RecordEventDropped()
	}
}

func (s *ChainEventSource) publishAirdrop(lg chain.Log) {
	ev, err := decodeAirdrop(lg)
	if err != nil {
		log.Printf("[source] Skipping bad Airdropped log in tx %s: %v", lg.TxHash, err)
		observability.RecordDecodeError(string(domain.EventKindAirdrop))
		return
	}
	observability.RecordEventDecoded(string(domain.EventKindAirdrop))
	s.bus.Publish(ev)
}

func (s *ChainEventSource) publishSwap(lg chain.Log) {
	ev, err := decodeSwap(lg)
	if err != nil {
		log.Printf("[source] Skipping bad SwapExecuted log in tx %s: %v", lg.TxHash, err)
		observability.RecordDecodeError(string(domain.EventKindSwap))
		return
	}
	observability.RecordEventDecoded(string(domain.EventKindSwap))
	s.bus.Publish(ev)
}

func (s *ChainEventSource) publishMintConfirmed(lg chain.Log) {
	ev, err := decodeUserMint(lg)
	if err != nil {
		log.Printf("[source] Skipping bad UserMint log in tx %s: %v", lg.TxHash, err)
		observability.RecordDecodeError(string(domain.EventKindMintConfirmed))
		return
	}
	observability.RecordEventDecoded(string(domain.EventKindMintConfirmed))
	s.bus.Publish(ev)
}

// spawnTransfer finishes a transfer on its own goroutine so the receipt
// fetch does not stall the log loop.
func (s *ChainEventSource) spawnTransfer(ctx context.Context, lg chain.Log) {
	ev, err := decodeUserTransfer(lg)
	if err != nil {
		log.Printf("[source] Skipping bad UserTransfer log in tx %s: %v", lg.TxHash, err)
		observability.RecordDecodeError(string(domain.EventKindTransfer))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.finishTransfer(ctx, ev)
	}()
}

// finishTransfer correlates the transfer with a same-transaction mint
// marker and publishes it. When the receipt never becomes available the
// transfer is forwarded without the marker rather than dropped.
func (s *ChainEventSource) finishTransfer(ctx context.Context, ev domain.TransferEvent) {
	remark, err := s.fetchMintMarker(ctx, ev.TxHash)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[source] WARN: receipt unavailable for tx %s, forwarding transfer without marker: %v", ev.TxHash, err)
		observability.DefaultMetrics.ReceiptUnavailable.Inc()
	}
	ev.MintRemark = remark

	observability.RecordEventDecoded(string(domain.EventKindTransfer))
	s.bus.Publish(ev)
}

// fetchMintMarker fetches the transaction receipt, retrying once after a
// short delay if the node has not indexed it yet, and returns the remark
// of the first MosaicMint log found. (nil, nil) means the receipt was
// available but carried no marker.
func (s *ChainEventSource) fetchMintMarker(ctx context.Context, txHash string) (*string, error) {
	observability.DefaultMetrics.ReceiptFetches.Inc()
	receipt, err := s.rpc.TransactionReceipt(ctx, txHash)
	if err == nil && receipt == nil {
		observability.DefaultMetrics.ReceiptRetries.Inc()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryDelay):
		}
		receipt, err = s.rpc.TransactionReceipt(ctx, txHash)
	}
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("receipt not indexed after retry")
	}

	for _, lg := range receipt.Logs {
		if lg.Topic0() != topicMosaicMint {
			continue
		}
		remark, err := decodeMosaicMintRemark(lg)
		if err != nil {
			log.Printf("[source] Skipping bad MosaicMint log in tx %s: %v", txHash, err)
			observability.RecordDecodeError("mosaic_mint")
			continue
		}
		return &remark, nil
	}
	return nil, nil
}
