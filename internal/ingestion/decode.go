package ingestion

import (
	"fmt"

	"mosaic-sync/internal/chain"
	"mosaic-sync/internal/domain"
)

// decodeAirdrop decodes an Airdropped(address indexed to, uint256 amount,
// uint256 timestamp) log.
func decodeAirdrop(lg chain.Log) (domain.AirdropEvent, error) {
	if len(lg.Topics) < 2 {
		return domain.AirdropEvent{}, fmt.Errorf("expected 2 topics, got %d", len(lg.Topics))
	}

	to, err := chain.TopicAddress(lg.Topics[1])
	if err != nil {
		return domain.AirdropEvent{}, fmt.Errorf("to address: %w", err)
	}

	args, err := chain.DecodeArgs(lg.Data)
	if err != nil {
		return domain.AirdropEvent{}, err
	}
	amount, err := args.Uint(0)
	if err != nil {
		return domain.AirdropEvent{}, fmt.Errorf("amount: %w", err)
	}
	ts, err := args.Uint(1)
	if err != nil {
		return domain.AirdropEvent{}, fmt.Errorf("timestamp: %w", err)
	}

	return domain.AirdropEvent{
		To:        to,
		Amount:    amount,
		Timestamp: ts.Int64(),
		TxHash:    lg.TxHash,
	}, nil
}

// decodeSwap decodes a SwapExecuted(address indexed user, bool zeroForOne,
// uint256 amountIn, uint256 amountOut, uint256 timestamp) log.
func decodeSwap(lg chain.Log) (domain.SwapEvent, error) {
	if len(lg.Topics) < 2 {
		return domain.SwapEvent{}, fmt.Errorf("expected 2 topics, got %d", len(lg.Topics))
	}

	user, err := chain.TopicAddress(lg.Topics[1])
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("user address: %w", err)
	}

	args, err := chain.DecodeArgs(lg.Data)
	if err != nil {
		return domain.SwapEvent{}, err
	}
	zeroForOne, err := args.Bool(0)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("zeroForOne: %w", err)
	}
	amountIn, err := args.Uint(1)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("amountIn: %w", err)
	}
	amountOut, err := args.Uint(2)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("amountOut: %w", err)
	}
	ts, err := args.Uint(3)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("timestamp: %w", err)
	}

	return domain.SwapEvent{
		User:       user,
		ZeroForOne: zeroForOne,
		AmountIn:   amountIn,
		AmountOut:  amountOut,
		Timestamp:  ts.Int64(),
		TxHash:     lg.TxHash,
	}, nil
}

// decodeUserMint decodes a UserMint(uint256 indexed tokenId, address
// indexed user, string remark, string tokenUrl) log.
func decodeUserMint(lg chain.Log) (domain.MintConfirmedEvent, error) {
	if len(lg.Topics) < 3 {
		return domain.MintConfirmedEvent{}, fmt.Errorf("expected 3 topics, got %d", len(lg.Topics))
	}

	tokenID, err := chain.TopicQuantity(lg.Topics[1])
	if err != nil {
		return domain.MintConfirmedEvent{}, fmt.Errorf("tokenId: %w", err)
	}
	user, err := chain.TopicAddress(lg.Topics[2])
	if err != nil {
		return domain.MintConfirmedEvent{}, fmt.Errorf("user address: %w", err)
	}

	args, err := chain.DecodeArgs(lg.Data)
	if err != nil {
		return domain.MintConfirmedEvent{}, err
	}
	remark, err := args.String(0)
	if err != nil {
		return domain.MintConfirmedEvent{}, fmt.Errorf("remark: %w", err)
	}
	tokenURL, err := args.String(1)
	if err != nil {
		return domain.MintConfirmedEvent{}, fmt.Errorf("tokenUrl: %w", err)
	}

	return domain.MintConfirmedEvent{
		TokenID:     tokenID.Int64(),
		User:        user,
		Remark:      remark,
		TokenURL:    tokenURL,
		BlockNumber: lg.BlockNumberInt(),
		TxHash:      lg.TxHash,
	}, nil
}

// decodeUserTransfer decodes a UserTransfer(address indexed from, address
// indexed to, uint256 value, uint256 timestamp, uint256 blockNumber,
// string remark) log. MintRemark is left nil; the source fills it from
// the receipt.
func decodeUserTransfer(lg chain.Log) (domain.TransferEvent, error) {
	if len(lg.Topics) < 3 {
		return domain.TransferEvent{}, fmt.Errorf("expected 3 topics, got %d", len(lg.Topics))
	}

	from, err := chain.TopicAddress(lg.Topics[1])
	if err != nil {
		return domain.TransferEvent{}, fmt.Errorf("from address: %w", err)
	}
	to, err := chain.TopicAddress(lg.Topics[2])
	if err != nil {
		return domain.TransferEvent{}, fmt.Errorf("to address: %w", err)
	}

	args, err := chain.DecodeArgs(lg.Data)
	if err != nil {
		return domain.TransferEvent{}, err
	}
	value, err := args.Uint(0)
	if err != nil {
		return domain.TransferEvent{}, fmt.Errorf("value: %w", err)
	}
	ts, err := args.Uint(1)
	if err != nil {
		return domain.TransferEvent{}, fmt.Errorf("timestamp: %w", err)
	}
	blockNumber, err := args.Uint(2)
	if err != nil {
		return domain.TransferEvent{}, fmt.Errorf("blockNumber: %w", err)
	}
	remark, err := args.String(3)
	if err != nil {
		return domain.TransferEvent{}, fmt.Errorf("remark: %w", err)
	}

	return domain.TransferEvent{
		From:        from,
		To:          to,
		Value:       value,
		Timestamp:   ts.Int64(),
		BlockNumber: blockNumber.Int64(),
		Remark:      remark,
		TxHash:      lg.TxHash,
	}, nil
}

// decodeMosaicMintRemark extracts the remark from a MosaicMint(address
// indexed from, address indexed to, uint256 value, uint256 indexed
// tokenId, string remark) log. The other fields are not needed for
// correlation.
func decodeMosaicMintRemark(lg chain.Log) (string, error) {
	args, err := chain.DecodeArgs(lg.Data)
	if err != nil {
		return "", err
	}
	remark, err := args.String(1)
	if err != nil {
		return "", fmt.Errorf("remark: %w", err)
	}
	return remark, nil
}
