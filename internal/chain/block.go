package chain

import (
	"context"
	"time"

	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// waitMined 轮询回执直到交易上链，超时视为不可达
func (g *Gateway) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.SubmitTimeout)
	defer cancel()

	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, ledger.Rejected("reverted", hash.Hex())
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			logger.Debug("Receipt lookup for %s failed: %v", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ledger.ErrUnreachable, "transaction %s not mined: %v", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
