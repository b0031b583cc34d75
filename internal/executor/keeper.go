package executor

import (
	"crypto/sha256"
	"fmt"

	"go.uber.org/zap"

	"github.com/dexcore/perpchain/internal/events"
	"github.com/dexcore/perpchain/internal/funding"
	"github.com/dexcore/perpchain/internal/liquidation"
	"github.com/dexcore/perpchain/internal/market"
	"github.com/dexcore/perpchain/internal/types"
)

// Liquidation and funding are keeper-invoked operations, not user
// transactions: they are triggered by an off-chain mark-price/oracle feed
// or a liquidation bot, not by a signed payload in the mempool, so they
// have no tx.Payload variant and no entry in Executor.dispatch.
// internal/rpc exposes them as separate admin endpoints; each still runs
// inside its own begin_block/commit critical section so it advances the
// tree exactly like a transaction would.

// UpdateFunding recomputes the funding rate for one market at the given
// height, persisting the new Rate and emitting FundingRateUpdated.
func (e *Executor) UpdateFunding(height uint64, marketID types.MarketID, mark, oracle, now uint64) (funding.Rate, error) {
	if err := e.store.BeginBlock(height); err != nil {
		return funding.Rate{}, fmt.Errorf("executor: begin funding block %d: %w", height, err)
	}

	mkt, found, err := market.GetMarket(e.store, marketID)
	if err != nil {
		return funding.Rate{}, err
	}
	if !found {
		return funding.Rate{}, fmt.Errorf("%w: market %d", types.ErrUnknownMarket, marketID)
	}

	rate, err := funding.UpdateRate(e.store, mkt, mark, oracle, now)
	if err != nil {
		return funding.Rate{}, err
	}

	buf := events.NewBuffer()
	buf.Emit(events.FundingRateUpdated{Market: marketID, RateBps: rate.CurrentBps, CumulativeIndex: rate.Index})
	if err := events.Flush(e.store, buf, height, keeperTxHash(height, marketID, "funding"), int64(now)); err != nil {
		return funding.Rate{}, fmt.Errorf("executor: flush funding events: %w", err)
	}

	if _, err := e.store.Commit(height); err != nil {
		return funding.Rate{}, fmt.Errorf("executor: commit funding block %d: %w", height, err)
	}
	e.log.Info("funding rate updated",
		zap.Uint64("height", height), zap.Uint32("market", uint32(marketID)),
		zap.Int64("rate_bps", rate.CurrentBps))
	return rate, nil
}

// Liquidate runs the single-position liquidation pipeline against the
// in-memory book for marketID, at the given height.
func (e *Executor) Liquidate(height uint64, marketID types.MarketID, trader types.Address, markPrice uint64, liquidator types.Address, split liquidation.FeeSplit) (*liquidation.Result, error) {
	if err := e.store.BeginBlock(height); err != nil {
		return nil, fmt.Errorf("executor: begin liquidation block %d: %w", height, err)
	}

	mkt, found, err := market.GetMarket(e.store, marketID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: market %d", types.ErrUnknownMarket, marketID)
	}

	result, err := liquidation.Liquidate(e.store, e.book(marketID), mkt, trader, markPrice, liquidator, split)
	if err != nil {
		return nil, err
	}
	if result == nil {
		if _, err := e.store.Commit(height); err != nil {
			return nil, fmt.Errorf("executor: commit no-op liquidation block %d: %w", height, err)
		}
		return nil, nil
	}

	if err := e.flushLiquidationEvent(height, *result); err != nil {
		return nil, err
	}
	if _, err := e.store.Commit(height); err != nil {
		return nil, fmt.Errorf("executor: commit liquidation block %d: %w", height, err)
	}
	e.log.Info("position liquidated",
		zap.Uint64("height", height), zap.Uint32("market", uint32(marketID)),
		zap.String("trader", trader.Hex()), zap.Uint64("size", result.LiquidatedSize))
	return result, nil
}

// ProcessLiquidationBatch walks the risk index, liquidating up to
// maxLiquidations at-risk candidates.
func (e *Executor) ProcessLiquidationBatch(height uint64, marketID types.MarketID, markPrice uint64, liquidator types.Address, split liquidation.FeeSplit, maxLiquidations int) ([]liquidation.Result, error) {
	if err := e.store.BeginBlock(height); err != nil {
		return nil, fmt.Errorf("executor: begin liquidation batch %d: %w", height, err)
	}

	mkt, found, err := market.GetMarket(e.store, marketID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: market %d", types.ErrUnknownMarket, marketID)
	}

	results, err := liquidation.ProcessBatch(e.store, e.book(marketID), mkt, markPrice, liquidator, split, maxLiquidations)
	if err != nil {
		return results, err
	}
	for _, result := range results {
		if err := e.flushLiquidationEvent(height, result); err != nil {
			return results, err
		}
	}
	if _, err := e.store.Commit(height); err != nil {
		return results, fmt.Errorf("executor: commit liquidation batch %d: %w", height, err)
	}
	e.log.Info("liquidation batch processed",
		zap.Uint64("height", height), zap.Uint32("market", uint32(marketID)), zap.Int("count", len(results)))
	return results, nil
}

func (e *Executor) flushLiquidationEvent(height uint64, result liquidation.Result) error {
	buf := events.NewBuffer()
	buf.Emit(events.PositionLiquidated{
		Owner:                     result.Trader,
		Market:                    result.Market,
		Liquidator:                result.Liquidator,
		LiquidatedSize:            result.LiquidatedSize,
		LiquidationPrice:          result.LiquidationPrice,
		LiquidationFee:            result.LiquidationFee,
		RemainingEquity:           result.RemainingEquity,
		InsuranceFundContribution: result.InsuranceFundContribution,
		InsuranceFundUsage:        result.InsuranceFundUsage,
	}, result.Trader, result.Liquidator)
	return events.Flush(e.store, buf, height, keeperTxHash(height, result.Market, "liquidation:"+result.Trader.Hex()), 0)
}

// keeperTxHash fabricates a stable, unique "tx hash" slot for events.Flush's
// by-hash index, since keeper operations have no signed transaction of
// their own to hash. label must be unique per keeper call within a block
// (e.g. include the affected trader's address for a liquidation batch)
// so concurrent results in the same block don't collide in the index.
func keeperTxHash(height uint64, marketID types.MarketID, label string) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("keeper:%s:%d:%d", label, height, marketID)))
}
