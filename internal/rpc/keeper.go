package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexcore/perpchain/internal/liquidation"
	"github.com/dexcore/perpchain/internal/types"
)

// handleUpdateFunding recomputes and persists the funding rate for one
// market, given an externally-sourced mark/oracle price pair.
func (s *Server) handleUpdateFunding(w http.ResponseWriter, r *http.Request) {
	var req UpdateFundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := s.exec.UpdateFunding(req.Height, types.MarketID(req.Market), req.Mark, req.Oracle, req.Now)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	s.hub.BroadcastToChannel("funding", map[string]interface{}{
		"market": req.Market, "rateBps": rate.CurrentBps, "height": req.Height,
	})
	respondJSON(w, UpdateFundingResponse{RateBps: rate.CurrentBps, CumulativeIndex: rate.Index.String()})
}

// handleLiquidate runs the single-position liquidation pipeline.
func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(req.Trader) || !common.IsHexAddress(req.Liquidator) {
		respondError(w, http.StatusBadRequest, types.ErrTxMalformed)
		return
	}

	result, err := s.exec.Liquidate(req.Height, types.MarketID(req.Market),
		common.HexToAddress(req.Trader), req.MarkPrice, common.HexToAddress(req.Liquidator), liquidation.DefaultFeeSplit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	resp := LiquidateResponse{}
	if result != nil {
		dto := liquidationResultDTO(*result)
		resp.Result = &dto
		s.hub.BroadcastToChannel("liquidations", dto)
	}
	respondJSON(w, resp)
}

// handleLiquidationBatch runs the batch liquidation path against the
// per-market risk index.
func (s *Server) handleLiquidationBatch(w http.ResponseWriter, r *http.Request) {
	var req LiquidationBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(req.Liquidator) {
		respondError(w, http.StatusBadRequest, types.ErrTxMalformed)
		return
	}
	maxLiquidations := req.MaxLiquidations
	if maxLiquidations <= 0 {
		maxLiquidations = 10
	}

	results, err := s.exec.ProcessLiquidationBatch(req.Height, types.MarketID(req.Market),
		req.MarkPrice, common.HexToAddress(req.Liquidator), liquidation.DefaultFeeSplit, maxLiquidations)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	out := make([]LiquidationResultDTO, len(results))
	for i, result := range results {
		out[i] = liquidationResultDTO(result)
	}
	if len(out) > 0 {
		s.hub.BroadcastToChannel("liquidations", out)
	}
	respondJSON(w, LiquidationBatchResponse{Results: out})
}

func liquidationResultDTO(r liquidation.Result) LiquidationResultDTO {
	return LiquidationResultDTO{
		Trader:                    r.Trader.Hex(),
		Market:                    uint32(r.Market),
		LiquidatedSize:            r.LiquidatedSize,
		LiquidationPrice:          r.LiquidationPrice,
		LiquidationFee:            r.LiquidationFee.String(),
		RemainingEquity:           r.RemainingEquity.String(),
		Liquidator:                r.Liquidator.Hex(),
		LiquidatorReward:          r.LiquidatorReward.String(),
		InsuranceFundContribution: r.InsuranceFundContribution.String(),
		InsuranceFundUsage:        r.InsuranceFundUsage.String(),
	}
}
