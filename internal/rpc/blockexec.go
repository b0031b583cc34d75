package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dexcore/perpchain/internal/tx"
)

// handleInitChain answers init_chain(chain_id, initial_height) with the
// current state_root and max_bytes. The store has already recovered its
// committed head by the time the server starts (internal/state.Open does
// this), so this handler is a read of that head plus the engine's fixed
// transaction size cap rather than a first-time genesis step.
func (s *Server) handleInitChain(w http.ResponseWriter, r *http.Request) {
	var req InitChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	_, root := s.store.Head()
	s.log.Info("init_chain", zap.String("chainId", req.ChainID), zap.Uint64("initialHeight", req.InitialHeight))
	respondJSON(w, InitChainResponse{StateRoot: hex.EncodeToString(root[:]), MaxBytes: tx.MaxEncodedSize})
}

// handleGetTxs answers get_txs() -> [bytes]: up to 1 MB of ready
// transactions, per-sender nonce-ordered, pulled straight from the
// mempool.
func (s *Server) handleGetTxs(w http.ResponseWriter, r *http.Request) {
	const maxBytes = 1 << 20
	raws := s.pool.ReadyTxs(0)

	out := make([]string, 0, len(raws))
	total := 0
	for _, raw := range raws {
		if total+len(raw) > maxBytes {
			break
		}
		total += len(raw)
		out = append(out, hex.EncodeToString(raw))
	}
	respondJSON(w, GetTxsResponse{Txs: out})
}

// handleExecuteTxs answers execute_txs(height, [bytes]) -> state_root:
// sequential execution via internal/executor, returning the post-commit
// root. The executor removes each successfully applied transaction from the
// mempool by hash; this handler prunes nothing, so a failed transaction
// stays in the mempool.
func (s *Server) handleExecuteTxs(w http.ResponseWriter, r *http.Request) {
	var req ExecuteTxsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	raws := make([][]byte, 0, len(req.Txs))
	for _, hexTx := range req.Txs {
		raw, err := hex.DecodeString(hexTx)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		raws = append(raws, raw)
	}

	root, outcomes, err := s.exec.ExecuteBlock(req.Height, req.Timestamp, raws)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	results := make([]TxResult, len(outcomes))
	for i, o := range outcomes {
		results[i] = TxResult{Hash: hex.EncodeToString(o.Hash[:])}
		if o.Err != nil {
			results[i].Error = o.Err.Error()
		}
	}
	s.hub.BroadcastToChannel("blocks", map[string]any{
		"type":   "block",
		"height": req.Height,
		"root":   hex.EncodeToString(root[:]),
	})
	respondJSON(w, ExecuteTxsResponse{StateRoot: hex.EncodeToString(root[:]), Results: results})
}

// handleSetFinal answers set_final(height): informational only. It logs the
// height and returns ok; it prunes no historical versions and triggers no
// snapshot.
func (s *Server) handleSetFinal(w http.ResponseWriter, r *http.Request) {
	var req SetFinalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	s.log.Info("set_final", zap.Uint64("height", req.Height))
	respondJSON(w, map[string]string{"status": "ok"})
}
