// Package rpc is the thin REST/WebSocket translation layer sitting in
// front of internal/executor, internal/mempool, and internal/state. It
// exposes the block-execution RPC (consensus -> core) contract as plain
// JSON-over-HTTP endpoints, a read-only REST surface for
// markets/accounts/positions/orderbook, and a WebSocket fan-out for committed
// blocks, funding updates, and liquidations, using gorilla/mux for routing, rs/cors
// for CORS, and gorilla/websocket for the fan-out hub.
package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/dexcore/perpchain/internal/account"
	"github.com/dexcore/perpchain/internal/executor"
	"github.com/dexcore/perpchain/internal/market"
	"github.com/dexcore/perpchain/internal/mempool"
	"github.com/dexcore/perpchain/internal/position"
	"github.com/dexcore/perpchain/internal/state"
	"github.com/dexcore/perpchain/internal/tx"
	"github.com/dexcore/perpchain/internal/types"
)

// DefaultDepth is the number of price levels a REST orderbook snapshot
// reports on each side when the caller doesn't specify one.
const DefaultDepth = 20

// Server wires the store, executor, and mempool into an HTTP surface.
type Server struct {
	store *state.Store
	exec  *executor.Executor
	pool  *mempool.Mempool
	log   *zap.Logger

	router *mux.Router
	hub    *Hub
}

// New builds a Server. log may be nil, matching internal/executor's own
// nilable-logger convention.
func New(store *state.Store, exec *executor.Executor, pool *mempool.Mempool, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{store: store, exec: exec, pool: pool, log: log, router: mux.NewRouter(), hub: NewHub()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleListMarkets).Methods("GET")
	api.HandleFunc("/markets/{id}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{id}/orderbook", s.handleGetOrderbook).Methods("GET")

	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/positions", s.handleGetPositions).Methods("GET")

	api.HandleFunc("/chain/status", s.handleChainStatus).Methods("GET")
	api.HandleFunc("/transactions", s.handleSubmitTx).Methods("POST")

	// Block execution RPC.
	block := s.router.PathPrefix("/block").Subrouter()
	block.HandleFunc("/init_chain", s.handleInitChain).Methods("POST")
	block.HandleFunc("/get_txs", s.handleGetTxs).Methods("GET")
	block.HandleFunc("/execute_txs", s.handleExecuteTxs).Methods("POST")
	block.HandleFunc("/set_final", s.handleSetFinal).Methods("POST")

	// Keeper-invoked risk operations, triggered by an off-chain
	// mark-price/oracle feed or a liquidation bot rather than a mempool
	// transaction.
	keeper := s.router.PathPrefix("/keeper").Subrouter()
	keeper.HandleFunc("/update_funding", s.handleUpdateFunding).Methods("POST")
	keeper.HandleFunc("/liquidate", s.handleLiquidate).Methods("POST")
	keeper.HandleFunc("/liquidate_batch", s.handleLiquidationBatch).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"})
	}).Methods("GET")
}

// Start begins serving addr. The WebSocket hub's broadcast loop runs in its
// own goroutine for the lifetime of the server.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	s.log.Info("rpc server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) Handler() http.Handler { return s.router }

// ---- REST read handlers ----

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := market.ListMarkets(s.store)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]MarketInfo, len(markets))
	for i, m := range markets {
		out[i] = marketInfo(m)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDFromVars(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	m, found, err := market.GetMarket(s.store, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, types.ErrUnknownMarket)
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDFromVars(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	depth := DefaultDepth
	if q := r.URL.Query().Get("depth"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			depth = n
		}
	}
	bids, asks := s.exec.BookLevels(id, depth)
	snap := OrderbookSnapshot{Market: int64(id)}
	for _, l := range bids {
		snap.Bids = append(snap.Bids, PriceLevel{Price: l.Price, Size: l.Size})
	}
	for _, l := range asks {
		snap.Asks = append(snap.Asks, PriceLevel{Price: l.Price, Size: l.Size})
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, types.ErrTxMalformed)
		return
	}
	addr := common.HexToAddress(vars["address"])
	assetID, err := strconv.ParseUint(vars["asset"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := account.GetBalance(s.store, addr, types.AssetID(assetID))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	nonce, err := account.GetNonce(s.store, addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, AccountInfo{Address: addr.Hex(), Asset: uint32(assetID), Balance: balance.String(), Nonce: nonce})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, types.ErrTxMalformed)
		return
	}
	addr := common.HexToAddress(vars["address"])

	markets, err := market.ListMarkets(s.store)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	var out []PositionInfo
	for _, m := range markets {
		p, found, err := position.Get(s.store, addr, m.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if !found || p.Size == 0 {
			continue
		}
		out = append(out, PositionInfo{
			Owner:      addr.Hex(),
			Market:     uint32(p.Market),
			Side:       p.Side.String(),
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			Margin:     p.Margin.String(),
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleChainStatus(w http.ResponseWriter, r *http.Request) {
	height, root := s.store.Head()
	respondJSON(w, ChainStatus{
		Height:      height,
		StateRoot:   hex.EncodeToString(root[:]),
		MempoolSize: s.pool.Len(),
	})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var req SubmitTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := hex.DecodeString(req.Raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	t, err := tx.Decode(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	hash, err := s.pool.Add(t)
	if err != nil {
		respondError(w, http.StatusConflict, err)
		return
	}
	respondJSON(w, SubmitTxResponse{Hash: hex.EncodeToString(hash[:])})
}

func marketInfo(m market.Market) MarketInfo {
	return MarketInfo{
		ID: uint32(m.ID), Symbol: m.Symbol, BaseAsset: uint32(m.BaseAsset), QuoteAsset: uint32(m.QuoteAsset),
		TickSize: m.TickSize, MinOrderSize: m.MinOrderSize, MaxOrderSize: m.MaxOrderSize, MaxLeverage: m.MaxLeverage,
		InitialMarginBps: m.InitialMarginBps, MaintenanceMarginBps: m.MaintenanceMarginBps,
		LiquidationFeeBps: m.LiquidationFeeBps, FundingIntervalSecs: m.FundingIntervalSecs,
	}
}

func marketIDFromVars(r *http.Request) (types.MarketID, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		return 0, err
	}
	return types.MarketID(id), nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}
