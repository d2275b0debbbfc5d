package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/keskad/tokenfair/pkg/governance"
	"github.com/keskad/tokenfair/pkg/platform"
	"github.com/keskad/tokenfair/pkg/staking"
)

// Server exposes one route per platform operation plus query endpoints and
// a WebSocket event feed. Callers are identified by the address field in
// the request body; authentication is left to the deployment's proxy.
type Server struct {
	engine *platform.Engine
	stakes *staking.Ledger
	gov    *governance.Engine
	router *mux.Router
	hub    *Hub
}

// NewServer creates a new API server
func NewServer(engine *platform.Engine, stakes *staking.Ledger, gov *governance.Engine) *Server {
	s := &Server{
		engine: engine,
		stakes: stakes,
		gov:    gov,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Sale/exchange engine
	api.HandleFunc("/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/rounds/sale", s.handleStartSaleRound).Methods("POST")
	api.HandleFunc("/rounds/trade", s.handleStartTradeRound).Methods("POST")
	api.HandleFunc("/round", s.handleGetRound).Methods("GET")
	api.HandleFunc("/buy", s.handleBuy).Methods("POST")
	api.HandleFunc("/orders", s.handleAddOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/remove", s.handleRemoveOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/redeem", s.handleRedeemOrder).Methods("POST")
	api.HandleFunc("/participants/{address}", s.handleGetParticipant).Methods("GET")

	// Staking ledger
	api.HandleFunc("/staking/stake", s.handleStake).Methods("POST")
	api.HandleFunc("/staking/unstake", s.handleUnstake).Methods("POST")
	api.HandleFunc("/staking/claim", s.handleClaim).Methods("POST")
	api.HandleFunc("/staking/config", s.handleGetStakingConfig).Methods("GET")
	api.HandleFunc("/staking/{address}", s.handleGetStake).Methods("GET")

	// Governance
	api.HandleFunc("/proposals", s.handleAddProposal).Methods("POST")
	api.HandleFunc("/proposals/{id:[0-9]+}", s.handleGetProposal).Methods("GET")
	api.HandleFunc("/proposals/{id:[0-9]+}/vote", s.handleVote).Methods("POST")
	api.HandleFunc("/proposals/{id:[0-9]+}/finish", s.handleFinishProposal).Methods("POST")
	api.HandleFunc("/governance/config", s.handleGetGovernanceConfig).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Engine handlers
// ==============================

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	var referrer common.Address
	if req.Referrer != "" {
		if referrer, ok = parseAddress(w, req.Referrer); !ok {
			return
		}
	}

	if err := s.engine.Register(caller, referrer); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "registered"})
}

func (s *Server) handleStartSaleRound(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartSaleRound(); err != nil {
		respondOpError(w, err)
		return
	}
	s.hub.Broadcast("rounds", "sale_round_started", s.roundInfo())
	respondJSON(w, s.roundInfo())
}

func (s *Server) handleStartTradeRound(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartTradeRound(); err != nil {
		respondOpError(w, err)
		return
	}
	s.hub.Broadcast("rounds", "trade_round_started", s.roundInfo())
	respondJSON(w, s.roundInfo())
}

func (s *Server) roundInfo() RoundInfo {
	round := s.engine.CurrentRound()
	info := RoundInfo{
		Kind:        round.Kind.String(),
		Duration:    int64(round.Duration.Seconds()),
		Price:       s.engine.Price(),
		SaleEscrow:  s.engine.SaleEscrow(),
		TradeVolume: s.engine.TradeVolume(),
		Retained:    s.engine.Retained(),
	}
	if round.Kind != platform.RoundNone {
		info.Start = round.Start.Unix()
	}
	return info
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.roundInfo())
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	quantity, err := s.engine.Buy(caller, req.Paid)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]int64{"quantity": quantity})
}

func (s *Server) handleAddOrder(w http.ResponseWriter, r *http.Request) {
	var req AddOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	id, err := s.engine.AddOrder(caller, req.Price, req.Quantity)
	if err != nil {
		respondOpError(w, err)
		return
	}
	order, _ := s.engine.OrderInfo(id)
	s.hub.Broadcast("orders", "order_added", orderInfo(order))
	respondJSON(w, map[string]int64{"id": id})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.Orders()
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	order, err := s.engine.OrderInfo(id)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, orderInfo(order))
}

func (s *Server) handleRemoveOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req RemoveOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	if err := s.engine.RemoveOrder(caller, id, req.Quantity); err != nil {
		respondOpError(w, err)
		return
	}
	order, _ := s.engine.OrderInfo(id)
	s.hub.Broadcast("orders", "order_removed", orderInfo(order))
	respondJSON(w, map[string]string{"status": "removed"})
}

func (s *Server) handleRedeemOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req RedeemOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	quantity, err := s.engine.RedeemOrder(caller, id, req.Paid)
	if err != nil {
		respondOpError(w, err)
		return
	}
	order, _ := s.engine.OrderInfo(id)
	s.hub.Broadcast("orders", "order_redeemed", orderInfo(order))
	respondJSON(w, map[string]int64{"quantity": quantity})
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	info, found := s.engine.ParticipantInfo(addr)
	if !found {
		respondError(w, http.StatusNotFound, "participant not registered", "")
		return
	}
	response := ParticipantInfo{Address: info.Addr.Hex()}
	if info.Referrer != (common.Address{}) {
		response.Referrer = info.Referrer.Hex()
	}
	respondJSON(w, response)
}

// ==============================
// Staking handlers
// ==============================

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	proof := make([]common.Hash, len(req.Proof))
	for i, h := range req.Proof {
		proof[i] = common.HexToHash(h)
	}

	if err := s.stakes.Stake(caller, req.Amount, proof); err != nil {
		respondOpError(w, err)
		return
	}
	s.hub.Broadcast("staking", "staked", map[string]interface{}{"staker": caller.Hex(), "amount": req.Amount})
	respondJSON(w, map[string]string{"status": "staked"})
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	if err := s.stakes.Unstake(caller); err != nil {
		respondOpError(w, err)
		return
	}
	s.hub.Broadcast("staking", "unstaked", map[string]string{"staker": caller.Hex()})
	respondJSON(w, map[string]string{"status": "unstaked"})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	payout, err := s.stakes.Claim(caller)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]int64{"payout": payout})
}

func (s *Server) handleGetStake(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	pos, found := s.stakes.PositionOf(addr)
	if !found {
		respondError(w, http.StatusNotFound, "no staking position", "")
		return
	}
	respondJSON(w, StakeInfo{
		Address:    addr.Hex(),
		Amount:     pos.Amount,
		StakedAt:   pos.StakedAt.Unix(),
		RewardMark: pos.RewardMark.Unix(),
	})
}

func (s *Server) handleGetStakingConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StakingConfigInfo{
		UnstakeTimeoutSec: int64(s.stakes.UnstakeTimeout().Seconds()),
		WhitelistRoot:     s.stakes.WhitelistRoot().Hex(),
	})
}

// ==============================
// Governance handlers
// ==============================

func (s *Server) handleAddProposal(w http.ResponseWriter, r *http.Request) {
	var req AddProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}
	target, ok := parseAddress(w, req.Target)
	if !ok {
		return
	}
	kind, ok := parseActionKind(w, req.Kind)
	if !ok {
		return
	}
	action := governance.Action{Kind: kind, Amount: req.Amount}
	if req.Addr != "" {
		if action.Addr, ok = parseAddress(w, req.Addr); !ok {
			return
		}
	}
	if req.Root != "" {
		action.Root = common.HexToHash(req.Root)
	}

	id, err := s.gov.AddProposal(caller, action, target, req.Description)
	if err != nil {
		respondOpError(w, err)
		return
	}
	p, _ := s.gov.ProposalInfo(id)
	s.hub.Broadcast("proposals", "proposal_added", proposalInfo(p))
	respondJSON(w, map[string]int64{"id": id})
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := s.gov.ProposalInfo(id)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, proposalInfo(p))
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller)
	if !ok {
		return
	}

	if err := s.gov.Vote(caller, id, req.Support); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "voted"})
}

func (s *Server) handleFinishProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.gov.FinishProposal(id); err != nil {
		respondOpError(w, err)
		return
	}
	p, _ := s.gov.ProposalInfo(id)
	s.hub.Broadcast("proposals", "proposal_finished", proposalInfo(p))
	respondJSON(w, proposalInfo(p))
}

func (s *Server) handleGetGovernanceConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, GovernanceConfigInfo{
		Chair:             s.gov.Chair().Hex(),
		MinimumQuorum:     s.gov.MinimumQuorum(),
		DebateDurationSec: int64(s.gov.DebateDuration().Seconds()),
		ProposalCount:     s.gov.ProposalCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func orderInfo(o platform.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Seller:    o.Seller.Hex(),
		Price:     o.Price,
		Remaining: o.Remaining,
		Open:      o.Open,
	}
}

func proposalInfo(p governance.Proposal) ProposalInfo {
	return ProposalInfo{
		ID:           p.ID,
		Kind:         p.Action.Kind.String(),
		Target:       p.Target.Hex(),
		Description:  p.Description,
		VotesFor:     p.VotesFor,
		VotesAgainst: p.VotesAgainst,
		Start:        p.Start.Unix(),
		Done:         p.Done,
	}
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", mux.Vars(r)["id"])
		return 0, false
	}
	return id, true
}

var actionKinds = map[string]governance.ActionKind{
	"set_minimum_quorum":  governance.ActionSetMinimumQuorum,
	"set_debate_duration": governance.ActionSetDebateDuration,
	"set_unstake_timeout": governance.ActionSetUnstakeTimeout,
	"set_whitelist_root":  governance.ActionSetWhitelistRoot,
	"send_commission":     governance.ActionSendCommission,
	"burn_retained":       governance.ActionBurnRetained,
}

func parseActionKind(w http.ResponseWriter, s string) (governance.ActionKind, bool) {
	kind, ok := actionKinds[s]
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown action kind", s)
		return 0, false
	}
	return kind, true
}

// respondOpError maps component errors onto HTTP statuses by taxonomy:
// authorization 403, unknown entity 404, everything else (state, resource,
// validation) 409 with the precondition in the message.
func respondOpError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	switch {
	case errors.Is(err, platform.ErrUnauthorized),
		errors.Is(err, platform.ErrNotOwner),
		errors.Is(err, staking.ErrUnauthorized),
		errors.Is(err, governance.ErrNotChair),
		errors.Is(err, governance.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, platform.ErrNoSuchOrder),
		errors.Is(err, governance.ErrNoSuchProposal):
		status = http.StatusNotFound
	}
	respondError(w, status, "operation rejected", err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
