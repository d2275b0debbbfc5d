package api

// API request/response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// RegisterRequest adds the caller to the referral tree.
// Referrer may be empty for "no referrer".
type RegisterRequest struct {
	Caller   string `json:"caller"`
	Referrer string `json:"referrer,omitempty"`
}

type BuyRequest struct {
	Caller string `json:"caller"`
	Paid   int64  `json:"paid"`
}

type AddOrderRequest struct {
	Caller   string `json:"caller"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type RemoveOrderRequest struct {
	Caller   string `json:"caller"`
	Quantity int64  `json:"quantity"` // 0 = full remainder
}

type RedeemOrderRequest struct {
	Caller string `json:"caller"`
	Paid   int64  `json:"paid"`
}

type StakeRequest struct {
	Caller string   `json:"caller"`
	Amount int64    `json:"amount"`
	Proof  []string `json:"proof"` // hex-encoded sibling hashes
}

type CallerRequest struct {
	Caller string `json:"caller"`
}

// AddProposalRequest carries one tagged administrative action.
type AddProposalRequest struct {
	Caller      string `json:"caller"`
	Kind        string `json:"kind"` // action kind, e.g. "set_unstake_timeout"
	Amount      int64  `json:"amount,omitempty"`
	Addr        string `json:"addr,omitempty"`
	Root        string `json:"root,omitempty"`
	Target      string `json:"target"`
	Description string `json:"description"`
}

type VoteRequest struct {
	Caller  string `json:"caller"`
	Support bool   `json:"support"`
}

// ==============================
// REST Response Types
// ==============================

// RoundInfo represents the engine's current phase
type RoundInfo struct {
	Kind        string `json:"kind"`     // "none", "sale", "trade"
	Start       int64  `json:"start"`    // Unix seconds, 0 when no round ran
	Duration    int64  `json:"duration"` // seconds
	Price       int64  `json:"price"`
	SaleEscrow  int64  `json:"saleEscrow"`
	TradeVolume int64  `json:"tradeVolume"`
	Retained    int64  `json:"retained"`
}

// OrderInfo represents a trade-round order
type OrderInfo struct {
	ID        int64  `json:"id"`
	Seller    string `json:"seller"`
	Price     int64  `json:"price"`
	Remaining int64  `json:"remaining"`
	Open      bool   `json:"open"`
}

// ParticipantInfo represents a registration and its referral edge
type ParticipantInfo struct {
	Address  string `json:"address"`
	Referrer string `json:"referrer,omitempty"`
}

// StakeInfo represents a staking position
type StakeInfo struct {
	Address    string `json:"address"`
	Amount     int64  `json:"amount"`
	StakedAt   int64  `json:"stakedAt"`   // Unix seconds
	RewardMark int64  `json:"rewardMark"` // Unix seconds
}

type StakingConfigInfo struct {
	UnstakeTimeoutSec int64  `json:"unstakeTimeoutSec"`
	WhitelistRoot     string `json:"whitelistRoot"`
}

// ProposalInfo represents a governance proposal
type ProposalInfo struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	Target       string `json:"target"`
	Description  string `json:"description"`
	VotesFor     int64  `json:"votesFor"`
	VotesAgainst int64  `json:"votesAgainst"`
	Start        int64  `json:"start"` // Unix seconds
	Done         bool   `json:"done"`
}

type GovernanceConfigInfo struct {
	Chair             string `json:"chair"`
	MinimumQuorum     int64  `json:"minimumQuorum"`
	DebateDurationSec int64  `json:"debateDurationSec"`
	ProposalCount     int64  `json:"proposalCount"`
}

// ErrorResponse is the uniform error envelope
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest is a client subscription request
// Channels: "rounds", "orders", "proposals", "staking"
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent is a broadcast platform event
type WSEvent struct {
	Channel string      `json:"channel"`
	Type    string      `json:"type"` // e.g. "sale_round_started", "order_redeemed"
	Data    interface{} `json:"data"`
}
