package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Platform holds the sale/trade engine parameters.
// All amounts are int64 base units of their asset; prices are settlement
// units per whole sale-asset unit.
type Platform struct {
	RoundDuration   time.Duration
	StartPrice      int64 // first sale round unit price
	PriceIncrement  int64 // additive step of the price bump between cycles
	PriceGrowthBps  int64 // multiplicative step, 10300 = ×1.03
	BootstrapVolume int64 // stands in for trade volume before the first round
	SaleRef1Bps     int64 // first-level referrer share of a sale payment
	SaleRef2Bps     int64 // second-level referrer share of a sale payment
	TradeRefBps     int64 // per-level referrer share of a trade payment; the rest goes to the seller
}

type Staking struct {
	UnstakeTimeout time.Duration // withdrawal cooldown
	RewardPeriod   time.Duration // reward accrual granularity
	RewardRateBps  int64         // reward per full period, in bps of the stake
}

type Governance struct {
	Chair          common.Address
	MinimumQuorum  int64
	DebateDuration time.Duration
}

type Node struct {
	DataDir    string
	ListenAddr string
	Owner      common.Address // operator key: one-time bindings only
	Whitelist  []string       // staking whitelist, hex addresses
}

type Config struct {
	Platform   Platform
	Staking    Staking
	Governance Governance
	Node       Node
}

func Default() Config {
	return Config{
		Platform: Platform{
			RoundDuration:   3 * 24 * time.Hour,
			StartPrice:      10_000,
			PriceIncrement:  4_000,
			PriceGrowthBps:  10_300,
			BootstrapVolume: 1_000_000_000,
			SaleRef1Bps:     500,
			SaleRef2Bps:     300,
			TradeRefBps:     250,
		},
		Staking: Staking{
			UnstakeTimeout: 1200 * time.Second,
			RewardPeriod:   7 * 24 * time.Hour,
			RewardRateBps:  300,
		},
		Governance: Governance{
			MinimumQuorum:  100,
			DebateDuration: 3 * 24 * time.Hour,
		},
		Node: Node{
			DataDir:    "./data",
			ListenAddr: ":8080",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("ROUND_DURATION_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Platform.RoundDuration = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("START_PRICE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Platform.StartPrice = n
		}
	}
	if v := os.Getenv("PRICE_INCREMENT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Platform.PriceIncrement = n
		}
	}
	if v := os.Getenv("BOOTSTRAP_VOLUME"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Platform.BootstrapVolume = n
		}
	}

	if v := os.Getenv("UNSTAKE_TIMEOUT_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Staking.UnstakeTimeout = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("REWARD_RATE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Staking.RewardRateBps = n
		}
	}

	if v := os.Getenv("GOV_CHAIR"); v != "" && common.IsHexAddress(v) {
		cfg.Governance.Chair = common.HexToAddress(v)
	}
	if v := os.Getenv("GOV_MINIMUM_QUORUM"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Governance.MinimumQuorum = n
		}
	}
	if v := os.Getenv("GOV_DEBATE_DURATION_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Governance.DebateDuration = time.Duration(sec) * time.Second
		}
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("NODE_OWNER"); v != "" && common.IsHexAddress(v) {
		cfg.Node.Owner = common.HexToAddress(v)
	}
	if v := os.Getenv("STAKING_WHITELIST"); v != "" {
		// Example: "0xAA..,0xBB.."
		cfg.Node.Whitelist = strings.Split(v, ",")
	}

	return cfg
}
