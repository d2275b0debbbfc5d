package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/keskad/tokenfair/params"
	"github.com/keskad/tokenfair/pkg/api"
	"github.com/keskad/tokenfair/pkg/crypto"
	"github.com/keskad/tokenfair/pkg/governance"
	"github.com/keskad/tokenfair/pkg/platform"
	"github.com/keskad/tokenfair/pkg/staking"
	"github.com/keskad/tokenfair/pkg/token"
	"github.com/keskad/tokenfair/pkg/util"
)

// Module account addresses. Components hold and move tokens under these
// identities; they are fixed so balances survive restarts.
var (
	platformAddr = common.BytesToAddress([]byte("tokenfair.platform"))
	stakingAddr  = common.BytesToAddress([]byte("tokenfair.staking"))
	daoAddr      = common.BytesToAddress([]byte("tokenfair.dao"))
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/platformd.log"
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Token ledgers (one pebble store, four symbols) ----
	store, err := token.NewStore(cfg.Node.DataDir + "/tokens")
	if err != nil {
		sugar.Fatalw("token_store_open_failed", "err", err)
	}
	defer store.Close()

	saleTok, err := token.NewPersistentLedger("SALE", 6, store)
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "symbol", "SALE", "err", err)
	}
	settleTok, err := token.NewPersistentLedger("STL", 6, store)
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "symbol", "STL", "err", err)
	}
	stakeTok, err := token.NewPersistentLedger("STK", 18, store)
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "symbol", "STK", "err", err)
	}
	rewardTok, err := token.NewPersistentLedger("RWD", 18, store)
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "symbol", "RWD", "err", err)
	}

	// The sale engine mints and burns its own asset; the operator controls
	// the rest (settlement faucet, stake distribution, reward pool funding).
	for _, b := range []struct {
		ledger     *token.Ledger
		controller common.Address
	}{
		{saleTok, platformAddr},
		{settleTok, cfg.Node.Owner},
		{stakeTok, cfg.Node.Owner},
		{rewardTok, cfg.Node.Owner},
	} {
		if err := b.ledger.BindController(b.controller); err != nil {
			sugar.Fatalw("controller_bind_failed", "symbol", b.ledger.Symbol(), "err", err)
		}
	}

	// ---- Staking whitelist ----
	var whitelist []common.Address
	for _, s := range cfg.Node.Whitelist {
		if !common.IsHexAddress(s) {
			sugar.Fatalw("bad_whitelist_entry", "addr", s)
		}
		whitelist = append(whitelist, common.HexToAddress(s))
	}
	tree := crypto.NewMerkleTree(whitelist)
	sugar.Infow("whitelist_loaded", "size", len(whitelist), "root", tree.Root().Hex())

	clock := util.RealClock{}

	// ---- Staking ledger ----
	stakes := staking.NewLedger(logger, clock, stakingAddr, cfg.Node.Owner, stakeTok, rewardTok, tree.Root(), cfg.Staking)

	// ---- Governance ----
	govCfg := cfg.Governance
	if govCfg.Chair == (common.Address{}) {
		govCfg.Chair = cfg.Node.Owner
	}
	gov := governance.NewEngine(logger, clock, daoAddr, govCfg, stakes)

	if err := stakes.InitDAO(cfg.Node.Owner, gov.Address(), gov); err != nil {
		sugar.Fatalw("dao_bind_failed", "err", err)
	}

	// ---- Sale/exchange engine ----
	engine := platform.NewEngine(logger, clock, platformAddr, gov.Address(), saleTok, settleTok, cfg.Platform)

	gov.RegisterTarget(stakes.Address(), stakes)
	gov.RegisterTarget(engine.Address(), engine)

	// Dev faucet: FAUCET_AMOUNT=N mints settlement and stake tokens to every
	// whitelisted address and the same amount into the reward pool.
	if v := os.Getenv("FAUCET_AMOUNT"); v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil || amount <= 0 {
			sugar.Fatalw("bad_faucet_amount", "value", v)
		}
		for _, addr := range whitelist {
			if err := settleTok.Mint(cfg.Node.Owner, addr, amount); err != nil {
				sugar.Fatalw("faucet_mint_failed", "symbol", "STL", "err", err)
			}
			if err := stakeTok.Mint(cfg.Node.Owner, addr, amount); err != nil {
				sugar.Fatalw("faucet_mint_failed", "symbol", "STK", "err", err)
			}
		}
		if err := rewardTok.Mint(cfg.Node.Owner, stakingAddr, amount); err != nil {
			sugar.Fatalw("faucet_mint_failed", "symbol", "RWD", "err", err)
		}
		sugar.Infow("faucet_minted", "recipients", len(whitelist), "amount", amount)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(engine, stakes, gov)

	sugar.Infow("platformd_starting",
		"listen", cfg.Node.ListenAddr,
		"chair", govCfg.Chair.Hex(),
		"owner", cfg.Node.Owner.Hex(),
		"start_price", cfg.Platform.StartPrice)

	go func() {
		if err := apiServer.Start(cfg.Node.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}
