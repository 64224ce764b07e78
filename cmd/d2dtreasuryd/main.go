package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"d2dtreasury/config"
	"d2dtreasury/core/events"
	"d2dtreasury/native/deploy"
	"d2dtreasury/native/treasury"
	"d2dtreasury/observability/logging"
	"d2dtreasury/service"
	"d2dtreasury/state"
	"d2dtreasury/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to daemon config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("d2dtreasuryd", "", "info").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("d2dtreasuryd", cfg.Env, cfg.LogLevel)

	admin, err := cfg.Treasury.AdminAddress()
	if err != nil {
		logger.Error("parse admin address", "error", err)
		os.Exit(1)
	}
	devWallet, err := cfg.Treasury.DevWalletAddress()
	if err != nil {
		logger.Error("parse dev wallet address", "error", err)
		os.Exit(1)
	}
	reserveMin, err := cfg.Treasury.ReserveMin()
	if err != nil {
		logger.Error("parse reserve minimum", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	emitter := events.NewLogEmitter(logger)

	vault := custodyAddress("vault")
	rewardPool := custodyAddress("rewardPool")
	platformPool := custodyAddress("platformPool")

	treasuryEngine := treasury.NewEngine()
	treasuryEngine.SetState(manager)
	treasuryEngine.SetVaults(vault, rewardPool, platformPool)
	treasuryEngine.SetReserveMinimum(reserveMin)
	treasuryEngine.SetEmitter(emitter)

	if _, ok := manager.TreasuryGet(); !ok {
		if _, err := treasuryEngine.Initialize(admin, devWallet); err != nil {
			logger.Error("initialize ledger", "error", err)
			os.Exit(1)
		}
		logger.Info("ledger initialized", "admin", cfg.Treasury.Admin, "devWallet", cfg.Treasury.DevWallet)
	}

	deployEngine := deploy.NewEngine()
	deployEngine.SetState(manager)
	deployEngine.SetVaults(vault, rewardPool, platformPool)
	deployEngine.SetEmitter(emitter)

	api := service.NewServer(cfg, treasuryEngine, deployEngine, manager, logger)
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
}

// custodyAddress derives a stable module-owned identity for one of the
// treasury's internal pools.
func custodyAddress(label string) [20]byte {
	digest := ethcrypto.Keccak256([]byte("treasury/custody"), []byte(label))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}
