// Command treasuryd is the treasury node's process entrypoint: it
// loads configuration, wires the core components together, and runs
// the scheduler loop until an OS termination signal arrives.
package main

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"blockhost-treasury/core/addressbook"
	"blockhost-treasury/core/addresscodec"
	"blockhost-treasury/core/fundmanager"
	"blockhost-treasury/core/scheduler"
	"blockhost-treasury/core/subscription"
	"blockhost-treasury/core/swaprouter"
	"blockhost-treasury/internal/bookwriter"
	"blockhost-treasury/internal/rpc"
	"blockhost-treasury/pkg/config"
	"blockhost-treasury/pkg/utils"
)

func main() {
	logger := log.StandardLogger()

	configDir := utils.EnvOrDefault("BLOCKHOST_CONFIG_DIR", config.DefaultConfigDir)

	cfg, err := config.Load(configDir)
	if err != nil {
		logger.Fatalf("treasuryd: load blockhost.yaml: %v", err)
	}
	if level, parseErr := log.ParseLevel(cfg.Logging.Level); parseErr == nil {
		logger.SetLevel(level)
	}

	web3, err := config.LoadWeb3Defaults(configDir)
	if err != nil {
		logger.Fatalf("treasuryd: load web3-defaults.yaml: %v", err)
	}
	revenueShare, err := config.LoadRevenueShare(configDir)
	if err != nil {
		logger.Fatalf("treasuryd: load revenue-share.json: %v", err)
	}

	subscriptionContract, err := config.ResolveContractAddress(web3.SubscriptionContract)
	if err != nil {
		logger.Fatalf("treasuryd: parse subscription_contract: %v", err)
	}
	nativeSwapContract, err := config.ResolveContractAddress(web3.NativeSwapContract)
	if err != nil {
		logger.Fatalf("treasuryd: parse native_swap_contract: %v", err)
	}
	var amm swaprouter.AMMAddresses
	if web3.AMM != nil {
		amm.Router, err = config.ResolveContractAddress(web3.AMM.Router)
		if err != nil {
			logger.Fatalf("treasuryd: parse amm.router: %v", err)
		}
		amm.Factory, err = config.ResolveContractAddress(web3.AMM.Factory)
		if err != nil {
			logger.Fatalf("treasuryd: parse amm.factory: %v", err)
		}
	}

	ctx := context.Background()
	provider, err := rpc.Dial(ctx, web3.ChainRPCURL, logger)
	if err != nil {
		logger.Fatalf("treasuryd: dial chain rpc %s: %v", web3.ChainRPCURL, err)
	}

	bookPath := utils.EnvOrDefault("BLOCKHOST_ADDRESSBOOK_PATH", configDir+"/addressbook.json")
	keyfileDir := utils.EnvOrDefault("BLOCKHOST_KEYFILE_DIR", configDir+"/keyfiles")
	writer := bookwriter.New(bookPath, keyfileDir)

	book, err := addressbook.Load(bookPath)
	if err != nil {
		logger.Fatalf("treasuryd: load addressbook %s: %v", bookPath, err)
	}
	book, err = addressbook.EnsureHotWallet(ctx, writer, book)
	if err != nil {
		logger.Fatalf("treasuryd: ensure hot wallet: %v", err)
	}

	network := utils.EnvOrDefault("BLOCKHOST_NETWORK", "mainnet")

	resolver := addresscodec.RPCResolver{Lookup: provider.GetPublicKeyInfo}

	sub := subscription.New(provider, subscriptionContract, network)
	router := swaprouter.New(provider, nativeSwapContract, amm, sub, book, resolver, network)
	fmConfig := fundmanager.Config{
		FundManager:  cfg.FundManager,
		RevenueShare: *revenueShare,
	}
	manager := fundmanager.New(provider, sub, router, book, fmConfig, network)

	fundStatePath := utils.EnvOrDefault("BLOCKHOST_FUND_STATE_PATH", configDir+"/fund-state.json")
	fundCycleInterval := time.Duration(cfg.FundManager.FundCycleIntervalHours) * time.Hour
	gasCheckInterval := time.Duration(cfg.FundManager.GasCheckIntervalMinutes) * time.Minute

	sched := scheduler.New(manager, provider, fundStatePath, fundCycleInterval, gasCheckInterval)

	logger.Infof("treasuryd %s: starting on network %s, chain %s", config.Version, network, web3.ChainRPCURL)
	sched.Run(ctx)
	os.Exit(0)
}
