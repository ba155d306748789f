package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypersettle/params"
	"github.com/uhyunpark/hypersettle/pkg/node"
	"github.com/uhyunpark/hypersettle/pkg/util"
)

func main() {
	envPath := flag.String("env", "", "path to .env file (default: ./.env)")
	flag.Parse()

	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv(*envPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file, LOG_FILE=- for console only)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	if cfg.Access.Owner == (common.Address{}) {
		sugar.Warn("OWNER_ADDRESS not set - executor set cannot be changed at runtime")
	}
	if len(cfg.Access.Executors) == 0 {
		sugar.Warn("EXECUTOR_ADDRESSES empty - every settlement will be rejected until one is added")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("node_init_failed", "err", err)
	}
	defer func() {
		if err := n.Close(); err != nil {
			sugar.Warnw("node_close_failed", "err", err)
		}
	}()

	sugar.Infow("node_starting",
		"api_addr", cfg.Node.APIAddr,
		"data_dir", cfg.Node.DataDir,
		"p2p", cfg.P2P.Enabled,
		"kafka_brokers", len(cfg.Kafka.Brokers))

	if err := n.Run(ctx); err != nil {
		sugar.Errorw("node_failed", "err", err)
		return
	}
	sugar.Info("node_stopped")
}
