package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	ledrails "github.com/CDFER/LED-Rails-Backend"
	"github.com/CDFER/LED-Rails-Backend/config"
)

func main() {
	networksDir := flag.String("networks", "", "rail networks directory (overrides config)")
	cacheDir := flag.String("cache", "", "cache directory (overrides config)")
	flag.Parse()

	// .env first so PORT and per-network API keys are visible to the loaders.
	_ = godotenv.Load()

	ledrails.InitLogging()
	cfg, err := config.LoadAppConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *networksDir != "" {
		cfg.RailNetworksDir = *networksDir
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}

	networks, err := ledrails.DiscoverNetworks(cfg.RailNetworksDir, cfg.CacheDir)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, n := range networks {
		go n.Run(ctx)
	}

	ledrails.StartServer(cfg.Server.Port, networks)
	ledrails.HandleGracefulShutdown()
	cancel()
}
