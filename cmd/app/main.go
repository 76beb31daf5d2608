package main

import (
	"flag"
	"log"
	"os"

	"github.com/Wayy-Research/wrdata/internal/di"
	"github.com/Wayy-Research/wrdata/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s provider=%s backend=%s symbols=%v",
		cfg.Environment, cfg.Stream.Provider, cfg.Backend.Type, cfg.Stream.Symbols)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
