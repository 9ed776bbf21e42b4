package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	dataDirFlag := flag.String("data-dir", "", "data directory (default ~/.parley)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = config.BaseDir()
	}

	cfg, err := config.Load(config.ConfigPath(dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg.DataDir = dataDir
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}

	// First run: mint a token secret and persist it so tokens survive
	// daemon restarts.
	if cfg.TokenSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			fmt.Fprintf(os.Stderr, "error: generate token secret: %v\n", err)
			os.Exit(1)
		}
		cfg.TokenSecret = hex.EncodeToString(secret)
		if err := config.Save(config.ConfigPath(dataDir), cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error: save config: %v\n", err)
			os.Exit(1)
		}
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}
