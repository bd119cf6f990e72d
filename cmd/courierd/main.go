package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"courier/internal/config"
	"courier/internal/daemon"
	"courier/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	serverFlag := flag.String("server", "", "server base URL (overrides config)")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg := config.LoadOrDefault(session.ConfigPath())
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile, Config: cfg}),
	)

	app.Run()
}
