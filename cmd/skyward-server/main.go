package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"skyassist-backend/lib/serviceutil"
	"skyassist-backend/lib/telemetry"
	"skyassist-backend/services/skyward"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json5", "The config file to read.")
	verbose := flag.Bool("v", false, "Log debug output.")
	flag.Parse()

	_ = godotenv.Load()
	telemetry.InitSlog(*verbose)

	ctx := serviceutil.SignalContext()
	t, err := telemetry.SetupFromEnv(ctx, "skyward-server")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	cfg, err := skyward.LoadConfig(*configPath)
	if err != nil {
		serviceutil.Fatal("failed to load config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	runtime, err := skyward.Open(cfg)
	if err != nil {
		serviceutil.Fatal("failed to open service", err)
	}
	defer runtime.Close()

	serviceutil.StartHttpServer(ctx, cfg.Port, newRouter(runtime))
}
