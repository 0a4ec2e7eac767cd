package main

import (
	"context"

	"skyassist-backend/cmd/skyward-cli/commands"
	"skyassist-backend/lib/serviceutil"
	"skyassist-backend/lib/telemetry"

	"github.com/joho/godotenv"
)

func main() {
	// a missing .env is fine, the environment and config files still apply
	_ = godotenv.Load()

	ctx := serviceutil.SignalContext()
	t, err := telemetry.SetupFromEnv(ctx, "skyward-cli")
	if err == nil {
		defer t.Shutdown(context.Background())
	}
	commands.ExecuteContext(ctx)
}
