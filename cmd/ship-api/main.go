package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	app := mustBootstrapShipAPI()
	err := app.Run()
	app.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("ship-api stopped", "error", err.Error())
		os.Exit(1)
	}
}
