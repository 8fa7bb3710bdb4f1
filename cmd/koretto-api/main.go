// Command koretto-api is the thin entrypoint for an API process: it wires
// a registry, container, hook engine, and dispatcher together behind a
// websocket transport. Flag/config handling follows the teacher's
// examples/http-api/main.go in spirit (plain, minimal wiring) but uses
// spf13/cobra + spf13/pflag + spf13/viper for the CLI/config layer, the
// combination several manifests in the corpus (goadesign-goa-ai,
// cuemby-warren) use for exactly this "small service binary" shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/koretto/koretto/app"
	"github.com/koretto/koretto/call"
	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/format"
	"github.com/koretto/koretto/hooks"
	"github.com/koretto/koretto/registry"
	"github.com/koretto/koretto/transport/ws"
)

func main() {
	root := &cobra.Command{
		Use:   "koretto-api",
		Short: "Run a koretto API process",
		RunE:  run,
	}
	root.Flags().String("addr", ":8080", "address to listen on")
	root.Flags().String("path", "/", "websocket upgrade path")
	root.Flags().Duration("call-timeout", 30*time.Second, "default per-call timeout")
	viper.BindPFlags(root.Flags())
	viper.SetEnvPrefix("KORETTO")
	viper.AutomaticEnv()

	if err := root.Execute(); err != nil {
		slog.Error("koretto-api: exiting", "error", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	addr := viper.GetString("addr")
	path := viper.GetString("path")
	callTimeout := viper.GetDuration("call-timeout")

	reg := registry.New()
	// Application modules register themselves here (or in an imported
	// package's init-time hook) before Initialize runs.

	rootContainer := container.NewRoot(container.Global)
	hookEngine := hooks.New()
	application := app.New(reg, rootContainer, hookEngine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("starting: %w", err)
	}

	dispatcher := call.New(reg, format.NewSelector(format.JSON{}), callTimeout)
	handler := newConnectionHandler(dispatcher, rootContainer)

	transportSrv := ws.New(path)
	slog.Info("koretto-api: listening", "addr", addr, "path", path)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- transportSrv.Serve(ctx, addr, handler)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("koretto-api: transport error", "error", err)
		}
	}

	return application.Stop(context.Background())
}
