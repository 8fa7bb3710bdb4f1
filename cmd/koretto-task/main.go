// Command koretto-task is the worker-process entrypoint a supervisor
// spawns for offloaded task execution: it sends Ready on startup, then
// loops reading ExecuteInvoke/Stop messages from stdin and writing
// ExecuteResult to stdout per the wire protocol in package wire.
package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/koretto/koretto/app"
	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/hooks"
	"github.com/koretto/koretto/korerr"
	"github.com/koretto/koretto/registry"
	"github.com/koretto/koretto/taskengine"
	"github.com/koretto/koretto/wire"
)

func main() {
	root := &cobra.Command{
		Use:   "koretto-task",
		Short: "Run a koretto task worker process",
		RunE:  run,
	}
	root.Flags().Duration("task-timeout", 60*time.Second, "default per-task timeout")
	viper.BindPFlags(root.Flags())
	viper.SetEnvPrefix("KORETTO")
	viper.AutomaticEnv()

	if err := root.Execute(); err != nil {
		slog.Error("koretto-task: exiting", "error", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	taskTimeout := viper.GetDuration("task-timeout")

	reg := registry.New()
	// Task modules register themselves here before Initialize runs.

	rootContainer := container.NewRoot(container.Global)
	hookEngine := hooks.New()
	application := app.New(reg, rootContainer, hookEngine)

	ctx := context.Background()
	if err := application.Initialize(ctx); err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	engine := taskengine.New(reg, nil, rootContainer, taskTimeout)

	out := &syncWriter{w: bufio.NewWriter(os.Stdout)}
	if err := out.writeMessage(wire.Message{Kind: wire.Ready, Payload: wire.ReadyPayload{Pid: os.Getpid()}}); err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	for {
		msg, err := wire.ReadMessage(in)
		if err != nil {
			break
		}
		switch msg.Kind {
		case wire.ExecuteInvoke:
			payload, ok := msg.Payload.(wire.ExecuteInvokePayload)
			if !ok {
				continue
			}
			go handleInvoke(ctx, engine, out, payload)
		case wire.Stop:
			if err := application.Stop(context.Background()); err != nil {
				slog.Error("koretto-task: stop", "error", err)
			}
			return nil
		}
	}

	return application.Stop(context.Background())
}

func handleInvoke(ctx context.Context, engine *taskengine.Engine, out *syncWriter, payload wire.ExecuteInvokePayload) {
	value, err := engine.Run(ctx, payload.TaskName, payload.Args)
	result := wire.ExecuteResultPayload{CorrelationID: payload.CorrelationID, Value: value}
	if err != nil {
		kerr := korerr.Classify(err)
		result.ErrorKind = string(kerr.Kind)
		result.ErrorText = kerr.Text
	}
	if err := out.writeMessage(wire.Message{Kind: wire.ExecuteResult, Payload: result}); err != nil {
		slog.Error("koretto-task: writing result", "error", err)
	}
}

// syncWriter serializes concurrent ExecuteResult writes from per-invoke
// goroutines onto the single stdout stream.
type syncWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (s *syncWriter) writeMessage(msg wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := wire.WriteMessage(s.w, msg); err != nil {
		return err
	}
	return s.w.Flush()
}
