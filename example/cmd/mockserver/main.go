// Standalone mock upstream for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pulseproxy serve -c example/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pulseproxy/example/mockupstream"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	fmt.Printf("Mock upstream starting on %s\n", *addr)
	fmt.Println("Actuator status cycles through: UP -> DOWN -> OUT_OF_SERVICE")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mock := mockupstream.New(mockupstream.Options{Latency: 150 * time.Millisecond}, logger)
	if err := mock.Serve(ctx, *addr); err != nil {
		logger.Error("server_error", zap.Error(err))
		os.Exit(1)
	}
}
