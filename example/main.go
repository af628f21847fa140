// Command example embeds PulseProxy as a library in front of a mock
// upstream that plays api-gateway, Prometheus and Grafana at once.
//
// Usage:
//
//	go run ./example
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pulseproxy"
	"github.com/jpalmerr/pulseproxy/example/mockupstream"
	"go.uber.org/zap"
)

const mockAddr = "localhost:9999"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mock := mockupstream.New(mockupstream.Options{Latency: 150 * time.Millisecond}, logger.Named("mock"))
	go func() {
		if err := mock.Serve(ctx, mockAddr); err != nil {
			logger.Error("mock_server_failed", zap.Error(err))
			stop()
		}
	}()

	base := "http://" + mockAddr
	gateway, err := pulseproxy.NewTarget("api-gateway", base, pulseproxy.KindHealth,
		pulseproxy.WithMetricsPath("/actuator/prometheus"),
	)
	if err != nil {
		logger.Fatal("invalid_target", zap.Error(err))
	}
	db, err := pulseproxy.NewTarget("orders-db", base, pulseproxy.KindHealth,
		pulseproxy.WithStatusQuery(".components.db.status"),
	)
	if err != nil {
		logger.Fatal("invalid_target", zap.Error(err))
	}
	prom, err := pulseproxy.NewTarget("prometheus", base, pulseproxy.KindPrometheus)
	if err != nil {
		logger.Fatal("invalid_target", zap.Error(err))
	}
	grafana, err := pulseproxy.NewTarget("grafana", base, pulseproxy.KindCustom,
		pulseproxy.WithHealthPath("/api/health"),
		pulseproxy.WithStatusQuery(".database"),
	)
	if err != nil {
		logger.Fatal("invalid_target", zap.Error(err))
	}

	p, err := pulseproxy.New(
		pulseproxy.WithTargets(gateway, db, prom, grafana),
		pulseproxy.WithGateway(pulseproxy.GatewayConfig{Target: "api-gateway"}),
		pulseproxy.WithRefreshInterval(5*time.Second),
		pulseproxy.WithPort(8080),
		pulseproxy.WithLogger(logger),
		pulseproxy.WithHealthCallback(func(h pulseproxy.Health) {
			if h.Status != pulseproxy.StatusUp {
				logger.Warn("target_down", zap.String("target", h.Target), zap.String("error", h.Error))
			}
		}),
	)
	if err != nil {
		logger.Fatal("failed_to_create_pulseproxy", zap.Error(err))
	}

	fmt.Println()
	fmt.Println("  PulseProxy demo")
	fmt.Println()
	fmt.Println("  Dashboard:   http://localhost:8080")
	fmt.Println("  Health:      http://localhost:8080/api/health")
	fmt.Println("  Range query: http://localhost:8080/api/metrics/query_range?query=up")
	fmt.Println()
	fmt.Println("  The api-gateway status cycles UP -> DOWN -> OUT_OF_SERVICE.")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	if err := p.Start(ctx); err != nil {
		logger.Fatal("pulseproxy_failed", zap.Error(err))
	}
}
