package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"election-sim/internal/api"
	"election-sim/internal/cluster"
	"election-sim/internal/election"
)

func main() {
	// Command line flags
	size := flag.Int("n", 3, "Number of nodes in the cluster")
	httpAddr := flag.String("http", "", "Address of the HTTP operator API, e.g. 127.0.0.1:8080 (disabled if empty)")
	grpcAddr := flag.String("grpc", "", "Address of the gRPC health service, e.g. 127.0.0.1:50051 (disabled if empty)")
	level := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	seed := flag.Int64("seed", 0, "Seed for the candidacy wait (0 seeds from the clock)")
	report := flag.String("report", "", "Write a JSON metrics report to this file on exit")
	flag.Parse()

	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.SetOutput(os.Stderr)
	lvl, err := log.ParseLevel(*level)
	if err != nil {
		logger.Fatalf("Invalid log level %q: %v", *level, err)
	}
	logger.SetLevel(lvl)

	config := election.DefaultConfig()
	config.Seed = *seed
	config.Logger = NewLogrusLogger(logger, "election")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := cluster.Initialize(ctx, *size, config)
	if err != nil {
		logger.Fatalf("Failed to start cluster: %v", err)
	}

	if *httpAddr != "" {
		srv := &http.Server{
			Addr:              *httpAddr,
			Handler:           api.NewHandler(c, NewLogrusLogger(logger, "http")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatalf("HTTP server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Infof("HTTP operator API listening on %s", *httpAddr)
	}

	if *grpcAddr != "" {
		lis, err := net.Listen("tcp", *grpcAddr)
		if err != nil {
			logger.Fatalf("Failed to listen on %s: %v", *grpcAddr, err)
		}

		grpcServer := grpc.NewServer(grpc.ConnectionTimeout(time.Second * 30))
		reporter := api.NewHealthReporter(c, c.PubSub(), config.HeartbeatInterval, NewLogrusLogger(logger, "health"))
		reporter.Register(grpcServer)

		go reporter.Run(ctx)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Errorf("gRPC server stopped: %v", err)
			}
		}()
		defer func() {
			reporter.Shutdown()
			grpcServer.GracefulStop()
		}()
		logger.Infof("gRPC health service %q listening on %s", api.HealthService, lis.Addr())
	}

	fmt.Printf("started a cluster of %d nodes\n", c.Size())

	done := make(chan struct{})
	go func() {
		NewConsole(c, os.Stdin, os.Stdout).Run()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	cancel()
	c.Stop()

	if *report != "" {
		r, ok := c.Report()
		if ok {
			if err := r.SaveJSON(*report); err != nil {
				logger.Errorf("Failed to save report: %v", err)
			}
		}
	}
}
