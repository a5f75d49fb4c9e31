package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	resilient "github.com/egorkaBurkenya/resilient-api"
	"github.com/egorkaBurkenya/resilient-api/metrics"
)

type soakOptions struct {
	requests    int
	concurrency int
	method      string
	path        string
	data        string
	listen      string
}

type soakReport struct {
	Duration    string          `json:"duration"`
	Requests    int             `json:"requests"`
	Stats       resilient.Stats `json:"stats"`
	FailedKinds map[string]int  `json:"failed_kinds,omitempty"`
}

func newSoakCmd(a *app) *cobra.Command {
	opts := soakOptions{}

	cmd := &cobra.Command{
		Use:   "soak <path>",
		Short: "Send many concurrent requests and report client statistics",
		Long: `soak sends --requests logical requests with --concurrency workers through one
shared client, so they compete for the same token bucket. With --listen it
serves /metrics (Prometheus) and /stats (JSON) while running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.path = args[0]
			report, err := runSoak(cmd.Context(), a, opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.requests, "requests", "n", 100, "number of logical requests")
	f.IntVarP(&opts.concurrency, "concurrency", "c", 10, "number of concurrent workers")
	f.StringVarP(&opts.method, "method", "X", http.MethodGet, "HTTP method")
	f.StringVarP(&opts.data, "data", "d", "", "JSON request body")
	f.StringVar(&opts.listen, "listen", "", "address for the status server, e.g. :9090")
	return cmd
}

func runSoak(ctx context.Context, a *app, opts soakOptions) (soakReport, error) {
	if opts.requests < 1 || opts.concurrency < 1 {
		return soakReport{}, fmt.Errorf("requests and concurrency must be positive")
	}
	var body any
	if opts.data != "" {
		if !json.Valid([]byte(opts.data)) {
			return soakReport{}, fmt.Errorf("--data is not valid JSON")
		}
		body = json.RawMessage(opts.data)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	client, err := a.cfg.NewClient(
		resilient.WithLogger(a.log),
		resilient.WithObserver(metrics.New(reg)),
	)
	if err != nil {
		return soakReport{}, err
	}
	defer client.Close()

	if err := metrics.RegisterStats(reg, "soak", client); err != nil {
		return soakReport{}, err
	}

	if opts.listen != "" {
		stop, err := serveStatus(a.log, opts.listen, newStatusRouter(reg, client))
		if err != nil {
			return soakReport{}, err
		}
		defer stop()
	}

	var (
		mu     sync.Mutex
		failed = map[string]int{}
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i := 0; i < opts.requests; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := client.Execute(gctx, &resilient.Request{Method: opts.method, Path: opts.path, Body: body})
			if err == nil {
				return nil
			}
			kind := "unknown"
			var e *resilient.Error
			if errors.As(err, &e) {
				kind = e.Kind.String()
			}
			mu.Lock()
			failed[kind]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return soakReport{}, err
	}

	report := soakReport{
		Duration: time.Since(start).Round(time.Millisecond).String(),
		Requests: opts.requests,
		Stats:    client.Stats(),
	}
	if len(failed) > 0 {
		report.FailedKinds = failed
	}
	a.log.Info("soak finished",
		slog.String("duration", report.Duration),
		slog.Uint64("successful", report.Stats.SuccessfulRequests),
		slog.Uint64("failed", report.Stats.FailedRequests),
	)
	return report, nil
}

// serveStatus starts h on addr and returns a function that shuts it down.
func serveStatus(log *slog.Logger, addr string, h http.Handler) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}

	log.Info("status server listening", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server error", slog.Any("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("status server shutdown failed", slog.Any("error", err))
		}
	}, nil
}
