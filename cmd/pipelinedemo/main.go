// Command pipelinedemo runs a sample network-bound stage on a cron schedule
// and in response to NATS trigger events, exposing an HTTP endpoint to run
// it on demand and inspect recent run history.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/swarmguard/pipelinecore/logginit"
	"github.com/swarmguard/pipelinecore/otelinit"
)

func main() {
	const service = "pipelinedemo"
	logginit.Init(service)

	var (
		dbPath      = flag.String("db", "pipelinedemo.db", "path to the run history BoltDB file")
		natsURL     = flag.String("nats-url", os.Getenv("NATS_URL"), "NATS server URL (empty disables event-driven triggers)")
		cronExpr    = flag.String("cron", "0 */1 * * * *", "cron expression for scheduled runs (seconds precision)")
		subject     = flag.String("subject", "pipelinecore.run.trigger", "NATS subject that triggers an ad-hoc run")
		itemsPerRun = flag.Int("items", 200, "synthetic items to push through the demo stage per run")
		addr        = flag.String("addr", ":8080", "HTTP listen address")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	_, shutdownMeter := otelinit.InitMeter(ctx, service)
	meter := otel.GetMeterProvider().Meter(service)

	store, err := OpenRunStore(*dbPath)
	if err != nil {
		slog.Error("failed to open run store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var nc *nats.Conn
	if *natsURL != "" {
		nc, err = nats.Connect(*natsURL)
		if err != nil {
			slog.Warn("nats connect failed, event-driven triggers disabled", "error", err)
			nc = nil
		} else {
			defer nc.Close()
		}
	}

	sched := NewScheduler(store, nc, meter)
	if err := sched.Start(ctx, *cronExpr, *subject, *itemsPerRun); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sched.trigger(r.Context(), "http", *itemsPerRun)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		recs, err := store.Recent(20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recs)
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	slog.Info("pipelinedemo started", "addr", *addr)
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	sched.Stop(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMeter(shutdownCtx)
}
