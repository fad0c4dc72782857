package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"efpmachine/internal/config"
	"efpmachine/internal/database"
	"efpmachine/internal/expiry"
	"efpmachine/internal/ingest"
	"efpmachine/internal/parse"
	"efpmachine/internal/protocol"
	"efpmachine/internal/run"
	"efpmachine/internal/source"
	"efpmachine/internal/ws"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("cannot connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := database.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	var extractor parse.Extractor
	if cfg.Extractor.BaseURL != "" {
		extractor = parse.NewOpenAIExtractor(cfg.Extractor.BaseURL, cfg.Extractor.APIKey, cfg.Extractor.Model)
	}
	parser := parse.New(logger, extractor)

	queue := ingest.NewQueue(cfg.Ingest.QueueCapacity)
	enricher := ingest.NewEnricher(repo, logger)
	for i := 0; i < cfg.Ingest.Workers; i++ {
		worker := ingest.NewWorker(queue, repo, enricher, logger, cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval)
		go worker.Run(ctx)
	}

	runSvc := run.NewService(repo, protocol.MidOffsetTheoretical, logger)

	if len(cfg.Sources.Kafka.Brokers) > 0 {
		consumer := source.NewKafkaConsumer(cfg.Sources.Kafka.Brokers, cfg.Sources.Kafka.Topic,
			cfg.Sources.Kafka.GroupID, parser, queue, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka source stopped", "error", err)
			}
		}()
	}
	if cfg.Sources.Poll.URL != "" {
		poller := source.NewPoller(cfg.Sources.Poll.URL, cfg.Sources.Poll.Interval, parser, queue, logger)
		go func() {
			if err := poller.Run(ctx); err != nil {
				logger.Error("poll source stopped", "error", err)
			}
		}()
	}

	runHub := ws.NewHub(logger)
	go broadcastRun(ctx, runSvc, runHub, logger)

	mux := http.NewServeMux()
	registerRoutes(mux, repo, runSvc, runHub, logger)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("efpmachine listening", "addr", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// broadcastRun pushes the run snapshot to websocket clients on a short
// cadence, mirroring how the desk watches the run move.
func broadcastRun(ctx context.Context, svc *run.Service, hub *ws.Hub, logger *slog.Logger) {
	ticker := time.NewTicker(1500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hub.Count() == 0 {
				continue
			}
			snap, err := svc.Snapshot(ctx)
			if err != nil {
				logger.Warn("snapshot failed", "error", err)
				continue
			}
			hub.BroadcastJSON(snap)
		}
	}
}

func registerRoutes(mux *http.ServeMux, repo database.Repository, runSvc *run.Service, runHub *ws.Hub, logger *slog.Logger) {
	mux.HandleFunc("GET /api/efp/run", func(w http.ResponseWriter, r *http.Request) {
		snap, err := runSvc.Snapshot(r.Context())
		if err != nil {
			httpError(w, logger, err)
			return
		}
		writeJSON(w, snap)
	})

	mux.HandleFunc("POST /api/efp/update", func(w http.ResponseWriter, r *http.Request) {
		var req run.UpdatePriceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := runSvc.UpdatePrice(r.Context(), req)
		if err != nil {
			httpError(w, logger, err)
			return
		}
		writeJSON(w, res)
	})

	mux.HandleFunc("POST /api/efp/trade", func(w http.ResponseWriter, r *http.Request) {
		var req run.TradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := runSvc.Trade(r.Context(), req)
		if errors.Is(err, run.ErrCashRefRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			httpError(w, logger, err)
			return
		}
		writeJSON(w, res)
	})

	mux.HandleFunc("POST /api/efp/confirm", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Index string `json:"index"`
			Note  string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, err := runSvc.Confirm(r.Context(), req.Index, req.Note)
		if errors.Is(err, run.ErrIndexNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			httpError(w, logger, err)
			return
		}
		writeJSON(w, res)
	})

	mux.HandleFunc("POST /api/efp/publish", func(w http.ResponseWriter, r *http.Request) {
		res, err := runSvc.Publish(r.Context())
		if err != nil {
			httpError(w, logger, err)
			return
		}
		writeJSON(w, res)
	})

	mux.HandleFunc("GET /api/efp/expiry/{index}", func(w http.ResponseWriter, r *http.Request) {
		index := strings.ToUpper(r.PathValue("index"))
		writeJSON(w, expiry.Classify(index, time.Now()))
	})

	mux.HandleFunc("GET /api/orders/list", func(w http.ResponseWriter, r *http.Request) {
		orders, err := repo.ListOrders(r.Context())
		if err != nil {
			httpError(w, logger, err)
			return
		}
		writeJSON(w, orders)
	})

	mux.HandleFunc("GET /api/efp/ws/run", runHub.Serve)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
