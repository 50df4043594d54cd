// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"librarium/internal/catalog"
	"librarium/internal/config"
	"librarium/internal/httpmw"
	"librarium/internal/lending"
	"librarium/internal/membership"
	"librarium/internal/telemetry"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	var (
		books   catalog.Store
		members membership.Store
	)
	if cfg.Database.URL != "" {
		db, err := sqlx.Connect("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

		books = catalog.NewPostgresStore(db)
		members = membership.NewPostgresStore(db)
		log.Info("using postgres stores")
	} else {
		books = catalog.NewMemoryStore()
		members = membership.NewMemoryStore()
		log.Warn("no database configured, using in-memory stores")
	}

	catalogService := catalog.NewService(books)
	membershipService := membership.NewService(members)
	ledger := lending.NewService(books, members,
		lending.WithMaxTries(cfg.Lending.MaxTries),
		lending.WithLogger(log),
	)

	catalogHandler := catalog.NewHandler(catalogService)
	membershipHandler := membership.NewHandler(membershipService)
	lendingHandler := lending.NewHandler(ledger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmw.Identity)

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/users", membershipHandler.Routes())
		r.Route("/books", func(r chi.Router) {
			r.Get("/", catalogHandler.HandleList)
			r.Post("/", catalogHandler.HandleCreate)
			r.Route("/{bookID}", func(r chi.Router) {
				r.Get("/", catalogHandler.HandleGet)
				r.Patch("/", catalogHandler.HandleEdit)
				r.Delete("/", catalogHandler.HandleDelete)
				r.Post("/borrow", lendingHandler.HandleBorrow)
				r.Post("/return", lendingHandler.HandleReturn)
			})
		})
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
