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

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"shipping-escrow/internal/config"
	"shipping-escrow/internal/database"
	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/handler"
	"shipping-escrow/internal/infrastructure/oracle"
	"shipping-escrow/internal/infrastructure/token"
	"shipping-escrow/internal/logging"
	"shipping-escrow/internal/repo"
	"shipping-escrow/internal/service"
	"shipping-escrow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup("escrowd", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("escrowd stopped", "error", err)
		os.Exit(1)
	}
}

type store struct {
	tx       repo.TxManager
	orders   repo.OrderRepo
	escrow   repo.EscrowRepo
	requests repo.RequestRepo
	settings repo.SettingsRepo
	tokens   repo.TokenRepo
	health   database.Service
}

func openStore(ctx context.Context, cfg config.Config) (*store, error) {
	if cfg.Store == config.StoreMemory {
		slog.Warn("memory store selected: state is lost on exit, use it for local runs only")
		mem := repo.NewMemoryStore()
		return &store{
			tx:       mem,
			orders:   mem.Orders(),
			escrow:   mem.Escrow(),
			requests: mem.Requests(),
			settings: mem.Settings(),
			tokens:   mem.Tokens(),
			health:   database.NewMemory(),
		}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &store{
		tx:       repo.NewTxManager(db),
		orders:   repo.NewOrderRepo(db),
		escrow:   repo.NewEscrowRepo(db),
		requests: repo.NewRequestRepo(db),
		settings: repo.NewSettingsRepo(db),
		tokens:   repo.NewTokenRepo(db),
		health:   database.New(db, cfg.DB.Database),
	}, nil
}

func run(ctx context.Context, cfg config.Config) error {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer st.health.Close()

	payments := token.NewLedger("PAY", cfg.Vault, st.tokens)
	if err := payments.Seed(ctx, cfg.Balances); err != nil {
		return fmt.Errorf("seed payment token: %w", err)
	}
	fees := token.NewLedger("FEE", cfg.Vault, st.tokens)
	if err := fees.Seed(ctx, cfg.FeeBalances); err != nil {
		return fmt.Errorf("seed fee token: %w", err)
	}

	admin := service.NewAdminService(st.settings, cfg.Owner, domain.OracleDetails{
		Oracle:    cfg.Oracle.Address,
		Reference: cfg.Oracle.Reference,
		JobID:     cfg.Oracle.JobID,
		Fee:       cfg.Oracle.Fee,
	}, nil)

	var (
		client     oracle.Client
		mock       *oracle.MockNode
		subscriber *oracle.ResultSubscriber
	)
	if cfg.AMQPURL != "" {
		conn, ch, err := oracle.SetupConn(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		consumeCh, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open consumer channel: %w", err)
		}
		client = oracle.NewPublisher(ch)
		subscriber = oracle.NewResultSubscriber(consumeCh, cfg.CallbackSecret)
		slog.Info("oracle transport: amqp", "exchange", oracle.ExchangeName, "queue", oracle.ResultQueue)
	} else {
		mock = oracle.NewMockNode(2 * time.Second)
		client = mock
		slog.Info("oracle transport: in-process mock node")
	}

	ledger := service.NewEscrowLedger(st.tx, st.escrow, payments, nil)
	correlator := service.NewOracleRequestCorrelator(st.requests, admin, fees, cfg.Vault, client, nil)
	orders := service.NewOrderService(st.tx, st.orders, ledger, correlator)

	onResult := func(ctx context.Context, result domain.VerificationResult) error {
		_, err := orders.OnVerificationResult(ctx, result)
		return err
	}
	if mock != nil {
		mock.Attach(onResult)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handler.NewRouter(handler.Deps{
			Orders:         orders,
			Admin:          admin,
			DB:             st.health,
			CallbackSecret: cfg.CallbackSecret,
			CallerSkew:     cfg.CallerSkew,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatcher := worker.NewDispatchWorker(correlator, cfg.DispatchInterval, cfg.DispatchBatch)
	reconciler := worker.NewReconciliationWorker(st.tx, st.orders, ledger, payments, cfg.ReconcileInterval, cfg.StallAfter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reconciler.Run(gctx)
		return nil
	})
	if subscriber != nil {
		g.Go(func() error {
			return subscriber.Run(gctx, onResult)
		})
	}

	err = g.Wait()
	if mock != nil {
		mock.Wait()
	}
	return err
}
