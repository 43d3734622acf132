package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/edutech/uspgateway/gateway/models"
	"github.com/edutech/uspgateway/internal/acquirer"
	"github.com/edutech/uspgateway/internal/credentials"
	"github.com/edutech/uspgateway/internal/docstore"
	"github.com/edutech/uspgateway/internal/middleware"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	_ "github.com/lib/pq"
)

// App is the main application. It wires configuration, credentials, the
// acquirer client, the store and the reconciler, and owns their lifecycle.
type App struct {
	srv    *http.Server
	wg     *sync.WaitGroup
	cancel context.CancelFunc
	Addr   string
	logger *slog.Logger
	config *Config

	// Secrets may be swapped before Start, e.g. for the pkcs11-backed store.
	Secrets credentials.SecretStore
	// Documents and Customers default to the in-memory platform store; real
	// deployments inject their platform adapters before Start.
	Documents docstore.DocumentStore
	Customers docstore.CustomerStore
	// Notify is invoked after a reconciler-driven status change. Optional.
	Notify func(txn *models.Transaction)
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "uspgateway"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	if a.Secrets == nil {
		store := credentials.NewMemorySecretStore()
		if v := os.Getenv("USPGW_ACCESS_CODE"); v != "" {
			store.SetSecret(credentials.SecretAccessCode, v)
		}
		if v := os.Getenv("USPGW_SECRET_KEY"); v != "" {
			store.SetSecret(credentials.SecretKey, v)
		}
		a.Secrets = store
	}
	if a.Documents == nil || a.Customers == nil {
		mem := docstore.NewMemoryStore()
		if a.Documents == nil {
			a.Documents = mem
		}
		if a.Customers == nil {
			a.Customers = mem
		}
	}

	creds, err := credentials.Resolve(credentials.Config{
		Enabled:               a.config.Gateway.Enabled,
		Environment:           a.config.Gateway.Environment,
		UseMock:               a.config.Gateway.UseMock,
		APIKey:                a.config.Gateway.APIKey,
		MerchantAccountNumber: a.config.Gateway.MerchantAccountNumber,
		TerminalName:          a.config.Gateway.TerminalName,
		MerchantID:            a.config.Gateway.MerchantID,
		TerminalID:            a.config.Gateway.TerminalID,
	}, a.Secrets, a.logger)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	client := selectClient(a.config, creds, a.logger)

	var repository *Repository
	switch a.config.DB.Backend {
	case "pg":
		if a.config.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DB.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		repository = NewPGRepository(db)
	case "mem":
		repository = NewRepository()
	default:
		return fmt.Errorf("unsupported db.backend=%s", a.config.DB.Backend)
	}

	service := NewService(repository, client, a.Documents, a.Customers, a.logger)
	reconciler := NewReconciler(service, a.logger, ReconcilerOptions{
		WebhookSecret: creds.WebhookSecret(),
		StaleAfter:    a.config.Reconciler.StaleAfter,
		SweepEvery:    a.config.Reconciler.SweepEvery,
		Retention:     a.config.Reconciler.Retention,
		PurgeEvery:    a.config.Reconciler.PurgeEvery,
		Notify:        a.Notify,
	})

	router := chi.NewRouter()
	router.Use(middleware.NewStructuredLogger(a.logger))

	api := NewAPI(service, reconciler)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := service.StoreHealthy(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/-/gateway", func(w http.ResponseWriter, r *http.Request) {
		res := service.Health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !res.IsSuccess {
			w.WriteHeader(http.StatusBadGateway)
		}
		fmt.Fprintf(w, "{\"is_success\":%t,\"response_code\":%q,\"message\":%q}",
			res.IsSuccess, res.ResponseCode, res.Message)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		reconciler.Run(ctx)
		a.wg.Done()
	}()

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

// selectClient picks the acquirer implementation from the resolved
// credentials: placeholder or mock credentials get the mock client, the token
// scheme speaks the SOAP dialect, the legacy scheme the signed REST dialect.
func selectClient(cfg *Config, creds credentials.Credentials, logger *slog.Logger) acquirer.Client {
	switch {
	case creds.Mock || cfg.Gateway.UseMock:
		logger.Info("mock acquirer client selected")
		return acquirer.NewMockClient()
	case creds.Scheme == credentials.SchemeToken:
		c := acquirer.NewSOAPClient(cfg.Gateway.Environment, creds, logger, nil)
		c.SetCulture(cfg.Gateway.Culture)
		return c
	default:
		c := acquirer.NewRESTClient(cfg.Gateway.Environment, creds, logger, nil)
		c.SetCulture(cfg.Gateway.Culture)
		return c
	}
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	a.srv.Shutdown(context.Background())
	a.cancel()

	a.wg.Wait()

	a.logger.Info("app stopped")
}
