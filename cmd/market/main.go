package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	market "github.com/goliatone/go-market"
	"github.com/goliatone/go-market/config"
	"github.com/goliatone/go-market/csrf"
	"github.com/goliatone/go-market/jobs"
	"github.com/goliatone/go-market/logging"
	"github.com/goliatone/go-market/mediahost"
	"github.com/goliatone/go-market/messaging"
	"github.com/goliatone/go-market/metrics"
	"github.com/goliatone/go-market/payment/forestapi"
	"github.com/goliatone/go-market/redisstore"
	"github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
	"go.uber.org/zap"
)

type App struct {
	config  *config.Config
	zap     *zap.Logger
	logger  *logging.Logger
	db      *bun.DB
	repo    market.RepositoryManager
	store   market.SessionStore
	metrics *metrics.Collector
	sink    market.ActivitySink
	srv     router.Server[*fiber.App]
	sched   *jobs.Scheduler

	closers []func() error
}

func (a *App) GetLogger(name string) *logging.Logger {
	return a.logger.Named(name)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the yaml config file")
	envFile := flag.String("env", config.DefaultEnvFile, "optional .env file")
	usage := flag.Bool("usage", false, "print the environment variables and exit")
	flag.Parse()

	if *usage {
		fmt.Println(config.Usage())
		return
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	zl, err := logging.New(logging.Options{
		Mode:  cfg.App.Env,
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	app := &App{
		config: cfg,
		zap:    zl,
		logger: logging.Sugar(zl),
	}

	if !cfg.IsProduction() {
		app.GetLogger("config").Debug("loaded config:\n%s", print.MaybeHighlightJSON(cfg))
	}

	ctx := context.Background()
	if err := run(ctx, app); err != nil {
		app.logger.Error("market stopped: %v", err)
		_ = zl.Sync()
		os.Exit(1)
	}
	_ = zl.Sync()
}

func run(ctx context.Context, app *App) error {
	defer app.close()

	if err := WithPersistence(ctx, app); err != nil {
		return err
	}
	if err := WithSessionStore(ctx, app); err != nil {
		return err
	}
	if err := WithActivity(ctx, app); err != nil {
		return err
	}
	if err := WithHTTPServer(ctx, app); err != nil {
		return err
	}
	if err := WithJobs(ctx, app); err != nil {
		return err
	}
	if err := SeedAdmin(ctx, app); err != nil {
		return err
	}

	metricsSrv := &http.Server{
		Addr:              app.config.Metrics.Addr,
		Handler:           metricsMux(app.metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		app.logger.Info("listening on %s", app.config.App.Addr)
		errc <- app.srv.Serve(app.config.App.Addr)
	}()
	go func() {
		app.logger.Info("metrics on %s", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	app.sched.Start()

	var serveErr error
	select {
	case sig := <-waitExitSignal():
		app.logger.Info("received %s, shutting down", sig)
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	app.sched.Stop(shutdownCtx)
	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("http shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("metrics shutdown: %v", err)
	}
	return serveErr
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close: %v", err)
		}
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	pcfg := app.config.GetPersistence()

	var (
		db      *sql.DB
		dialect schema.Dialect
		err     error
	)
	switch pcfg.GetDriver() {
	case "postgres":
		db, err = sql.Open("pgx", pcfg.GetDSN())
		dialect = pgdialect.New()
	default:
		db, err = sql.Open(sqliteshim.ShimName, pcfg.GetDSN())
		dialect = sqlitedialect.New()
	}
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	persistence.RegisterModel((*market.User)(nil))
	persistence.RegisterModel((*market.Product)(nil))
	persistence.RegisterModel((*market.Deposit)(nil))
	persistence.RegisterModel((*market.SessionRecord)(nil))

	client, err := persistence.New(pcfg, db, dialect)
	if err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	client.SetLogger(app.GetLogger("persistence"))

	migrationsFS, err := fs.Sub(market.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return err
	}
	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)
	if err := client.ValidateDialects(ctx); err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return err
	}

	app.db = client.DB()
	app.repo = market.NewRepositoryManager(app.db)
	if err := app.repo.Validate(); err != nil {
		return err
	}
	app.onClose(app.db.Close)
	return nil
}

func WithSessionStore(ctx context.Context, app *App) error {
	if app.config.Session.Store != "redis" {
		app.store = app.repo.Sessions()
		return nil
	}

	rcfg := app.config.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     rcfg.Addr,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("connect redis %s: %w", rcfg.Addr, err)
	}
	app.onClose(client.Close)

	app.store = redisstore.New(client, app.repo.Users(),
		redisstore.WithPrefix(rcfg.Prefix),
		redisstore.WithLogger(app.GetLogger("sessions")),
	)
	return nil
}

func WithActivity(_ context.Context, app *App) error {
	app.metrics = metrics.New()
	sinks := market.MultiSink{app.metrics}

	if uri := app.config.RabbitMQ.URI; uri != "" {
		pub, conn, err := messaging.Dial(uri,
			messaging.WithExchange(app.config.RabbitMQ.Exchange),
			messaging.WithLogger(app.GetLogger("activity")),
		)
		if err != nil {
			return err
		}
		app.onClose(func() error {
			if err := pub.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				return err
			}
			return conn.Close()
		})
		sinks = append(sinks, pub)
	}

	app.sink = sinks
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	cfg := app.config

	tokens := market.NewTokenService([]byte(cfg.GetSigningKey()), cfg.GetIssuer(),
		market.WithTokenLogger(app.GetLogger("tokens")),
	)
	sessions := market.NewSessionManager(app.store, tokens, cfg,
		market.WithSessionLogger(app.GetLogger("sessions")),
	)
	flasher := market.NewFlasher(tokens, cfg, market.WithFlashLogger(app.GetLogger("flash")))

	machine := market.NewModerationMachine(app.repo.Products(),
		market.WithStateMachineActivitySink(app.sink),
		market.WithStateMachineLogger(app.GetLogger("moderation")),
		market.WithDefaultVerifier(cfg.GetDefaultVerifier()),
	)

	media := mediahost.New(mediahost.Config{
		URL:        cfg.Media.URL,
		APIKey:     cfg.Media.APIKey,
		APISecret:  cfg.Media.APISecret,
		HTTPClient: &http.Client{Timeout: cfg.Media.Timeout},
	})
	payments := forestapi.New(forestapi.Config{
		BaseURL:    cfg.Payment.BaseURL,
		APIKey:     cfg.Payment.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.Payment.Timeout},
		Logger:     app.GetLogger("payments"),
	})

	controllers := market.NewControllers(market.Services{
		Repo:        app.repo,
		Sessions:    sessions,
		Flasher:     flasher,
		Machine:     machine,
		Media:       media,
		Payments:    payments,
		Activity:    app.sink,
		Logger:      app.GetLogger("http"),
		Debug:       !cfg.IsProduction(),
		PhoneRegion: cfg.App.PhoneRegion,
	})

	resolver := market.NewIdentityResolver(sessions,
		market.WithResolverFlasher(flasher),
		market.WithResolverObserver(app.metrics.ResolveObserver()),
		market.WithResolverLogger(app.GetLogger("resolver")),
	)
	gate := market.NewGate(
		market.WithGateFlasher(flasher),
		market.WithGateSessions(sessions),
		market.WithGateRoutes(cfg.GetLoginRoute(), "/"),
		market.WithGateDenyHandler(controllers.Errors.DenyHandler()),
		market.WithGateObserver(app.metrics.GateObserver()),
		market.WithGateLogger(app.GetLogger("gate")),
	)

	engine := django.New(cfg.App.ViewsDir, ".html")
	engine.AddFuncMap(market.TemplateHelpers())
	engine.Reload(!cfg.IsProduction())

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			StrictRouting:     false,
			PassLocalsToViews: true,
			BodyLimit:         8 << 20,
			Views:             engine,
		}))
	})

	srv.Router().Use(flasher.Middleware())
	srv.Router().Use(resolver.Middleware())

	if cfg.CSRF.Enabled {
		protector, err := csrf.New(csrf.Config{
			SecureKey:    []byte(cfg.CSRF.SecureKey),
			Expiration:   cfg.CSRF.Expiration,
			ErrorHandler: controllers.Errors.Handle,
		})
		if err != nil {
			return err
		}
		srv.Router().Use(protector.Middleware())
		srv.Router().Get("/csrf", protector.TokenHandler()).SetName("csrf.get")
	}

	srv.Router().Static("/", ".", router.Static{
		FS:   os.DirFS(cfg.App.PublicDir),
		Root: ".",
	})

	market.RegisterRoutes(srv.Router(), controllers, gate, app.repo.Products())

	app.srv = srv
	return nil
}

func WithJobs(_ context.Context, app *App) error {
	opts := []market.CommandOption{
		market.WithCommandLogger(app.GetLogger("jobs")),
		market.WithCommandActivitySink(app.sink),
	}

	app.sched = jobs.New(
		jobs.WithLocation(time.UTC),
		jobs.WithLogger(app.GetLogger("jobs")),
	)
	return app.sched.Register(
		jobs.Specs{
			ExpireDeposits: app.config.Jobs.ExpireDeposits,
			PurgeSessions:  app.config.Jobs.PurgeSessions,
		},
		market.NewExpireDepositsHandler(app.repo, opts...),
		market.NewPurgeSessionsHandler(app.store, opts...),
	)
}

func SeedAdmin(ctx context.Context, app *App) error {
	acfg := app.config.App
	if acfg.SeedAdminEmail == "" {
		return nil
	}

	registerer := market.NewRegisterUserHandler(app.repo).
		WithLogger(app.GetLogger("seed")).
		WithActivitySink(app.sink)

	created, err := registerer.SeedAdmin(ctx, market.SeedAdminMessage{
		Username: acfg.SeedAdminUsername,
		Email:    acfg.SeedAdminEmail,
		Password: acfg.SeedAdminPassword,
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if !created {
		app.logger.Debug("admin %s already present", acfg.SeedAdminEmail)
	}
	return nil
}

func metricsMux(c *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func waitExitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}
