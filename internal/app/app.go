// Package app wires the seat reservation core to its backing services and
// runs the operational HTTP server.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/atakanes/seatlock/internal/domain"
	"github.com/atakanes/seatlock/internal/events"
	"github.com/atakanes/seatlock/internal/repository"
	"github.com/atakanes/seatlock/internal/reservation"
	"github.com/atakanes/seatlock/internal/seatlock"
	appvalidator "github.com/atakanes/seatlock/internal/validator"
	"github.com/atakanes/seatlock/internal/vcs"
)

var (
	version = vcs.Version()
)

type Application struct {
	config Config
	logger *slog.Logger
	db     *pgxpool.Pool
	redis  redis.UniversalClient
	amqp   *amqp.Connection

	memory      *seatlock.MemoryStore
	store       *seatlock.FailoverStore
	coordinator *reservation.Coordinator
}

type Config struct {
	Port int
	Env  string
	DB   struct {
		DSN          string
		MaxOpenConns int
		MaxIdleTime  time.Duration
	}
	Redis struct {
		URL          string
		MaxOpenConns int
		MaxIdleConns int
		MaxIdleTime  time.Duration
	}
	AMQP struct {
		URL      string
		Exchange string
	}
	Lock struct {
		HoldTTL       time.Duration
		AdminToken    string
		ProbeInterval time.Duration
	}
	OtelCollectorUrl string
}

func Run() error {
	// Missing .env is fine; flags and real environment still apply.
	_ = godotenv.Load()

	var cfg Config

	flag.IntVar(&cfg.Port, "port", envInt("SEATLOCKD_PORT", 3000), "server port")
	flag.StringVar(&cfg.Env, "env", envString("SEATLOCKD_ENV", "dev"), "Environment (dev|staging|prod)")

	flag.StringVar(&cfg.DB.DSN, "db-dsn", envString("SEATLOCKD_DB_DSN", ""), "PostgreSQL DSN")
	flag.IntVar(&cfg.DB.MaxOpenConns, "db-max-open-conns", 25, "PostgreSQL max open connections")
	flag.DurationVar(&cfg.DB.MaxIdleTime, "db-max-idle-time", 15*time.Minute, "PostgreSQL max idle time for connections")

	flag.StringVar(&cfg.Redis.URL, "redis-url", envString("SEATLOCKD_REDIS_URL", ""), "Redis URL")
	flag.IntVar(&cfg.Redis.MaxOpenConns, "redis-max-open-conns", 25, "Redis max open connections")
	flag.IntVar(&cfg.Redis.MaxIdleConns, "redis-max-idle-conns", 10, "Redis max idle connections")
	flag.DurationVar(&cfg.Redis.MaxIdleTime, "redis-max-idle-time", 2*time.Minute, "Redis max idle time for connections")

	flag.StringVar(&cfg.AMQP.URL, "amqp-url", envString("SEATLOCKD_AMQP_URL", ""), "RabbitMQ URL (empty disables the broker sink)")
	flag.StringVar(&cfg.AMQP.Exchange, "amqp-exchange", envString("SEATLOCKD_AMQP_EXCHANGE", "seat.events"), "RabbitMQ exchange for seat events")

	flag.DurationVar(&cfg.Lock.HoldTTL, "hold-ttl", 10*time.Minute, "How long an unpromoted seat hold survives")
	flag.StringVar(&cfg.Lock.AdminToken, "admin-token", envString("SEATLOCKD_ADMIN_TOKEN", ""), "Token for administrative seat release (empty disables it)")
	flag.DurationVar(&cfg.Lock.ProbeInterval, "probe-interval", 5*time.Second, "Primary store health probe interval")

	flag.StringVar(&cfg.OtelCollectorUrl, "otel-collector-url", envString("SEATLOCKD_OTEL_COLLECTOR_URL", ""), "OpenTelemetry collector URL")

	displayVersion := flag.Bool("version", false, "Display version and exit")

	flag.Parse()

	if *displayVersion {
		fmt.Printf("Version:\t%s\n", version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	db, err := newDatabasePool(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := newRedisClient(cfg, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	app, err := newApplication(cfg, logger, db, redisClient)
	if err != nil {
		return err
	}
	if app.amqp != nil {
		defer app.amqp.Close()
	}

	return app.run()
}

func newApplication(cfg Config, logger *slog.Logger, db *pgxpool.Pool, redisClient redis.UniversalClient) (*Application, error) {
	app := &Application{
		config: cfg,
		logger: logger,
		db:     db,
		redis:  redisClient,
	}

	sinks := []events.Sink{events.NewLogSink(logger)}

	if cfg.AMQP.URL != "" {
		conn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
		app.amqp = conn

		publisher, err := events.NewAMQPPublisher(conn, cfg.AMQP.Exchange)
		if err != nil {
			return nil, fmt.Errorf("set up broker publisher: %w", err)
		}
		sinks = append(sinks, publisher)
	} else {
		logger.Info("no broker configured, seat events stay process-local")
	}

	// A stateRefresh after recovery invalidates the reconciler's marker for
	// that showtime, since the primary may have come back empty. The closure
	// runs only after wiring finishes, so reading the variable late is safe.
	var reconciler *reservation.BookingStateReconciler
	sinks = append(sinks, events.SinkFunc(func(_ context.Context, ev domain.Event) error {
		if ev.Type == domain.EventStateRefresh && reconciler != nil {
			reconciler.Forget(ev.ShowtimeID)
		}
		return nil
	}))

	sink := events.Fanout(sinks...)

	memory := seatlock.NewMemoryStore()
	failover := seatlock.NewFailoverStore(
		seatlock.NewRedisStore(redisClient),
		memory,
		sink,
		logger,
		seatlock.FailoverConfig{ProbeInterval: cfg.Lock.ProbeInterval},
	)

	reconciler = reservation.NewBookingStateReconciler(
		failover,
		repository.NewPostgresBookingRepository(db),
		logger,
	)

	app.memory = memory
	app.store = failover
	app.coordinator = reservation.NewCoordinator(
		failover,
		repository.NewPostgresSeatMapRepository(db),
		reconciler,
		reservation.NewSeatAdjacencyValidator(logger),
		appvalidator.NewValidator(),
		sink,
		failover,
		logger,
		reservation.CoordinatorConfig{
			HoldTTL:    cfg.Lock.HoldTTL,
			AdminToken: cfg.Lock.AdminToken,
		},
	)

	return app, nil
}

func newRedisClient(cfg Config, logger *slog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Redis.URL,
		MaxIdleConns:    cfg.Redis.MaxIdleConns,
		MaxActiveConns:  cfg.Redis.MaxOpenConns,
		ConnMaxIdleTime: cfg.Redis.MaxIdleTime,
	})

	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// A dead Redis at boot is not fatal: operations fail over to the
	// in-process store until the health prober sees Redis up again.
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, serving from fallback", "error", err)
	}

	return rdb, nil
}

func newDatabasePool(cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, err
	}

	config.MaxConnIdleTime = cfg.DB.MaxIdleTime
	config.MaxConns = int32(cfg.DB.MaxOpenConns)
	config.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = db.Ping(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (app *Application) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.memory.StartJanitor(ctx, time.Minute)
	app.store.Start(ctx)

	shutdownTelemetry, err := app.InitTelemetry()
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", app.config.Port),
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelDebug),
	}

	shutdownError := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("shutting down server", "signal", s.String())

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			shutdownError <- err
		}

		shutdownError <- nil
	}()

	app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.Env)

	err = srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdownError
	if err != nil {
		return err
	}

	app.logger.Info("stopped server", "addr", srv.Addr)

	return nil
}

func (app *Application) routes() http.Handler {
	r := chi.NewRouter()

	r.NotFound(app.notFoundResponse)

	r.Use(middleware.Logger)
	r.Use(middleware.RequestID)
	r.Use(app.recoverPanic)

	r.Get("/healthz", app.GetHealth)

	r.Route("/v1/showtimes/{showtimeID}", func(r chi.Router) {
		r.Get("/seats", app.GetShowtimeSeats)
		r.Get("/stats", app.GetShowtimeStats)

		r.Route("/seats/{seatID}", func(r chi.Router) {
			r.Post("/release", app.AdminReleaseSeat)
			r.Post("/cancel", app.CancelBookedSeat)
		})
	})

	return r
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return n
}
