package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/http/handler"
	"github.com/tokengate/tokengate/internal/http/router"
	"github.com/tokengate/tokengate/internal/notify"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/platform"
	"github.com/tokengate/tokengate/internal/pool"
	"github.com/tokengate/tokengate/internal/repository"
	"github.com/tokengate/tokengate/internal/security"
	"github.com/tokengate/tokengate/internal/service"
	"github.com/tokengate/tokengate/internal/source"
)

// App is the assembled process: engine, HTTP server and the background
// reaper, wired from one Config.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Engine        *service.Engine
	Reaper        *service.Reaper
	Observability *observability.Runtime
}

// emptyRoles stands in when no roles endpoint is configured; every user
// resolves to no tier, which claims report as a denial.
type emptyRoles struct{}

func (emptyRoles) GetRoleIDs(context.Context, string) ([]string, error) { return nil, nil }

func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*App, error) {
	sources := make([]source.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := source.New(domain.SourceInfo{
			Alias:    sc.Alias,
			Kind:     domain.SourceKind(sc.Kind),
			Location: sc.Location,
		}, cfg.SourceTimeout)
		if err != nil {
			return nil, fmt.Errorf("build source %q: %w", sc.Alias, err)
		}
		sources = append(sources, src)
	}

	p := pool.New(sources, logger)
	if err := p.Load(ctx); err != nil {
		return nil, err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&domain.CooldownEntry{}, &domain.ClaimEvent{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	events := repository.NewClaimEventRepository(db)

	store, err := buildCooldownStore(cfg, db)
	if err != nil {
		return nil, err
	}
	tracker := service.NewCooldownTracker(store, cfg.CooldownWindow)

	tiers := make([]domain.Tier, 0, len(cfg.Tiers))
	for _, tc := range cfg.Tiers {
		tiers = append(tiers, domain.Tier{
			Name:        tc.Name,
			Rank:        tc.Rank,
			SourceAlias: tc.SourceAlias,
			TokenTTL:    tc.TokenTTL,
			Shared:      tc.Shared,
		})
	}
	resolver := service.NewTierResolver(tiers, cfg.Roles)

	var notifier service.Notifier = service.NewNoopNotifier()
	if cfg.NotifyWebhook != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhook, logger)
	}
	var roles service.RolesClient = emptyRoles{}
	if cfg.RolesEndpoint != "" {
		roles = platform.NewRolesClient(cfg.RolesEndpoint)
	} else {
		logger.Warn("no roles endpoint configured, all claims will resolve to no tier")
	}

	pepper := cfg.TokenPepper
	if pepper == "" {
		pepper = cfg.AuthSecret
	}
	sessions := service.NewSessionManager()
	coordinator := service.NewCoordinator(service.CoordinatorParams{
		Pool:      p,
		Tiers:     resolver,
		Cooldowns: tracker,
		Sessions:  sessions,
		Events:    events,
		Notifier:  notifier,
		Hasher:    security.NewTokenHasher(pepper),
		Logger:    logger,
	})
	reaper := service.NewReaper(service.ReaperParams{
		Pool:           p,
		Cooldowns:      tracker,
		Notifier:       notifier,
		Events:         events,
		Interval:       cfg.ReaperInterval,
		EventRetention: cfg.EventRetention,
		Logger:         logger,
	})
	engine := service.NewEngine(service.EngineParams{
		Coordinator: coordinator,
		Sessions:    sessions,
		Pool:        p,
		Cooldowns:   tracker,
		Roles:       roles,
		Reaper:      reaper,
		Logger:      logger,
	})

	jwtMgr := security.NewJWTManager(cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthSecret)
	h := router.NewRouter(router.Dependencies{
		ClaimHandler:      handler.NewClaimHandler(engine),
		SessionHandler:    handler.NewSessionHandler(engine),
		AdminHandler:      handler.NewAdminHandler(engine),
		JWTManager:        jwtMgr,
		APIRateLimitRPM:   cfg.APIRateLimitRPM,
		ClaimRateLimitRPM: cfg.ClaimRateLimitRPM,
		EnableOTelHTTP:    cfg.OTELTracesEnabled,
	})
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Engine:        engine,
		Reaper:        reaper,
		Observability: runtime,
	}, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	default:
		db, err := gorm.Open(sqlite.Open(cfg.DatabaseDSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, nil
	}
}

func buildCooldownStore(cfg *config.Config, db *gorm.DB) (service.CooldownStore, error) {
	switch cfg.CooldownBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return service.NewRedisCooldownStore(client, "cooldown"), nil
	case "database":
		return service.NewDatabaseCooldownStore(repository.NewCooldownRepository(db)), nil
	case "memory":
		return service.NewInMemoryCooldownStore(), nil
	default:
		return nil, fmt.Errorf("unknown cooldown backend %q", cfg.CooldownBackend)
	}
}

// Run serves HTTP and drives the reaper until the context is cancelled,
// then drains both.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := a.Reaper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if obsErr := a.Observability.Shutdown(shutdownCtx); obsErr != nil {
		a.Logger.Warn("observability shutdown failed", "error", obsErr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
