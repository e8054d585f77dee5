package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/annel0/blockverse/internal/api"
	"github.com/annel0/blockverse/internal/auth"
	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/config"
	"github.com/annel0/blockverse/internal/eventbus"
	"github.com/annel0/blockverse/internal/logging"
	"github.com/annel0/blockverse/internal/metrics"
	"github.com/annel0/blockverse/internal/network"
	"github.com/annel0/blockverse/internal/playerdata"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/session"
	"github.com/annel0/blockverse/internal/tick"
	"github.com/annel0/blockverse/internal/vec"
	"github.com/annel0/blockverse/internal/world"
	"github.com/annel0/blockverse/internal/world/block"
	"github.com/annel0/blockverse/internal/world/block/implementations"
	"github.com/annel0/blockverse/internal/world/entity"
	"github.com/annel0/blockverse/internal/world/gen"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default: $GAME_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	level, ok := logging.ParseLevel(cfg.Logging.Level)
	if !ok {
		log.Fatalf("❌ Неизвестный уровень логирования %q", cfg.Logging.Level)
	}
	logging.Configure(logging.Options{Dir: cfg.Logging.Dir, ConsoleLevel: level, FileLevel: logging.DEBUG})
	if err := logging.InitDefaultLogger(); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.GetLoggerManager().CloseAll()
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)
	sampler := metrics.NewProcessSampler()
	sampler.Register(reg)

	schema, err := protocol.NewSchema(int32(cfg.Server.ProtocolVersion))
	if err != nil {
		return err
	}

	// === МИР ===
	compression, err := chunk.ParseCompression(cfg.World.Compression)
	if err != nil {
		return err
	}
	generator := gen.NewPerlinGenerator(cfg.World.Seed)
	store, err := chunk.Open(chunk.Options{
		Dir:         cfg.World.Dir,
		Generator:   generator,
		Compression: compression,
		EvictGrace:  cfg.World.EvictGrace(),
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}

	blocks := block.NewRegistry()
	implementations.RegisterDefaults(blocks)
	blocks.Freeze()
	entities := entity.NewRegistry()
	entity.RegisterDefaults(entities)
	entities.Freeze()

	w := world.New(world.Options{
		Store:    store,
		Blocks:   blocks,
		Entities: entities,
		Metrics:  m,
		Spawn:    vec.Vec3{X: 8.5, Y: generator.SpawnHeight(8, 8), Z: 8.5},
	})
	logging.Info("🌍 Мир %s (seed %d, сжатие %s)", cfg.World.Dir, cfg.World.Seed, compression)

	players, err := playerdata.OpenBadger(filepath.Join(cfg.World.Dir, "playerdata"))
	if err != nil {
		return err
	}
	defer players.Close()

	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()
	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		return err
	}
	eventbus.RegisterMetrics(reg, bus)

	// === ТИК-ЦИКЛ ===
	sched, err := tick.New(tick.Options{
		World:         w,
		Period:        cfg.World.TickInterval(),
		ViewDistance:  cfg.Server.ViewDistance,
		MaxPlayers:    cfg.Server.MaxPlayers,
		AutosaveTicks: cfg.World.AutosaveTicks,
		Seed:          cfg.World.Seed,
		PlayerData:    players,
		Bus:           bus,
		Metrics:       m,
	})
	if err != nil {
		return err
	}

	// === АУТЕНТИФИКАЦИЯ ===
	provider, users, tokens, err := buildAuth(cfg.Server)
	if err != nil {
		return err
	}

	srv := network.NewServer(network.Options{
		Addr:       ":" + strconv.Itoa(cfg.Server.Port),
		MaxPlayers: cfg.Server.MaxPlayers,
		MOTD:       cfg.Server.MOTD,
		Session: session.Config{
			Schema:               schema,
			Auth:                 provider,
			Intents:              sched,
			Metrics:              m,
			CompressionThreshold: cfg.Server.CompressionThreshold,
			KeepAliveTimeout:     cfg.Server.KeepAliveTimeout(),
		},
		Scheduler: sched,
		Store:     store,
	})
	if err := srv.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, tick.ErrStopped) {
			return fmt.Errorf("tick loop: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if listen := cfg.Admin.GetListen(); listen != "" {
		rest := api.NewRestServer(api.Config{
			Listen:     listen,
			MaxPlayers: cfg.Server.MaxPlayers,
			Players:    sched,
			Network:    srv,
			Chunks:     store,
			Bus:        bus,
			Sampler:    sampler,
			Registry:   reg,
			Gatherer:   reg,
			Users:      users,
			Tokens:     tokens,
		})
		g.Go(rest.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return rest.Stop(shutdownCtx)
		})
	}

	logging.Info("✅ Сервер запущен: порт %d, протокол %d, до %d игроков",
		cfg.Server.Port, schema.Version(), cfg.Server.MaxPlayers)

	err = g.Wait()
	// Serve уже закрыл сессии и сохранил чанки; повтор безопасен
	if shutdownErr := srv.Shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		return eventbus.NewMemoryBus(1024), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("connect event bus %s: %w", cfg.URL, err)
	}
	logging.Info("📨 Шина событий NATS JetStream: %s, поток %s", cfg.URL, cfg.Stream)
	return bus, nil
}

// buildAuth собирает цепочку проверки входа. users и tokens нужны админ API
// и могут быть nil.
func buildAuth(cfg config.ServerConfig) (auth.Provider, auth.UserRepository, *auth.TokenProvider, error) {
	var (
		provider auth.Provider = auth.OfflineProvider{}
		users    auth.UserRepository
		tokens   *auth.TokenProvider
	)

	if cfg.UsersFile != "" {
		repo, err := auth.LoadUsersFile(cfg.UsersFile)
		if err != nil {
			return nil, nil, nil, err
		}
		users = repo
	}
	if cfg.TokenSecret != "" {
		tp, err := auth.NewTokenProvider([]byte(cfg.TokenSecret))
		if err != nil {
			return nil, nil, nil, err
		}
		tokens = tp
	}

	switch cfg.OnlineAuth {
	case config.AuthPassword:
		if users == nil {
			return nil, nil, nil, errors.New("server.users_file is required for password auth")
		}
		provider = &auth.PasswordProvider{Users: users}
	case config.AuthToken:
		provider = tokens
	}
	if cfg.WhitelistEnabled {
		provider = auth.NewWhitelistProvider(provider, cfg.Whitelist)
	}

	logging.Info("🔐 Режим входа: %s (белый список: %v)", cfg.OnlineAuth, cfg.WhitelistEnabled)
	return provider, users, tokens, nil
}
