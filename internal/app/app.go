package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spread-scanner/internal/alerting"
	"spread-scanner/internal/cache"
	"spread-scanner/internal/config"
	"spread-scanner/internal/export"
	"spread-scanner/internal/metrics"
	"spread-scanner/internal/onchain"
	"spread-scanner/internal/publish"
	"spread-scanner/internal/scanner"
	"spread-scanner/internal/server"
	"spread-scanner/internal/service"
	"spread-scanner/internal/storage"
	"spread-scanner/internal/universe"
	"spread-scanner/internal/venue"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// engineSet is everything needed to run cycles.
type engineSet struct {
	engine   *scanner.Engine
	listings *universe.ListingCache
	oracle   *onchain.GasOracle
	metrics  *metrics.Registry
	snaps    *cache.Store
	closers  []func()
}

func (e *engineSet) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (a *App) newPresets() universe.PresetSource {
	cmc := a.Config.Universe.CMC
	if cmc.APIKey == "" {
		return universe.StaticPreset{}
	}
	return universe.NewCMC(universe.CMCOptions{
		APIKey:   cmc.APIKey,
		BaseURL:  cmc.BaseURL,
		Timeout:  cmc.Timeout,
		MaxTries: a.Config.Universe.RefreshTries,
	}, a.Logger)
}

func (a *App) openCache(ctx context.Context) (*cache.Store, func(), error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return nil, nil, nil
	}
	store, err := cache.New(ctx, cache.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		Prefix:   rc.Prefix,
		TTL:      rc.TTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func (a *App) newOracle() *onchain.GasOracle {
	oc := a.Config.Onchain
	if oc.RPCURL == "" {
		return nil
	}
	return onchain.NewGasOracle(onchain.Options{
		RPCURL:      oc.RPCURL,
		Network:     oc.Network,
		Asset:       oc.Asset,
		GasLimit:    oc.GasLimit,
		NativePrice: oc.NativePrice,
		PriceFeed:   oc.PriceFeed,
		Timeout:     oc.RequestTimeout,
	}, a.Logger)
}

// buildEngine wires venue clients, the listing cache and the engine. The
// shared Redis cache is optional.
func (a *App) buildEngine(ctx context.Context) (*engineSet, error) {
	clients, err := venue.NewSet(a.Config.VenueSpecs(), a.Logger)
	if err != nil {
		return nil, err
	}

	set := &engineSet{metrics: metrics.NewRegistry(), oracle: a.newOracle()}
	snaps, closeCache, err := a.openCache(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; listing cache is process local")
	}
	var listingStore universe.ListingStore
	if snaps != nil {
		listingStore = snaps
		set.snaps = snaps
		set.closers = append(set.closers, closeCache)
	}

	set.listings = universe.NewListingCache(clients, a.newPresets(), listingStore, universe.CacheOptions{
		RefreshEvery: a.Config.Universe.Refresh,
		MaxTries:     a.Config.Universe.RefreshTries,
		PresetSize:   a.Config.PresetSize(),
	}, a.Logger)

	opts := scanner.Options{
		HistorySize:      a.Config.Scan.History,
		BreakerThreshold: a.Config.Scan.BreakerThreshold,
		BreakerCooldown:  a.Config.Scan.BreakerCooldown,
		Metrics:          set.metrics,
		AlignToInterval:  a.Config.Scan.AlignToInterval,
		StartupDelay:     a.Config.Scan.StartupDelay,
	}
	if set.oracle != nil {
		opts.Adjuster = set.oracle
	}
	set.engine = scanner.NewEngine(clients, set.listings, opts, a.Logger)
	return set, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newExporters builds the per-cycle sinks: file, S3 and Kafka.
func (a *App) newExporters(ctx context.Context) ([]export.Exporter, func(), error) {
	var (
		sinks   []export.Exporter
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	ec := a.Config.Export
	format, err := export.ParseFormat(ec.Format)
	if err != nil {
		return nil, nil, err
	}
	if ec.Path != "" {
		sinks = append(sinks, export.NewFileSink(ec.Path, export.FormatFromPath(ec.Path, format)))
	}
	if ec.S3.Bucket != "" {
		s3Sink, err := export.NewS3Sink(ctx, export.S3Options{
			Bucket:    ec.S3.Bucket,
			Prefix:    ec.S3.Prefix,
			Region:    ec.S3.Region,
			Endpoint:  ec.S3.Endpoint,
			AccessKey: ec.S3.AccessKey,
			SecretKey: ec.S3.SecretKey,
			PathStyle: ec.S3.PathStyle,
			Format:    format,
		}, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, s3Sink)
	}
	if len(a.Config.Kafka.Brokers) > 0 {
		pub, err := publish.NewKafkaPublisher(publish.Options{
			Brokers:      a.Config.Kafka.Brokers,
			Topic:        a.Config.Kafka.Topic,
			BatchTimeout: a.Config.Kafka.BatchTimeout,
		}, a.Logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, pub)
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close kafka writer")
			}
		})
	}
	return sinks, closeAll, nil
}

// Run executes the long-running scanning service, with the HTTP boundary
// when server.addr is configured.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	set, err := a.buildEngine(ctx)
	if err != nil {
		return err
	}
	defer set.Close()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	exporters, closeExporters, err := a.newExporters(ctx)
	if err != nil {
		return err
	}
	defer closeExporters()

	scanCfg, err := a.Config.ScannerConfig(nil)
	if err != nil {
		return err
	}

	deps := service.Deps{Exporters: exporters}
	if store != nil {
		deps.Store = store
		deps.Alerts = store
		deps.Locker = store
	}
	if set.snaps != nil {
		deps.Snapshots = set.snaps
	}
	if a.Config.Alerting.Enabled {
		if notifier := a.newNotifier(); notifier != nil {
			deps.Notifier = notifier
			deps.Throttle = alerting.NewThrottle(a.Config.AlertThreshold(), a.Config.Alerting.Cooldown, a.Config.Alerting.MaxPerCycle)
		} else {
			a.Logger.Warn().Msg("alerting enabled without any channel")
		}
	}

	svc := service.New(set.engine, scanCfg, deps, service.Options{
		Interval:        a.Config.Scan.Interval,
		AdvisoryLockKey: a.Config.Scan.AdvisoryLockKey,
		Retention:       a.Config.Database.Retention,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Server.Addr != "" {
		srv := server.New(server.Options{
			Addr:     a.Config.Server.Addr,
			History:  set.engine.History(),
			Snapshot: snapshotSource(set.snaps),
			Metrics:  set.metrics.Handler(),
		}, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	a.Logger.Info().
		Strs("venues", scanCfg.Universe.Venues).
		Dur("interval", a.Config.Scan.Interval).
		Int("workers", scanCfg.Workers).
		Msg("starting scanning service")
	g.Go(func() error {
		err := svc.Run(gctx)
		// stop the HTTP server with the scanner
		cancel()
		return err
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scanning service stopped")
	return nil
}

// Serve runs only the HTTP boundary, reading the snapshot another process
// writes to Redis.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	snaps, closeCache, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	if snaps == nil {
		return errors.New("redis.addr not configured; nothing to serve")
	}
	defer closeCache()

	addr := a.Config.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := server.New(server.Options{Addr: addr, Snapshot: snaps}, a.Logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// snapshotSource avoids handing the server a typed nil.
func snapshotSource(s *cache.Store) server.LatestCycleSource {
	if s == nil {
		return nil
	}
	return s
}

// ScanOptions override configuration for a one-shot scan.
type ScanOptions struct {
	Venues    []string
	Exclude   []string
	Quotes    []string
	Bases     []string
	Preset    string
	Size      string
	TopN      int
	Threshold string
	MinVolume string
	Export    string
	Format    string
	PNGPath   string
}

// ExportOptions hold parameters for exporting cycle history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	// Opportunities lists the ranked rows of the newest cycle as well.
	Opportunities bool
}

// SimulateOptions describe a synthetic opportunity for the alert pipeline.
type SimulateOptions struct {
	Symbol    string
	BuyVenue  string
	SellVenue string
	BuyPrice  string
	SellPrice string
	Size      string
}
