package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"erpsync/internal/api"
	"erpsync/internal/config"
	"erpsync/internal/database"
	"erpsync/internal/events"
	"erpsync/internal/export"
	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/models"
	"erpsync/internal/notify"
	"erpsync/internal/orchestrator"
	"erpsync/internal/queue"
	"erpsync/internal/repository"
	"erpsync/internal/rules"
	"erpsync/internal/service"
	"erpsync/internal/state"
	"erpsync/internal/tablestore"
	"erpsync/internal/validation"
	"erpsync/internal/worker"

	"github.com/rs/zerolog"
	yamlv2 "gopkg.in/yaml.v2"
)

// Table names of the daily pipeline. Vendor feeds land in the inbox
// tables out of band; the pipeline owns everything downstream.
const (
	tableProductsInbox   = "products_inbox"
	tableProductsStaging = "products_staging"
	tableProductsMaster  = "products"
	tableOrdersInbox     = "orders_inbox"
	tableOrdersStaging   = "orders_staging"
	tableOrdersMaster    = "orders"
	tableOrdersOutbox    = "erp_orders_outbox"
	tableERPInbox        = "erp_inbox"
	tableERPSnapshot     = "erp_snapshot"
	tableInventoryAdjust = "inventory_adjustments"
)

const (
	watchdogInterval = 10 * time.Minute
	validateSuiteCat = "catalog"
	validateSuiteOrd = "orders"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, logger); err != nil {
		return err
	}

	ruleSet, err := loadRules(cfg, logger)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := initStore(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	if err := seedTables(ctx, store, logger); err != nil {
		return err
	}

	locker, cache, redisClose := initRepository(ctx, cfg, logger)
	if redisClose != nil {
		defer redisClose()
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	eventBus := events.NewEventBus()
	subscribeEvents(eventBus, logger)

	machine := state.NewMachine(db, logger)
	jobQueue := queue.New(db, logger)

	notifier := initNotifier(cfg, db, logger)
	orch := orchestrator.New(db, notifier, eventBus, orchestrator.Options{
		SummaryThreshold: cfg.Sync.SummaryThreshold,
		NeverSummarize:   cfg.Sync.NeverSummarize,
	}, logger)
	engine := validation.NewEngine(store, logger)

	syncWorker := worker.NewSyncWorker(jobQueue, machine, engine, orch, ruleSet, eventBus, logger)
	syncWorker.SetPolling(time.Duration(cfg.Sync.PollIntervalSeconds)*time.Second, cfg.Sync.BatchSize)
	registerExecutors(syncWorker, store, machine, db, cfg, logger)
	go syncWorker.Start(ctx)

	syncService := service.NewSyncService(machine, jobQueue, locker, cache, eventBus, service.Options{
		StaleThreshold: time.Duration(cfg.Sync.StaleThresholdHours) * time.Hour,
		RecentWindow:   time.Duration(cfg.Sync.RecentFailureWindowHours) * time.Hour,
		StatusCacheTTL: time.Duration(cfg.Sync.StatusCacheTTLSeconds) * time.Second,
		LockTTL:        time.Duration(cfg.Sync.LockTTLSeconds) * time.Second,
	}, logger)
	go runWatchdog(ctx, syncService, logger)

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, syncService, db, cfg.Monitoring.PrometheusEnabled, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, logger)
		go backupService.Start(ctx)
	}

	logger.Info().Str("store", cfg.Store.Backend).Msg("sync daemon started")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	dirs := []string{
		filepath.Dir(cfg.Database.Path),
		cfg.Exports.Path,
	}
	if cfg.Backup.Enabled {
		dirs = append(dirs, cfg.Backup.StoragePath)
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error().Err(err).Str("dir", dir).Msg("failed to create directory")
			return err
		}
	}
	return nil
}

func loadRules(cfg *config.Config, logger *zerolog.Logger) (*rules.Set, error) {
	path := cfg.RulesPath
	if path == "" {
		path = "configs/rules.yaml"
	}
	set, err := rules.Load(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to load validation rules")
		return nil, err
	}
	logger.Info().Int("rules", len(set.All())).Str("path", path).Msg("validation rules loaded")
	return set, nil
}

func initStore(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) (tablestore.Store, error) {
	switch cfg.Store.Backend {
	case "sheets":
		retry := tablestore.RetryPolicy{
			MaxRetries:    5,
			InitialDelay:  2 * time.Second,
			MaxDelay:      time.Minute,
			BackoffFactor: 2,
		}
		store, err := tablestore.NewSheetsStore(ctx, cfg.Store.CredentialsFile, cfg.Store.SpreadsheetID, retry)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("spreadsheet", cfg.Store.SpreadsheetID).Msg("using Google Sheets table store")
		return store, nil
	case "memory":
		logger.Warn().Msg("using in-memory table store; data does not survive restarts")
		return tablestore.NewMemoryStore(), nil
	default:
		return tablestore.NewSQLiteStore(db.SQL())
	}
}

// seedTables loads optional fixture tables into the store. Used for
// local development and first-run smoke checks; production inboxes are
// written by the storefront and ERP exports directly.
func seedTables(ctx context.Context, store tablestore.Store, logger *zerolog.Logger) error {
	seedPath := os.Getenv("TABLES_PATH")
	if seedPath == "" {
		seedPath = "configs/tables.yaml"
	}
	data, err := os.ReadFile(seedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var seed struct {
		Tables []struct {
			Name    string     `yaml:"name"`
			Headers []string   `yaml:"headers"`
			Rows    [][]string `yaml:"rows"`
		} `yaml:"tables"`
	}
	if err := yamlv2.Unmarshal(data, &seed); err != nil {
		logger.Error().Err(err).Str("path", seedPath).Msg("failed to parse seed tables")
		return err
	}

	for _, t := range seed.Tables {
		table := &tablestore.Table{Name: t.Name, Headers: t.Headers}
		for _, raw := range t.Rows {
			row := tablestore.Row{}
			for i, header := range t.Headers {
				if i < len(raw) {
					row[header] = raw[i]
				}
			}
			table.Rows = append(table.Rows, row)
		}
		if err := store.WriteTable(ctx, table); err != nil {
			return err
		}
		logger.Info().Str("table", t.Name).Int("rows", len(table.Rows)).Msg("seeded table")
	}
	return nil
}

func initRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.Locker, repository.SnapshotCache, func()) {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("redis not configured; using in-memory locks and cache")
		return repository.NewMemoryLocker(), repository.NewMemorySnapshotCache(), nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup; failover to memory until it recovers")
	}

	locker := repository.NewFailoverLocker(repository.NewRedisLocker(client), repository.NewMemoryLocker(), logger)
	cache := repository.NewRedisSnapshotCache(client)
	return locker, cache, func() { _ = repository.Close(client) }
}

func initNotifier(cfg *config.Config, db *database.DB, logger *zerolog.Logger) *notify.Service {
	var channel notify.Channel
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg, err := notify.NewTelegramChannel(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logger.Error().Err(err).Msg("telegram channel init failed; notifications will be log-only")
		} else {
			channel = tg
		}
	}
	return notify.NewService(db, channel, logger)
}

func registerExecutors(w *worker.SyncWorker, store tablestore.Store, machine *state.Machine, db *database.DB, cfg *config.Config, logger *zerolog.Logger) {
	w.Register(models.JobTypeImportProducts,
		worker.NewCopyExecutor(store, machine, tableProductsInbox, tableProductsStaging, "products_count"), "")
	w.Register(models.JobTypeImportOrders,
		worker.NewCopyExecutor(store, machine, tableOrdersInbox, tableOrdersStaging, "orders_count"), "")
	w.Register(models.JobTypeExportOrders,
		worker.NewCopyExecutor(store, machine, tableOrdersStaging, tableOrdersOutbox, "orders_exported"), "")
	w.Register(models.JobTypeImportERP,
		worker.NewCopyExecutor(store, machine, tableERPInbox, tableERPSnapshot, "erp_count"), "")

	w.Register(models.JobTypeValidateCatalog, worker.NoopExecutor{}, validateSuiteCat)
	w.Register(models.JobTypeValidateOrders, worker.NoopExecutor{}, validateSuiteOrd)

	w.Register(models.JobTypePromoteCatalog,
		worker.NewPromoteExecutor(store, db, []worker.PromotePair{
			{Staging: tableProductsStaging, Master: tableProductsMaster},
			{Staging: tableOrdersStaging, Master: tableOrdersMaster},
		}), "")

	exporter := export.NewInventoryExporter(store, cfg.Exports.Path, logger)
	w.Register(models.JobTypeInventoryExport,
		worker.NewInventoryExportExecutor(exporter, machine, tableInventoryAdjust), "")
}

func subscribeEvents(bus *events.EventBus, logger *zerolog.Logger) {
	l := logging.Component(logger, "events")

	bus.Subscribe(events.EventStageChanged, func(event *events.Event) error {
		l.Info().RawJSON("payload", event.Payload).Msg("stage changed")
		return nil
	})
	bus.Subscribe(events.EventJobFailed, func(event *events.Event) error {
		l.Error().RawJSON("payload", event.Payload).Msg("job failed")
		return nil
	})
	bus.Subscribe(events.EventQuarantineTriggered, func(event *events.Event) error {
		l.Warn().RawJSON("payload", event.Payload).Msg("quarantine triggered")
		return nil
	})
	bus.Subscribe(events.EventTaskCreated, func(event *events.Event) error {
		l.Info().RawJSON("payload", event.Payload).Msg("task created")
		return nil
	})
}

func runWatchdog(ctx context.Context, svc *service.SyncService, logger *zerolog.Logger) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			failed, err := svc.ForceFailStale(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("stale session check failed")
			} else if failed {
				logger.Warn().Msg("stale session detected and failed")
			}
		}
	}
}
