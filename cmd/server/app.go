package main

import (
	"fmt"
	"net/http"

	"github.com/Mieluoxxx/NoFail-API/internal/balancer"
	"github.com/Mieluoxxx/NoFail-API/internal/client"
	"github.com/Mieluoxxx/NoFail-API/internal/config"
	"github.com/Mieluoxxx/NoFail-API/internal/crypto"
	"github.com/Mieluoxxx/NoFail-API/internal/db"
	"github.com/Mieluoxxx/NoFail-API/internal/events"
	"github.com/Mieluoxxx/NoFail-API/internal/logger"
	"github.com/Mieluoxxx/NoFail-API/internal/models"
	"github.com/Mieluoxxx/NoFail-API/internal/provider"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app 进程内共享的组件
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *gorm.DB
	providers *provider.Service
	events    *events.Service
	registry  *provider.Registry
	client    *client.Client
	cache     *balancer.SuccessCache
	ledger    *balancer.FailureLedger
	checker   *provider.HealthChecker
}

// newApp 加载配置、初始化数据库、导入供应商目录并构建注册表
func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		return nil, err
	}

	database, err := db.InitDatabase(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(database); err != nil {
			_ = db.CloseDatabase(database)
			return nil, err
		}
	}

	var providerOpts []provider.ServiceOption
	if cfg.Security.EncryptionKey != "" {
		sealer, err := crypto.NewSealer(cfg.Security.EncryptionKey)
		if err != nil {
			_ = db.CloseDatabase(database)
			return nil, err
		}
		providerOpts = append(providerOpts, provider.WithKeySealer(sealer))
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		db:        database,
		providers: provider.NewService(provider.NewRepository(database), log.Named("provider"), providerOpts...),
		events:    events.NewService(database, log),
		client:    client.New(&http.Client{Timeout: cfg.Server.ClientTimeout}, log.Named("client")),
		cache:     balancer.NewSuccessCache(&balancer.SuccessCacheConfig{TTL: cfg.Router.SuccessTTL}),
		ledger:    balancer.NewFailureLedger(),
	}

	if err := a.seedCatalog(); err != nil {
		a.close()
		return nil, err
	}

	a.registry, err = a.providers.LoadRegistry()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load registry: %w", err)
	}
	if len(a.registry.ListProviders()) == 0 {
		a.close()
		return nil, fmt.Errorf("no enabled providers in catalog %s", cfg.CatalogPath)
	}

	a.checker = provider.NewHealthChecker(a.registry, a.client, a.ledger, a.cache,
		&provider.HealthCheckerConfig{
			Parallelism:   cfg.Prober.Parallelism,
			ProbeTimeout:  cfg.Prober.ProbeTimeout,
			CycleTimeout:  cfg.Prober.CycleTimeout,
			Prompt:        cfg.Prober.Prompt,
			FallbackModel: cfg.Prober.FallbackModel,
		},
		provider.WithStatusRecorder(a.providers),
		provider.WithEventLogger(a.events),
		provider.WithLogger(log.Named("prober")),
	)

	return a, nil
}

// seedCatalog 将 YAML 目录写入数据库
func (a *app) seedCatalog() error {
	file, err := provider.LoadCatalogFile(a.cfg.CatalogPath)
	if err != nil {
		return err
	}
	result, err := a.providers.Seed(file)
	if err != nil {
		return err
	}

	if err := a.events.LogEvent(models.EventTypeCatalogSeed,
		fmt.Sprintf("导入 %d 个供应商, %d 个模型, 禁用 %d 个已移除的供应商", result.Providers, result.Models, result.Disabled),
		models.EventLevelInfo,
		map[string]interface{}{"path": a.cfg.CatalogPath},
	); err != nil {
		a.log.Warn("log seed event failed", zap.Error(err))
	}
	return nil
}

func (a *app) close() {
	if err := db.CloseDatabase(a.db); err != nil {
		a.log.Warn("close database failed", zap.Error(err))
	}
	_ = a.log.Sync()
}
