package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/adapter"
	"github.com/Mieluoxxx/NoFail-API/internal/api"
	"github.com/Mieluoxxx/NoFail-API/internal/completion"
	"github.com/Mieluoxxx/NoFail-API/internal/selfip"
	"github.com/Mieluoxxx/NoFail-API/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// shutdownTimeout 优雅退出等待时间
const shutdownTimeout = 10 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway and the scheduled provider probe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	log := a.log
	log.Info("starting", zap.String("app", AppName), zap.String("version", Version))

	counter := stats.NewCompletionCounter(a.cfg.Router.StatsWindow)
	completer := completion.NewService(a.registry, a.client, a.cache, a.ledger,
		&completion.Config{
			ModelPriority:   a.cfg.Router.ModelPriority,
			MaxAttempts:     a.cfg.Router.MaxAttempts,
			LegacyModelSkip: a.cfg.Router.LegacyModelSkip,
		},
		completion.WithIPSource(selfip.New(selfip.Config{
			Static:     a.cfg.SelfIP.Static,
			LookupURL:  a.cfg.SelfIP.LookupURL,
			Timeout:    a.cfg.SelfIP.Timeout,
			RetryAfter: a.cfg.SelfIP.RetryAfter,
		}, log.Named("selfip"))),
		completion.WithEventLogger(a.events),
		completion.WithRecorder(counter),
		completion.WithLogger(log.Named("completion")),
	)

	scheduler, err := newScheduler(ctx, a)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	if a.cfg.Prober.RunOnStart {
		a.checker.TryStart(ctx)
	}

	if a.cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRouter(api.Dependencies{
		Completer:   completer,
		Adapter:     adapter.New(),
		Registry:    a.registry,
		Ledger:      a.ledger,
		Cache:       a.cache,
		Prober:      a.checker,
		Health:      a.providers,
		Counter:     counter,
		Events:      a.events,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newScheduler 注册定时探测与事件清理
// 探测与手动刷新共用单周期锁，重叠的触发直接跳过
func newScheduler(ctx context.Context, a *app) (*cron.Cron, error) {
	c := cron.New()

	if schedule := a.cfg.Prober.Schedule; schedule != "" {
		_, err := c.AddFunc(schedule, func() {
			if !a.checker.TryStart(ctx) {
				a.log.Info("scheduled probe skipped, previous cycle still running")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("prober schedule %q: %w", schedule, err)
		}
	}

	if schedule := a.cfg.Events.PruneSchedule; schedule != "" {
		_, err := c.AddFunc(schedule, func() {
			if _, err := a.events.Prune(a.cfg.Events.Retention); err != nil {
				a.log.Warn("prune events failed", zap.Error(err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("events prune schedule %q: %w", schedule, err)
		}
	}

	return c, nil
}
