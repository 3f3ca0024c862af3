package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cronrunner "sipengine/internal/cron"
	"sipengine/internal/db"
	"sipengine/internal/handler"
	"sipengine/internal/service"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cron-driven scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, dbConn, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer db.Close(dbConn)

			a := newApp(cfg, log, dbConn)
			defer a.close()

			if strings.EqualFold(cfg.App.Env, "dev") {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			engine := handler.NewRouter(handler.Deps{
				DB:          dbConn.Gorm,
				Repo:        a.store,
				Machine:     a.machine,
				Coordinator: a.coordinator,
				Settings:    a.settings,
				Auditor:     a.auditor(),
				Extras:      a.pingers(),
				Logger:      log,
				Swagger:     true,
			})
			srv := &http.Server{
				Addr:    cfg.Server.HTTPAddr,
				Handler: engine,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner := cronrunner.New(log, ctx)
			if cfg.Cron.Enabled {
				id, err := runner.Add(cfg.Cron.SIPTick, func(ctx context.Context) {
					if !a.settings.IsEnabled(ctx, service.FeatureSIPScheduler, true) {
						return
					}
					report, err := a.coordinator.Tick(ctx)
					if err != nil {
						log.Warn("cron sip tick failed", zap.Error(err))
						if a.platform != nil {
							ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
							_ = a.platform.Log(ctx2, "sip_cron_tick_failed", "warn", map[string]any{"error": err.Error()})
							cancel()
						}
						return
					}
					log.Info("cron sip tick ok",
						zap.Int("due", report.Due),
						zap.Int("succeeded", report.Succeeded),
						zap.Int("failed", report.Failed),
						zap.Int("skipped", report.Skipped),
						zap.Bool("lease_held", report.LeaseHeld),
					)
					if a.platform != nil && report.Due > 0 {
						ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
						_ = a.platform.Log(ctx2, "sip_cron_tick_ok", "info", map[string]any{
							"due":       report.Due,
							"succeeded": report.Succeeded,
							"failed":    report.Failed,
							"skipped":   report.Skipped,
						})
						cancel()
					}
				})
				if err != nil {
					log.Error("cron register sip tick failed", zap.String("spec", cfg.Cron.SIPTick), zap.Error(err))
					return err
				}
				runner.Start()
				defer runner.Stop()
				log.Info("sip tick scheduled", zap.String("spec", cfg.Cron.SIPTick), zap.Time("next", runner.Next(id)))
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				log.Info("shutdown requested")
			case err := <-errCh:
				log.Error("server error", zap.Error(err))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
