package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carebell-backend/controllers"
	"carebell-backend/routes"
	"carebell-backend/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reminder scheduler",
		RunE:  runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if a.cfg.Log.Format != "console" {
		gin.SetMode(gin.ReleaseMode)
	}
	rc := controllers.NewReminderController(a.service, a.db, logger.Named("http"))
	r := routes.SetupRouter(rc, logger.Named("http"))
	for _, route := range r.Routes() {
		logger.Debug("route", zap.String("method", route.Method), zap.String("path", route.Path))
	}

	var scheduler *services.Scheduler
	if a.cfg.Scheduler.Enabled {
		scheduler, err = services.NewScheduler(a.service, services.SchedulerConfig{
			Spec:     a.cfg.Scheduler.Spec,
			Location: a.cfg.Location(),
			FollowUp: a.cfg.Scheduler.FollowUp,
			Timeout:  a.cfg.Dispatch.LockTTL,
		}, logger.Named("scheduler"))
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	srv := &http.Server{
		Addr:              a.cfg.App.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down")
	case err := <-errCh:
		logger.Error("HTTP server failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
			logger.Warn("Reminder cycle still running at shutdown")
		}
	}
	return nil
}
