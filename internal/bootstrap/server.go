package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/eleven-am/speech-sidecar/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
)

var defaultCORSConfig = middleware.CORSConfig{
	AllowOrigins: []string{"*"},
	AllowMethods: []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodOptions,
	},
	AllowHeaders: []string{
		"Accept",
		"Authorization",
		"Content-Type",
	},
	ExposeHeaders: []string{"X-Sample-Rate"},
	MaxAge:        86400,
}

func NewEchoServer(collector *metrics.Collector) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(defaultCORSConfig))
	e.Use(collector.Middleware())
	return e
}

func StartServer(lc fx.Lifecycle, e *echo.Echo, cfg *Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("http server starting", "addr", cfg.ServerAddr)
				if err := e.Start(cfg.ServerAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

var ServerModule = fx.Options(
	fx.Provide(NewEchoServer),
	fx.Invoke(StartServer),
)

func appOptions() fx.Option {
	return fx.Options(
		fx.Provide(LoadConfig),
		InfrastructureModule,
		InferenceModule,
		ServerModule,
		RealtimeModule,
		HandlersModule,
		GRPCModule,
	)
}

func Run() {
	fx.New(appOptions()).Run()
}
