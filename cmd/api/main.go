package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/phuslu/log"

	"github.com/Subhanamir19/faccely-sub002/internal/app"
	"github.com/Subhanamir19/faccely-sub002/internal/config"
	"github.com/Subhanamir19/faccely-sub002/internal/handlers"
	"github.com/Subhanamir19/faccely-sub002/internal/logging"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(cfg.Logger))

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.Server.LogLevel, os.Stdout)

	ctx := context.Background()
	core, err := app.NewCore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init dependencies")
	}
	defer core.Close()

	guard, store := core.NewGuard()
	pipeline, br, err := core.NewPipeline(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init provider")
	}

	gin.SetMode(gin.ReleaseMode)
	r := setupRouter(handlers.HandlerConfig{
		Queue:          core.Queue,
		Guard:          guard,
		Generator:      pipeline,
		Breaker:        br,
		Degraded:       store.Degraded,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	})

	// RUN_LOCAL=true serves HTTP directly; otherwise run behind API Gateway.
	if cfg.Server.RunLocal {
		serve(r, cfg.Server.Port, logger)
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func serve(r *gin.Engine, port int, logger *log.Logger) {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("running local server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
