package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/setavenger/coindb/internal/config"
	"github.com/setavenger/coindb/internal/logging"
)

func NewRouter(api *ApiHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger)
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/info", api.GetInfo)
	router.GET("/coins/:txid/:vout", ParseOutPointMiddleware, api.GetCoin)
	router.GET("/rewind/:blockheight", ParseHeightMiddleware, api.GetRewindData)
	router.GET("/tx/:txid", api.GetTransaction)
	router.GET("/stake/:blockhash", api.GetStake)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// RunServer serves the api on config.HTTPHost until ctx is done.
func RunServer(ctx context.Context, api *ApiHandler) error {
	srv := &http.Server{
		Addr:              config.HTTPHost,
		Handler:           NewRouter(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.L.Err(err).Msg("http server shutdown failed")
		}
	}()

	logging.L.Info().Msgf("Starting http server on host %s", config.HTTPHost)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.L.Err(err).Msg("could not run server")
		return err
	}
	return nil
}
