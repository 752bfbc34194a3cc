// cmd/fiscal/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fiscal-service/internal/api/handlers"
	"fiscal-service/internal/api/responses"
	"fiscal-service/internal/config"
	"fiscal-service/internal/core/session"
	"fiscal-service/internal/core/workflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Falha ao carregar configuração: ", err)
	}

	logger, err := responses.InitLogger()
	if err != nil {
		log.Fatal("Falha ao iniciar o logger: ", err)
	}
	defer logger.Sync()

	store, closeStore, err := cfg.OpenStorage(ctx)
	if err != nil {
		logger.Fatal("falha ao abrir armazenamento", zap.String("backend", cfg.Storage), zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("falha ao fechar armazenamento", zap.Error(err))
		}
	}()

	repo := session.NewRepository(store, logger)
	fiscalService := workflow.NewService(workflow.Options{
		CompanyTaxID:   cfg.CompanyTaxID,
		HomeUF:         cfg.HomeUF,
		ReturnCategory: cfg.ReturnCategory,
		YieldDelay:     cfg.YieldDelay,
	}, repo, logger)
	if err := fiscalService.Restore(ctx); err != nil {
		logger.Warn("sessão salva não pôde ser restaurada", zap.Error(err))
	}
	fiscalHandler := handlers.NewFiscalHandler(fiscalService)

	router := gin.Default()

	apiV1 := router.Group("/api/v1")
	fiscalHandler.Register(apiV1)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP", "service": "fiscal-service"})
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Fiscal Service iniciado", zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("falha no servidor http", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("encerrando")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("falha ao encerrar servidor", zap.Error(err))
	}
}
