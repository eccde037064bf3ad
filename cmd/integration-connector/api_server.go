package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/controller/api"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/integrations/quickbooks"
	"github.com/finsync/integration-connector/internal/platform/db"
	"github.com/finsync/integration-connector/internal/platform/logger"
	"github.com/finsync/integration-connector/internal/platform/utils"
	"github.com/finsync/integration-connector/internal/sync_repository"
	"github.com/redhatinsights/platform-go-middlewares/request_id"

	"github.com/gorilla/mux"
)

func startApiServer(listenAddr string) {

	logger.InitLogger()
	defer logger.FlushLogger()

	logger.Log.Info("Starting Integration-Connector API server")

	cfg := config.GetConfig()
	logger.Log.Info("Integration-Connector configuration:\n", cfg)

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		logger.LogFatalError("Unable to connect to database: ", err)
	}

	accountRegistry, err := account_repository.NewSqlAccountRegistry(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create account registry", err)
	}

	cursorTracker, err := sync_repository.NewSqlCursorTracker(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create cursor tracker", err)
	}

	apiMux := mux.NewRouter()
	apiMux.Use(request_id.ConfiguredRequestID("x-request-id"))

	monitoringServer := api.NewMonitoringServer(apiMux, cfg, database)
	monitoringServer.Routes()

	apiSubMux := apiMux.PathPrefix(cfg.UrlBasePath).Subrouter()

	mgmtServer := api.NewManagementServer(accountRegistry, accountRegistry, cursorTracker, apiSubMux, cfg)
	mgmtServer.Routes()

	tokenExchangers := map[domain.IntegrationType]api.TokenExchanger{
		domain.QuickBooksIntegration: quickbooks.NewOAuthClient(cfg),
	}

	connectionMediator := api.NewConnectionMediator(tokenExchangers, accountRegistry, apiSubMux, cfg)
	connectionMediator.Routes()

	apiSrv := utils.StartHTTPServer(listenAddr, "management", apiMux)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	logger.Log.Info("Received signal to shutdown: ", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "management", apiSrv)

	logger.Log.Info("Integration-Connector API server shutting down")
}
