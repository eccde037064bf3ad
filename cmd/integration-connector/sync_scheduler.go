package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/controller/api"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/integrations"
	"github.com/finsync/integration-connector/internal/integrations/quickbooks"
	"github.com/finsync/integration-connector/internal/platform/db"
	"github.com/finsync/integration-connector/internal/platform/logger"
	"github.com/finsync/integration-connector/internal/platform/utils"
	"github.com/finsync/integration-connector/internal/sync"
	"github.com/finsync/integration-connector/internal/sync_repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func startSyncScheduler(listenAddr string) {

	logger.InitLogger()
	defer logger.FlushLogger()

	logger.Log.Info("Starting Integration-Connector sync scheduler")

	cfg := config.GetConfig()
	logger.Log.Info("Integration-Connector configuration:\n", cfg)

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		logger.LogFatalError("Unable to connect to database: ", err)
	}

	scheduler := buildSyncScheduler(cfg, database)

	// Monitoring endpoints only.  The management API runs in its own process.
	monitoringMux := mux.NewRouter()
	monitoringServer := api.NewMonitoringServer(monitoringMux, cfg, database)
	monitoringServer.Routes()

	monitoringSrv := utils.StartHTTPServer(listenAddr, "monitoring", monitoringMux)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	schedulerDone := make(chan struct{})

	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(schedulerCtx); err != nil {
			logger.LogError("Sync scheduler stopped with an error", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	logger.Log.Info("Received signal to shutdown: ", sig)

	stopScheduler()
	<-schedulerDone

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "monitoring", monitoringSrv)

	logger.Log.Info("Integration-Connector sync scheduler shutting down")
}

func buildSyncScheduler(cfg *config.Config, database *sql.DB) *sync.Scheduler {

	accountRegistry, err := account_repository.NewSqlAccountRegistry(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create account registry", err)
	}

	cursorTracker, err := sync_repository.NewSqlCursorTracker(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create cursor tracker", err)
	}

	objectGateway, err := sync_repository.NewSqlObjectGateway(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create object gateway", err)
	}

	syncLease, err := sync_repository.NewSqlSyncLease(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create sync lease", err)
	}

	announcer, err := sync.NewCycleEventAnnouncer(cfg)
	if err != nil {
		logger.LogFatalError("Unable to create sync event announcer", err)
	}

	capabilities := map[domain.IntegrationType]integrations.Capability{
		domain.QuickBooksIntegration: quickbooks.NewCapability(cfg),
	}

	credentialPolicy := sync.NewCredentialPolicy(accountRegistry, cfg.CredentialRefreshLeadTime, cfg.CredentialRefreshMaxFailures)

	leaseOwner := fmt.Sprintf("%s-%s", utils.GetHostname(), uuid.NewString())

	orchestrator := sync.NewOrchestrator(
		cfg,
		capabilities,
		accountRegistry,
		accountRegistry,
		cursorTracker,
		objectGateway,
		syncLease,
		credentialPolicy,
		announcer,
		leaseOwner)

	return sync.NewScheduler(cfg, orchestrator, accountRegistry, accountRegistry)
}
