package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/middlewares"
	"github.com/finsync/integration-connector/internal/platform/logger"
	"github.com/finsync/integration-connector/internal/sync_repository"
	"github.com/redhatinsights/platform-go-middlewares/request_id"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type ManagementServer struct {
	registrar account_repository.AccountRegistrar
	locator   account_repository.AccountLocator
	cursors   sync_repository.CursorTracker
	router    *mux.Router
	config    *config.Config
}

func NewManagementServer(
	registrar account_repository.AccountRegistrar,
	locator account_repository.AccountLocator,
	cursors sync_repository.CursorTracker,
	r *mux.Router,
	cfg *config.Config) *ManagementServer {

	return &ManagementServer{
		registrar: registrar,
		locator:   locator,
		cursors:   cursors,
		router:    r,
		config:    cfg,
	}
}

func (s *ManagementServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: s.config.ServiceToServiceCredentials}

	securedSubRouter := s.router.PathPrefix("/connections").Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("", s.handleConnectionListing()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/{id}", s.handleConnectionDetails()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/{id}/status", s.handleConnectionStatus()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/{id}/sync", s.handleTriggerSync()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/{id}/disconnect", s.handleDisconnect()).Methods(http.MethodPost)
}

type connectionResponse struct {
	ID                string    `json:"id"`
	IntegrationType   string    `json:"integration_type"`
	ExternalAccountID string    `json:"external_account_id"`
	Status            string    `json:"status"`
	NextSyncAt        time.Time `json:"next_sync_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type cursorResponse struct {
	ObjectKind     string     `json:"object_kind"`
	Watermark      time.Time  `json:"watermark"`
	LastAdvancedAt *time.Time `json:"last_advanced_at,omitempty"`
	RecordsSynced  int64      `json:"records_synced"`
	LastError      string     `json:"last_error,omitempty"`
}

type connectionStatusResponse struct {
	Status  string           `json:"status"`
	Cursors []cursorResponse `json:"cursors"`
}

// buildConnectionResponse deliberately never includes the credential set.
func buildConnectionResponse(account domain.IntegrationAccount) connectionResponse {
	return connectionResponse{
		ID:                account.ID.String(),
		IntegrationType:   account.IntegrationType.String(),
		ExternalAccountID: account.ExternalAccountID.String(),
		Status:            string(account.Status),
		NextSyncAt:        account.NextSyncAt,
		CreatedAt:         account.CreatedAt,
		UpdatedAt:         account.UpdatedAt,
	}
}

func buildCursorResponses(cursors []domain.SyncCursor) []cursorResponse {
	responses := make([]cursorResponse, len(cursors))

	for i, cursor := range cursors {
		responses[i] = cursorResponse{
			ObjectKind:    cursor.ObjectKind.String(),
			Watermark:     cursor.Watermark,
			RecordsSynced: cursor.RecordsSynced,
			LastError:     cursor.LastError,
		}

		if !cursor.LastAdvancedAt.IsZero() {
			lastAdvancedAt := cursor.LastAdvancedAt
			responses[i].LastAdvancedAt = &lastAdvancedAt
		}
	}

	return responses
}

func (s *ManagementServer) handleConnectionListing() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		principal, _ := middlewares.GetPrincipal(req.Context())
		requestId := request_id.GetReqID(req.Context())
		logger := logger.Log.WithFields(logrus.Fields{
			"client_id":  principal.GetClientID(),
			"request_id": requestId})

		logger.Debug("Getting connection list")

		offset, limit := getPaginationParams(req)

		accounts, total, err := s.locator.GetAccounts(req.Context(), offset, limit)
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err}).Error("Unable to list connections")
			errorResponse := errorResponse{Title: "Unable to list connections",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		connections := make([]connectionResponse, len(accounts))
		for i, account := range accounts {
			connections[i] = buildConnectionResponse(account)
		}

		response := buildPaginatedResponse(req.URL, offset, limit, total, connections)

		writeJSONResponse(w, http.StatusOK, response)
	}
}

func (s *ManagementServer) handleConnectionDetails() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		accountId := domain.AccountID(mux.Vars(req)["id"])

		account, err := s.locator.FindAccountByID(req.Context(), accountId)
		if err != nil {
			writeAccountLookupError(w, accountId, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, buildConnectionResponse(account))
	}
}

func (s *ManagementServer) handleConnectionStatus() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		requestId := request_id.GetReqID(req.Context())
		accountId := domain.AccountID(mux.Vars(req)["id"])
		logger := logger.Log.WithFields(logrus.Fields{
			"account_id": accountId,
			"request_id": requestId})

		account, err := s.locator.FindAccountByID(req.Context(), accountId)
		if err != nil {
			writeAccountLookupError(w, accountId, err)
			return
		}

		cursors, err := s.cursors.ListCursors(req.Context(), accountId)
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err}).Error("Unable to read sync cursors")
			errorResponse := errorResponse{Title: "Unable to read sync status",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		response := connectionStatusResponse{
			Status:  string(account.Status),
			Cursors: buildCursorResponses(cursors),
		}

		writeJSONResponse(w, http.StatusOK, response)
	}
}

func (s *ManagementServer) handleTriggerSync() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		requestId := request_id.GetReqID(req.Context())
		accountId := domain.AccountID(mux.Vars(req)["id"])
		logger := logger.Log.WithFields(logrus.Fields{
			"account_id": accountId,
			"request_id": requestId})

		account, err := s.locator.FindAccountByID(req.Context(), accountId)
		if err != nil {
			writeAccountLookupError(w, accountId, err)
			return
		}

		if account.Status == domain.AccountDisabled {
			errorResponse := errorResponse{Title: "Connection is disabled",
				Status: http.StatusConflict,
				Detail: "A disabled connection must be reconnected before syncing"}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		logger.Info("Sync requested")

		if err := s.registrar.ScheduleSync(req.Context(), accountId, time.Now().UTC()); err != nil {
			logger.WithFields(logrus.Fields{"error": err}).Error("Unable to schedule sync")
			errorResponse := errorResponse{Title: "Unable to schedule sync",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		writeJSONResponse(w, http.StatusAccepted, struct{}{})
	}
}

func (s *ManagementServer) handleDisconnect() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		requestId := request_id.GetReqID(req.Context())
		accountId := domain.AccountID(mux.Vars(req)["id"])
		logger := logger.Log.WithFields(logrus.Fields{
			"account_id": accountId,
			"request_id": requestId})

		logger.Info("Disconnect requested")

		err := s.registrar.UpdateStatus(req.Context(), accountId, domain.AccountDisabled)
		if err != nil {
			writeAccountLookupError(w, accountId, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, struct{}{})
	}
}

func writeAccountLookupError(w http.ResponseWriter, accountId domain.AccountID, err error) {
	if errors.Is(err, account_repository.NotFoundError) {
		errorResponse := errorResponse{Title: "Connection not found",
			Status: http.StatusNotFound,
			Detail: "No connection found with id " + accountId.String()}
		writeJSONResponse(w, errorResponse.Status, errorResponse)
		return
	}

	errorResponse := errorResponse{Title: "Unable to look up connection",
		Status: http.StatusInternalServerError,
		Detail: err.Error()}
	writeJSONResponse(w, errorResponse.Status, errorResponse)
}
