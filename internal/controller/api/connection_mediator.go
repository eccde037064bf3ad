package api

import (
	"context"
	"net/http"
	"time"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/middlewares"
	"github.com/finsync/integration-connector/internal/platform/logger"
	"github.com/redhatinsights/platform-go-middlewares/request_id"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// TokenExchanger swaps a vendor authorization code for a credential set.
// One implementation per integration type.
type TokenExchanger interface {
	ExchangeCodeForTokens(ctx context.Context, authorizationCode string) (domain.CredentialSet, error)
}

// ConnectionMediator handles the connect flow: it exchanges the
// authorization code the user's browser came back with, registers the
// account, and queues the first sync.
type ConnectionMediator struct {
	exchangers map[domain.IntegrationType]TokenExchanger
	registrar  account_repository.AccountRegistrar
	router     *mux.Router
	config     *config.Config
}

func NewConnectionMediator(
	exchangers map[domain.IntegrationType]TokenExchanger,
	registrar account_repository.AccountRegistrar,
	r *mux.Router,
	cfg *config.Config) *ConnectionMediator {

	return &ConnectionMediator{
		exchangers: exchangers,
		registrar:  registrar,
		router:     r,
		config:     cfg,
	}
}

func (cm *ConnectionMediator) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: cm.config.ServiceToServiceCredentials}

	securedSubRouter := cm.router.PathPrefix("/connections").Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("", cm.handleConnect()).Methods(http.MethodPost)
}

type connectRequest struct {
	IntegrationType   string `json:"integration_type" validate:"required"`
	ExternalAccountID string `json:"external_account_id" validate:"required"`
	AuthorizationCode string `json:"authorization_code" validate:"required"`
}

func (cm *ConnectionMediator) handleConnect() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		principal, _ := middlewares.GetPrincipal(req.Context())
		requestId := request_id.GetReqID(req.Context())
		logger := logger.Log.WithFields(logrus.Fields{
			"client_id":  principal.GetClientID(),
			"request_id": requestId})

		body := http.MaxBytesReader(w, req.Body, 1048576)

		var connectReq connectRequest

		if err := decodeJSON(body, &connectReq); err != nil {
			errorResponse := errorResponse{Title: "Unable to process json input",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		integrationType := domain.IntegrationType(connectReq.IntegrationType)

		exchanger, ok := cm.exchangers[integrationType]
		if !ok {
			errorResponse := errorResponse{Title: "Unsupported integration type",
				Status: http.StatusBadRequest,
				Detail: "No integration registered for type " + connectReq.IntegrationType}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		logger = logger.WithFields(logrus.Fields{
			"integration_type":    integrationType,
			"external_account_id": connectReq.ExternalAccountID})

		logger.Info("Connecting account")

		credentials, err := exchanger.ExchangeCodeForTokens(req.Context(), connectReq.AuthorizationCode)
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err}).Error("Authorization code exchange failed")
			errorResponse := errorResponse{Title: "Authorization code exchange failed",
				Status: http.StatusBadGateway,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		account := domain.IntegrationAccount{
			IntegrationType:   integrationType,
			ExternalAccountID: domain.ExternalAccountID(connectReq.ExternalAccountID),
			Credentials:       credentials,
			Status:            domain.AccountActive,
			NextSyncAt:        time.Now().UTC(),
		}

		registered, registrationResult, err := cm.registrar.Register(req.Context(), account)
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err}).Error("Unable to register account")
			errorResponse := errorResponse{Title: "Unable to register account",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		responseStatus := http.StatusCreated
		if registrationResult == account_repository.ExistingAccount {
			logger.Info("Reconnected existing account")
			responseStatus = http.StatusOK
		}

		writeJSONResponse(w, responseStatus, buildConnectionResponse(registered))
	}
}
