package middlewares

import (
	"context"
	"errors"
	"net/http"

	"github.com/finsync/integration-connector/internal/platform/logger"
	"github.com/sirupsen/logrus"
)

const (
	authErrorMessage   = "Authentication failed"
	authErrorLogHeader = "Authentication error: "
	PSKClientIdHeader  = "x-integration-connector-client-id"
	PSKHeader          = "x-integration-connector-psk"
)

// Principal identifies the calling service for audit logging.
type Principal interface {
	GetClientID() string
}

type key int

var principalKey key

type serviceToServicePrincipal struct {
	clientID string
}

func (sp serviceToServicePrincipal) GetClientID() string {
	return sp.clientID
}

// GetPrincipal returns the authenticated principal stored on the request
// context by the auth middleware.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(serviceToServicePrincipal)
	return p, ok
}

type serviceCredentials struct {
	clientID string
	psk      string
}

func newServiceCredentials(clientID, psk string) (*serviceCredentials, error) {
	switch {
	case clientID == "":
		return nil, errors.New(authErrorLogHeader + "Missing " + PSKClientIdHeader + " header")
	case psk == "":
		return nil, errors.New(authErrorLogHeader + "Missing " + PSKHeader + " header")
	}
	return &serviceCredentials{
		clientID: clientID,
		psk:      psk,
	}, nil
}

type serviceCredentialsValidator struct {
	knownServiceCredentials map[string]interface{}
}

func (scv *serviceCredentialsValidator) validate(sc *serviceCredentials) error {
	switch {
	case scv.knownServiceCredentials[sc.clientID] == nil:
		return errors.New(authErrorLogHeader + "Provided ClientID not attached to any known keys")
	case sc.psk != scv.knownServiceCredentials[sc.clientID]:
		return errors.New(authErrorLogHeader + "Provided PSK does not match known key for this client")
	}
	return nil
}

// AuthMiddleware allows the passage of parameters into the Authenticate middleware
type AuthMiddleware struct {
	Secrets map[string]interface{}
}

// Authenticate verifies the caller's pre-shared key before letting the
// request through.
func (amw *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr, err := newServiceCredentials(
			r.Header.Get(PSKClientIdHeader),
			r.Header.Get(PSKHeader),
		)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err}).Debug("Authentication failure")
			http.Error(w, authErrorMessage, 401)
			return
		}

		logger.Log.Debugf("Received service to service request from %v", sr.clientID)

		validator := serviceCredentialsValidator{knownServiceCredentials: amw.Secrets}
		if err := validator.validate(sr); err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err}).Debug("Authentication failure")
			http.Error(w, authErrorMessage, 401)
			return
		}

		principal := serviceToServicePrincipal{clientID: sr.clientID}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
