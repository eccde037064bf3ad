package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"

	"github.com/gorilla/mux"
)

var _ = Describe("ConnectionMediator", func() {

	var (
		store     *mockAccountStore
		exchanger *mockTokenExchanger
		router    *mux.Router
	)

	BeforeEach(func() {
		router = mux.NewRouter()
		cfg := config.GetConfig()
		cfg.ServiceToServiceCredentials = map[string]interface{}{"test_client_1": "12345"}

		store = newMockAccountStore()

		exchanger = &mockTokenExchanger{
			credentials: domain.CredentialSet{
				AccessToken:  "exchanged-access-token",
				RefreshToken: "exchanged-refresh-token",
				ExpiresAt:    time.Now().UTC().Add(time.Hour),
			},
		}

		exchangers := map[domain.IntegrationType]TokenExchanger{
			domain.QuickBooksIntegration: exchanger,
		}

		cm := NewConnectionMediator(exchangers, store, router, cfg)
		cm.Routes()
	})

	makeConnectRequest := func(body string) *httptest.ResponseRecorder {
		req, err := http.NewRequest("POST", "/connections", bytes.NewBufferString(body))
		Expect(err).NotTo(HaveOccurred())
		addPSKHeaders(req)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	Describe("Connecting a new account", func() {
		It("Should exchange the code and register the account", func() {

			rr := makeConnectRequest(`{
                "integration_type": "quickbooks",
                "external_account_id": "9130350000000000",
                "authorization_code": "auth-code-123"
            }`)

			Expect(rr.Code).To(Equal(http.StatusCreated))

			Expect(exchanger.codes).To(Equal([]string{"auth-code-123"}))

			Expect(store.registered).To(HaveLen(1))
			registered := store.registered[0]
			Expect(registered.Status).To(Equal(domain.AccountActive))
			Expect(registered.Credentials.AccessToken).To(Equal("exchanged-access-token"))
			Expect(registered.NextSyncAt).To(BeTemporally("~", time.Now().UTC(), time.Minute))

			var connection map[string]interface{}
			Expect(json.Unmarshal(rr.Body.Bytes(), &connection)).To(Succeed())
			Expect(connection).To(HaveKeyWithValue("external_account_id", "9130350000000000"))
			Expect(connection).NotTo(HaveKey("access_token"))
			Expect(rr.Body.String()).NotTo(ContainSubstring("exchanged-access-token"))
		})

		It("Should return a 200 when reconnecting an existing account", func() {

			store.registerExisting = true

			rr := makeConnectRequest(`{
                "integration_type": "quickbooks",
                "external_account_id": "9130350000000000",
                "authorization_code": "auth-code-456"
            }`)

			Expect(rr.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("Rejecting bad connect requests", func() {
		It("Should reject malformed json", func() {

			rr := makeConnectRequest(`{malformed`)

			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(store.registered).To(BeEmpty())
		})

		It("Should reject a request with missing fields", func() {

			rr := makeConnectRequest(`{"integration_type": "quickbooks"}`)

			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(store.registered).To(BeEmpty())
		})

		It("Should reject an unsupported integration type", func() {

			rr := makeConnectRequest(`{
                "integration_type": "xero",
                "external_account_id": "123",
                "authorization_code": "auth-code-123"
            }`)

			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(exchanger.codes).To(BeEmpty())
		})
	})

	Describe("Handling vendor failures", func() {
		It("Should return a 502 when the code exchange fails", func() {

			exchanger.err = errExchangeFailed

			rr := makeConnectRequest(`{
                "integration_type": "quickbooks",
                "external_account_id": "9130350000000000",
                "authorization_code": "expired-code"
            }`)

			Expect(rr.Code).To(Equal(http.StatusBadGateway))
			Expect(store.registered).To(BeEmpty())
		})
	})
})
