package api

import (
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

const (
	CONNECTED_ACCOUNT_ID = "11111111-2222-3333-4444-555555555555"
	MISSING_ACCOUNT_ID   = "00000000-0000-0000-0000-000000000000"
)

func buildManagementTestAccount() domain.IntegrationAccount {
	return domain.IntegrationAccount{
		ID:                CONNECTED_ACCOUNT_ID,
		IntegrationType:   domain.QuickBooksIntegration,
		ExternalAccountID: "9130350000000000",
		Credentials: domain.CredentialSet{
			AccessToken:  "secret-access-token",
			RefreshToken: "secret-refresh-token",
			ExpiresAt:    time.Now().UTC().Add(time.Hour),
		},
		Status:     domain.AccountActive,
		NextSyncAt: time.Now().UTC(),
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
		UpdatedAt:  time.Now().UTC(),
	}
}

func addPSKHeaders(req *http.Request) {
	req.Header.Add("x-integration-connector-client-id", "test_client_1")
	req.Header.Add("x-integration-connector-psk", "12345")
}

var _ = Describe("Management", func() {

	var (
		store  *mockAccountStore
		router *mux.Router
	)

	BeforeEach(func() {
		router = mux.NewRouter()
		cfg := config.GetConfig()
		cfg.ServiceToServiceCredentials = map[string]interface{}{"test_client_1": "12345"}

		store = newMockAccountStore(buildManagementTestAccount())

		cursors := &mockCursorTracker{
			cursors: map[domain.AccountID][]domain.SyncCursor{
				CONNECTED_ACCOUNT_ID: {
					{
						AccountID:      CONNECTED_ACCOUNT_ID,
						ObjectKind:     domain.CustomerKind,
						Watermark:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
						LastAdvancedAt: time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC),
						RecordsSynced:  42,
					},
					{
						AccountID:  CONNECTED_ACCOUNT_ID,
						ObjectKind: domain.InvoiceKind,
						Watermark:  domain.MinWatermark,
						LastError:  "vendor rate limit exceeded",
					},
				},
			},
		}

		ms := NewManagementServer(store, store, cursors, router, cfg)
		ms.Routes()
	})

	Describe("Getting the connection list", func() {
		It("Should return the registered connections without credentials", func() {

			req, err := http.NewRequest("GET", "/connections", nil)
			Expect(err).NotTo(HaveOccurred())
			addPSKHeaders(req)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(http.StatusOK))

			var response paginatedResponse
			Expect(json.Unmarshal(rr.Body.Bytes(), &response)).To(Succeed())
			Expect(response.Meta.Count).To(Equal(1))

			Expect(rr.Body.String()).NotTo(ContainSubstring("secret-access-token"))
			Expect(rr.Body.String()).NotTo(ContainSubstring("secret-refresh-token"))
		})

		It("Should reject a request without PSK credentials", func() {

			req, err := http.NewRequest("GET", "/connections", nil)
			Expect(err).NotTo(HaveOccurred())

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("Getting connection details", func() {
		It("Should return the connection", func() {

			req, err := http.NewRequest("GET", "/connections/"+CONNECTED_ACCOUNT_ID, nil)
			Expect(err).NotTo(HaveOccurred())
			addPSKHeaders(req)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(http.StatusOK))

			var connection map[string]interface{}
			Expect(json.Unmarshal(rr.Body.Bytes(), &connection)).To(Succeed())
			Expect(connection).To(HaveKeyWithValue("id", CONNECTED_ACCOUNT_ID))
			Expect(connection).To(HaveKeyWithValue("integration_type", "quickbooks"))
			Expect(connection).NotTo(HaveKey("access_token"))
		})

		It("Should return a 404 for an unknown connection", func() {

			req, err := http.NewRequest("GET", "/connections/"+MISSING_ACCOUNT_ID, nil)
			Expect(err).NotTo(HaveOccurred())
			addPSKHeaders(req)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Getting connection sync status", func() {
		It("Should return the per object kind cursors", func() {

			req, err := http.NewRequest("GET", "/connections/"+CONNECTED_ACCOUNT_ID+"/status", nil)
			Expect(err).NotTo(HaveOccurred())
			addPSKHeaders(req)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(http.StatusOK))

			var status connectionStatusResponse
			Expect(json.Unmarshal(rr.Body.Bytes(), &status)).To(Succeed())
			Expect(status.Status).To(Equal("active"))
			Expect(status.Cursors).To(HaveLen(2))
			Expect(status.Cursors[0].RecordsSynced).To(Equal(int64(42)))
			Expect(status.Cursors[1].LastError).To(Equal("vendor rate limit exceeded"))
		})
	})

	Describe("Triggering a sync", func() {
		It("Should schedule an immediate sync", func() {

			req, err := http.NewRequest("POST", "/connections/"+CONNECTED_ACCOUNT_ID+"/sync", nil)
			Expect(err).NotTo(HaveOccurred())
			addPSKHeaders(req)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(http.StatusAccepted))

			scheduledAt, ok := store.scheduledSyncs[CONNECTED_ACCOUNT_ID]
			Expect(ok).To(BeTrue())
			Expect(scheduledAt).To(BeTemporally("~", time.Now().UTC(), time.Minute))
		})

		It("Should refuse to sync a disabled connection", func() {

			store.UpdateStatus(nil, CONNECTED_ACCOUNT_ID, domain.AccountDisabled)

			req, err := http.NewRequest("POST", "/connections/"+CONNECTED_ACCOUNT_ID+"/sync", nil)
			Expect(err).NotTo(HaveOccurred())
			addPSKHeaders(req)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(http.StatusConflict))
		})

		It("Should return a 404 for an unknown connection", func() {

			req, err := http.NewRequest("POST", "/connections/"+MISSING_ACCOUNT_ID+"/sync", nil)
			Expect(err).NotTo(HaveOccurred())
			addPSKHeaders(req)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Disconnecting a connection", func() {
		It("Should disable the connection", func() {

			req, err := http.NewRequest("POST", "/connections/"+CONNECTED_ACCOUNT_ID+"/disconnect", nil)
			Expect(err).NotTo(HaveOccurred())
			addPSKHeaders(req)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(http.StatusOK))

			account, err := store.FindAccountByID(req.Context(), CONNECTED_ACCOUNT_ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(account.Status).To(Equal(domain.AccountDisabled))
		})
	})
})
