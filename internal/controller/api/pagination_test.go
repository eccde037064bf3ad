package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"

	"github.com/gorilla/mux"
)

const CONNECTION_LIST_ENDPOINT = "/connections"

type paginatedMockLocator struct {
	accounts []domain.IntegrationAccount
}

func newPaginatedMockLocator(accountCount int) *paginatedMockLocator {
	pml := &paginatedMockLocator{}

	for i := 0; i < accountCount; i++ {
		pml.accounts = append(pml.accounts, domain.IntegrationAccount{
			ID:                domain.AccountID(strconv.Itoa(i)),
			IntegrationType:   domain.QuickBooksIntegration,
			ExternalAccountID: domain.ExternalAccountID(strconv.Itoa(i)),
			Status:            domain.AccountActive,
		})
	}

	return pml
}

func (pml *paginatedMockLocator) FindAccountByID(ctx context.Context, accountID domain.AccountID) (domain.IntegrationAccount, error) {
	return domain.IntegrationAccount{}, account_repository.NotFoundError
}

func (pml *paginatedMockLocator) FindAccountByExternalID(ctx context.Context, integrationType domain.IntegrationType, externalAccountID domain.ExternalAccountID) (domain.IntegrationAccount, error) {
	return domain.IntegrationAccount{}, account_repository.NotFoundError
}

func (pml *paginatedMockLocator) GetAccounts(ctx context.Context, offset int, limit int) ([]domain.IntegrationAccount, int, error) {

	var ret []domain.IntegrationAccount

	i := offset
	for i < len(pml.accounts) && len(ret) < limit {
		ret = append(ret, pml.accounts[i])
		i++
	}

	return ret, len(pml.accounts), nil
}

func (pml *paginatedMockLocator) GetAccountsDueForSync(ctx context.Context, asOf time.Time, limit int) ([]domain.AccountID, error) {
	return nil, nil
}

func paginationTestSetup(accountCount int) *mux.Router {
	apiMux := mux.NewRouter()
	cfg := config.GetConfig()
	cfg.ServiceToServiceCredentials = map[string]interface{}{"test_client_1": "12345"}

	locator := newPaginatedMockLocator(accountCount)
	registrar := newMockAccountStore()
	cursors := &mockCursorTracker{}

	managementServer := NewManagementServer(registrar, locator, cursors, apiMux, cfg)
	managementServer.Routes()

	return apiMux
}

func runPaginationTest(endpoint string, router *mux.Router, expectedResponse paginatedResponse) {
	req, err := http.NewRequest("GET", endpoint, nil)
	Expect(err).NotTo(HaveOccurred())
	addPSKHeaders(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	Expect(rr.Code).To(Equal(http.StatusOK))

	var actualResponse paginatedResponse
	json.Unmarshal(rr.Body.Bytes(), &actualResponse)

	Expect(actualResponse.Meta).Should(Equal(expectedResponse.Meta))
	Expect(actualResponse.Links).Should(Equal(expectedResponse.Links))
}

var _ = Describe("Management API Pagination - 11 connections total", func() {

	var (
		router *mux.Router
	)

	BeforeEach(func() {
		router = paginationTestSetup(11)
	})

	Describe("Connection list endpoint - returning 5 results", func() {
		It("Meta count should be 11, links should be populated", func() {

			baseEndpointUrl := CONNECTION_LIST_ENDPOINT

			var expectedResponse = paginatedResponse{
				Meta: meta{Count: 11},
				Links: navigationLinks{
					First: baseEndpointUrl + "?limit=5&offset=0",
					Last:  baseEndpointUrl + "?limit=5&offset=10",
					Next:  baseEndpointUrl + "?limit=5&offset=5",
					Prev:  "",
				},
				Data: []interface{}{},
			}

			runPaginationTest(baseEndpointUrl+"?offset=0&limit=5", router, expectedResponse)

			expectedResponse.Links.Prev = baseEndpointUrl + "?limit=5&offset=0"
			expectedResponse.Links.Next = baseEndpointUrl + "?limit=5&offset=7"

			runPaginationTest(baseEndpointUrl+"?offset=2&limit=5", router, expectedResponse)

			expectedResponse.Links.Prev = baseEndpointUrl + "?limit=5&offset=5"
			expectedResponse.Links.Next = ""

			runPaginationTest(baseEndpointUrl+"?offset=10&limit=5", router, expectedResponse)
		})
	})
})

var _ = Describe("Management API Pagination - 0 connections total", func() {

	var (
		router *mux.Router
	)

	BeforeEach(func() {
		router = paginationTestSetup(0)
	})

	Describe("Connection list endpoint - returning no results", func() {
		It("Meta count should be 0, links should be empty", func() {

			var expectedResponse = paginatedResponse{
				Meta:  meta{Count: 0},
				Links: navigationLinks{},
				Data:  []interface{}{},
			}

			runPaginationTest(CONNECTION_LIST_ENDPOINT+"?offset=0&limit=5", router, expectedResponse)
		})
	})
})
