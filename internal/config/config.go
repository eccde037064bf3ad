package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ENV_PREFIX = "INTEGRATION_CONNECTOR"

	URL_APP_NAME                   = "URL_App_Name"
	URL_PATH_PREFIX                = "URL_Path_Prefix"
	URL_BASE_PATH                  = "URL_Base_Path"
	HTTP_SHUTDOWN_TIMEOUT          = "HTTP_Shutdown_Timeout"
	SERVICE_TO_SERVICE_CREDENTIALS = "Service_To_Service_Credentials"
	PROFILE                        = "Enable_Profile"

	DATABASE_HOST          = "Database_Host"
	DATABASE_PORT          = "Database_Port"
	DATABASE_USER          = "Database_User"
	DATABASE_PASSWORD      = "Database_Password"
	DATABASE_NAME          = "Database_Name"
	DATABASE_SSL_MODE      = "Database_SSL_Mode"
	DATABASE_SSL_ROOT_CERT = "Database_SSL_Root_Cert"
	DATABASE_QUERY_TIMEOUT = "Database_Query_Timeout"

	SYNC_INTERVAL                     = "Sync_Interval"
	SYNC_SCHEDULER_POLL_INTERVAL      = "Sync_Scheduler_Poll_Interval"
	SYNC_WORKER_COUNT                 = "Sync_Worker_Count"
	SYNC_LEASE_TTL                    = "Sync_Lease_TTL"
	SYNC_MAX_ATTEMPTS_PER_PAGE        = "Sync_Max_Attempts_Per_Page"
	SYNC_BACKOFF_INITIAL_DELAY        = "Sync_Backoff_Initial_Delay"
	SYNC_BACKOFF_MAX_DELAY            = "Sync_Backoff_Max_Delay"
	SYNC_FETCH_TIMEOUT                = "Sync_Fetch_Timeout"
	SYNC_PAGE_SIZE                    = "Sync_Page_Size"
	CREDENTIAL_REFRESH_LEAD_TIME      = "Credential_Refresh_Lead_Time"
	CREDENTIAL_REFRESH_MAX_FAILURES   = "Credential_Refresh_Max_Failures"
	SYNC_EVENTS_IMPL                  = "Sync_Events_Impl"
	SYNC_EVENTS_KAFKA_BROKERS         = "Sync_Events_Kafka_Brokers"
	SYNC_EVENTS_KAFKA_TOPIC           = "Sync_Events_Kafka_Topic"
	SYNC_EVENTS_KAFKA_BATCH_SIZE      = "Sync_Events_Kafka_Batch_Size"
	SYNC_EVENTS_KAFKA_BATCH_BYTES     = "Sync_Events_Kafka_Batch_Bytes"
	KAFKA_USERNAME                    = "Kafka_Username"
	KAFKA_PASSWORD                    = "Kafka_Password"
	KAFKA_SASL_MECHANISM              = "Kafka_SASL_Mechanism"
	KAFKA_CA                          = "Kafka_CA"
	DEFAULT_KAFKA_BROKER_ADDRESS      = "kafka:29092"

	QUICKBOOKS_CLIENT_ID     = "QuickBooks_Client_Id"
	QUICKBOOKS_CLIENT_SECRET = "QuickBooks_Client_Secret"
	QUICKBOOKS_REDIRECT_URI  = "QuickBooks_Redirect_Uri"
	QUICKBOOKS_ENVIRONMENT   = "QuickBooks_Environment"
)

type Config struct {
	UrlAppName                  string
	UrlPathPrefix               string
	UrlBasePath                 string
	HttpShutdownTimeout         time.Duration
	ServiceToServiceCredentials map[string]interface{}
	Profile                     bool

	DatabaseHost         string
	DatabasePort         int
	DatabaseUser         string
	DatabasePassword     string
	DatabaseName         string
	DatabaseSslMode      string
	DatabaseSslRootCert  string
	DatabaseQueryTimeout time.Duration

	SyncInterval                 time.Duration
	SyncSchedulerPollInterval    time.Duration
	SyncWorkerCount              int
	SyncLeaseTTL                 time.Duration
	SyncMaxAttemptsPerPage       int
	SyncBackoffInitialDelay      time.Duration
	SyncBackoffMaxDelay          time.Duration
	SyncFetchTimeout             time.Duration
	SyncPageSize                 int
	CredentialRefreshLeadTime    time.Duration
	CredentialRefreshMaxFailures int

	SyncEventsImpl            string
	SyncEventsKafkaBrokers    []string
	SyncEventsKafkaTopic      string
	SyncEventsKafkaBatchSize  int
	SyncEventsKafkaBatchBytes int
	KafkaUsername             string
	KafkaPassword             string
	KafkaSASLMechanism        string
	KafkaCA                   string

	QuickBooksClientId     string
	QuickBooksClientSecret string
	QuickBooksRedirectUri  string
	QuickBooksEnvironment  string
}

func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", URL_PATH_PREFIX, c.UrlPathPrefix)
	fmt.Fprintf(&b, "%s: %s\n", URL_APP_NAME, c.UrlAppName)
	fmt.Fprintf(&b, "%s: %s\n", URL_BASE_PATH, c.UrlBasePath)
	fmt.Fprintf(&b, "%s: %s\n", HTTP_SHUTDOWN_TIMEOUT, c.HttpShutdownTimeout)
	fmt.Fprintf(&b, "%s: %t\n", PROFILE, c.Profile)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_HOST, c.DatabaseHost)
	fmt.Fprintf(&b, "%s: %d\n", DATABASE_PORT, c.DatabasePort)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_NAME, c.DatabaseName)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_SSL_MODE, c.DatabaseSslMode)
	fmt.Fprintf(&b, "%s: %s\n", DATABASE_QUERY_TIMEOUT, c.DatabaseQueryTimeout)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_INTERVAL, c.SyncInterval)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_SCHEDULER_POLL_INTERVAL, c.SyncSchedulerPollInterval)
	fmt.Fprintf(&b, "%s: %d\n", SYNC_WORKER_COUNT, c.SyncWorkerCount)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_LEASE_TTL, c.SyncLeaseTTL)
	fmt.Fprintf(&b, "%s: %d\n", SYNC_MAX_ATTEMPTS_PER_PAGE, c.SyncMaxAttemptsPerPage)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_BACKOFF_INITIAL_DELAY, c.SyncBackoffInitialDelay)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_BACKOFF_MAX_DELAY, c.SyncBackoffMaxDelay)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_FETCH_TIMEOUT, c.SyncFetchTimeout)
	fmt.Fprintf(&b, "%s: %d\n", SYNC_PAGE_SIZE, c.SyncPageSize)
	fmt.Fprintf(&b, "%s: %s\n", CREDENTIAL_REFRESH_LEAD_TIME, c.CredentialRefreshLeadTime)
	fmt.Fprintf(&b, "%s: %d\n", CREDENTIAL_REFRESH_MAX_FAILURES, c.CredentialRefreshMaxFailures)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_EVENTS_IMPL, c.SyncEventsImpl)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_EVENTS_KAFKA_BROKERS, c.SyncEventsKafkaBrokers)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_EVENTS_KAFKA_TOPIC, c.SyncEventsKafkaTopic)
	fmt.Fprintf(&b, "%s: %s\n", QUICKBOOKS_ENVIRONMENT, c.QuickBooksEnvironment)
	fmt.Fprintf(&b, "%s: %s\n", QUICKBOOKS_REDIRECT_URI, c.QuickBooksRedirectUri)

	return b.String()
}

func GetConfig() *Config {
	options := viper.New()

	options.SetDefault(URL_PATH_PREFIX, "api")
	options.SetDefault(URL_APP_NAME, "integration-connector")
	options.SetDefault(HTTP_SHUTDOWN_TIMEOUT, 2)
	options.SetDefault(SERVICE_TO_SERVICE_CREDENTIALS, "")
	options.SetDefault(PROFILE, false)

	options.SetDefault(DATABASE_HOST, "localhost")
	options.SetDefault(DATABASE_PORT, 5432)
	options.SetDefault(DATABASE_USER, "insights")
	options.SetDefault(DATABASE_PASSWORD, "insights")
	options.SetDefault(DATABASE_NAME, "integration-connector")
	options.SetDefault(DATABASE_SSL_MODE, "disable")
	options.SetDefault(DATABASE_SSL_ROOT_CERT, "db_ssl_root_cert.pem")
	options.SetDefault(DATABASE_QUERY_TIMEOUT, "5s")

	options.SetDefault(SYNC_INTERVAL, "5m")
	options.SetDefault(SYNC_SCHEDULER_POLL_INTERVAL, "30s")
	options.SetDefault(SYNC_WORKER_COUNT, 10)
	options.SetDefault(SYNC_LEASE_TTL, "10m")
	options.SetDefault(SYNC_MAX_ATTEMPTS_PER_PAGE, 4)
	options.SetDefault(SYNC_BACKOFF_INITIAL_DELAY, "1s")
	options.SetDefault(SYNC_BACKOFF_MAX_DELAY, "30s")
	options.SetDefault(SYNC_FETCH_TIMEOUT, "30s")
	options.SetDefault(SYNC_PAGE_SIZE, 1000)
	options.SetDefault(CREDENTIAL_REFRESH_LEAD_TIME, "5m")
	options.SetDefault(CREDENTIAL_REFRESH_MAX_FAILURES, 3)

	options.SetDefault(SYNC_EVENTS_IMPL, "fake")
	options.SetDefault(SYNC_EVENTS_KAFKA_BROKERS, []string{DEFAULT_KAFKA_BROKER_ADDRESS})
	options.SetDefault(SYNC_EVENTS_KAFKA_TOPIC, "platform.integration-connector.sync-events")
	options.SetDefault(SYNC_EVENTS_KAFKA_BATCH_SIZE, 100)
	options.SetDefault(SYNC_EVENTS_KAFKA_BATCH_BYTES, 1048576)
	options.SetDefault(KAFKA_USERNAME, "")
	options.SetDefault(KAFKA_PASSWORD, "")
	options.SetDefault(KAFKA_SASL_MECHANISM, "")
	options.SetDefault(KAFKA_CA, "")

	options.SetDefault(QUICKBOOKS_CLIENT_ID, "")
	options.SetDefault(QUICKBOOKS_CLIENT_SECRET, "")
	options.SetDefault(QUICKBOOKS_REDIRECT_URI, "http://localhost:8000/api/integration-connector/v1/connections/callback")
	options.SetDefault(QUICKBOOKS_ENVIRONMENT, "sandbox")

	options.SetEnvPrefix(ENV_PREFIX)
	options.AutomaticEnv()

	return &Config{
		UrlPathPrefix:               options.GetString(URL_PATH_PREFIX),
		UrlAppName:                  options.GetString(URL_APP_NAME),
		UrlBasePath:                 buildUrlBasePath(options.GetString(URL_PATH_PREFIX), options.GetString(URL_APP_NAME)),
		HttpShutdownTimeout:         options.GetDuration(HTTP_SHUTDOWN_TIMEOUT) * time.Second,
		ServiceToServiceCredentials: options.GetStringMap(SERVICE_TO_SERVICE_CREDENTIALS),
		Profile:                     options.GetBool(PROFILE),

		DatabaseHost:         options.GetString(DATABASE_HOST),
		DatabasePort:         options.GetInt(DATABASE_PORT),
		DatabaseUser:         options.GetString(DATABASE_USER),
		DatabasePassword:     options.GetString(DATABASE_PASSWORD),
		DatabaseName:         options.GetString(DATABASE_NAME),
		DatabaseSslMode:      options.GetString(DATABASE_SSL_MODE),
		DatabaseSslRootCert:  options.GetString(DATABASE_SSL_ROOT_CERT),
		DatabaseQueryTimeout: options.GetDuration(DATABASE_QUERY_TIMEOUT),

		SyncInterval:                 options.GetDuration(SYNC_INTERVAL),
		SyncSchedulerPollInterval:    options.GetDuration(SYNC_SCHEDULER_POLL_INTERVAL),
		SyncWorkerCount:              options.GetInt(SYNC_WORKER_COUNT),
		SyncLeaseTTL:                 options.GetDuration(SYNC_LEASE_TTL),
		SyncMaxAttemptsPerPage:       options.GetInt(SYNC_MAX_ATTEMPTS_PER_PAGE),
		SyncBackoffInitialDelay:      options.GetDuration(SYNC_BACKOFF_INITIAL_DELAY),
		SyncBackoffMaxDelay:          options.GetDuration(SYNC_BACKOFF_MAX_DELAY),
		SyncFetchTimeout:             options.GetDuration(SYNC_FETCH_TIMEOUT),
		SyncPageSize:                 options.GetInt(SYNC_PAGE_SIZE),
		CredentialRefreshLeadTime:    options.GetDuration(CREDENTIAL_REFRESH_LEAD_TIME),
		CredentialRefreshMaxFailures: options.GetInt(CREDENTIAL_REFRESH_MAX_FAILURES),

		SyncEventsImpl:            options.GetString(SYNC_EVENTS_IMPL),
		SyncEventsKafkaBrokers:    options.GetStringSlice(SYNC_EVENTS_KAFKA_BROKERS),
		SyncEventsKafkaTopic:      options.GetString(SYNC_EVENTS_KAFKA_TOPIC),
		SyncEventsKafkaBatchSize:  options.GetInt(SYNC_EVENTS_KAFKA_BATCH_SIZE),
		SyncEventsKafkaBatchBytes: options.GetInt(SYNC_EVENTS_KAFKA_BATCH_BYTES),
		KafkaUsername:             options.GetString(KAFKA_USERNAME),
		KafkaPassword:             options.GetString(KAFKA_PASSWORD),
		KafkaSASLMechanism:        options.GetString(KAFKA_SASL_MECHANISM),
		KafkaCA:                   options.GetString(KAFKA_CA),

		QuickBooksClientId:     options.GetString(QUICKBOOKS_CLIENT_ID),
		QuickBooksClientSecret: options.GetString(QUICKBOOKS_CLIENT_SECRET),
		QuickBooksRedirectUri:  options.GetString(QUICKBOOKS_REDIRECT_URI),
		QuickBooksEnvironment:  options.GetString(QUICKBOOKS_ENVIRONMENT),
	}
}

func buildUrlBasePath(pathPrefix string, appName string) string {
	return fmt.Sprintf("/%s/%s/v1", pathPrefix, appName)
}
