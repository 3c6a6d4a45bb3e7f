package config

const EnvPrefix = "INVENTORY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	TransportPubSub = "pubsub"
	TransportKafka  = "kafka"

	DBDriverSQLite   = "sqlite"
	defaultSQLiteDSN = "file:inventory.db?_foreign_keys=on"
)

const (
	EnvAppEnv   = "INVENTORY_APP_ENV"
	EnvPort     = "INVENTORY_APP_PORT"
	EnvLogLevel = "INVENTORY_LOG_LEVEL"

	EnvDBDSN  = "INVENTORY_DB_DSN"
	EnvDBHost = "INVENTORY_DB_HOST"
	EnvDBUser = "INVENTORY_DB_USER"
	EnvDBName = "INVENTORY_DB_NAME"

	EnvRedisURL = "INVENTORY_REDIS_URL"

	EnvUseSQLite = "INVENTORY_USE_SQLITE"

	EnvGCPProjectID     = "INVENTORY_GCP_PROJECT_ID"
	EnvPubSubReserveSub = "INVENTORY_PUBSUB_RESERVE_SUBSCRIPTION"
	EnvPubSubCancelSub  = "INVENTORY_PUBSUB_CANCEL_SUBSCRIPTION"

	EnvKafkaBrokers = "INVENTORY_KAFKA_BROKERS"

	EnvEventingTransport      = "INVENTORY_EVENTING_TRANSPORT"
	EnvEventingClaimTTL       = "INVENTORY_EVENTING_CLAIM_TTL"
	EnvEventingIdempotencyTTL = "INVENTORY_EVENTING_IDEMPOTENCY_TTL"

	EnvReservationTxTimeout           = "INVENTORY_RESERVATION_TX_TIMEOUT"
	EnvReservationCompensationTimeout = "INVENTORY_RESERVATION_COMPENSATION_TIMEOUT"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
