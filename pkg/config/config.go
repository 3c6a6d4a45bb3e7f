package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Eventing     EventingConfig
	Reservation  ReservationConfig
	Metrics      MetricsConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyFeatureFlags()
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDatabase reads only the App and DB sections. Tools that never consume
// events (migrations) use it so they do not need transport settings.
func LoadDatabase() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg.App); err != nil {
		return nil, fmt.Errorf("parsing app config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg.DB); err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyFeatureFlags switches local runs to a file-backed SQLite ledger.
func (c *Config) applyFeatureFlags() {
	if !c.FeatureFlags.UseSQLite {
		return
	}
	c.DB.Driver = DBDriverSQLite
	if c.DB.DSN == "" {
		c.DB.DSN = defaultSQLiteDSN
	}
}

func (c *Config) validate() error {
	switch c.Eventing.Transport {
	case TransportPubSub:
		if c.GCP.ProjectID == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvEventingTransport, TransportPubSub)
		}
		if c.PubSub.ReserveSubscription == "" || c.PubSub.CancelSubscription == "" {
			return fmt.Errorf("%s and %s are required when %s=%s", EnvPubSubReserveSub, EnvPubSubCancelSub, EnvEventingTransport, TransportPubSub)
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvEventingTransport, TransportKafka)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvEventingTransport, c.Eventing.Transport)
	}
	if c.Reservation.TxTimeout <= 0 || c.Reservation.CompensationTimeout <= 0 {
		return fmt.Errorf("%s and %s must be positive", EnvReservationTxTimeout, EnvReservationCompensationTimeout)
	}
	// A claim must outlive one full engine call or a slow delivery could be
	// picked up twice.
	if c.Eventing.ClaimTTL <= c.Reservation.TxTimeout+c.Reservation.CompensationTimeout {
		return fmt.Errorf("%s must exceed %s plus %s", EnvEventingClaimTTL, EnvReservationTxTimeout, EnvReservationCompensationTimeout)
	}
	if c.Eventing.IdempotencyTTL < c.Eventing.ClaimTTL {
		return fmt.Errorf("%s must not be shorter than %s", EnvEventingIdempotencyTTL, EnvEventingClaimTTL)
	}
	if c.FeatureFlags.UseSQLite && c.App.IsProd() {
		return fmt.Errorf("%s is not allowed in production", EnvUseSQLite)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"INVENTORY_APP_ENV" required:"true"`
	Port         string `envconfig:"INVENTORY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"INVENTORY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"INVENTORY_LOG_WARN_STACK" default:"false"`
	AssetsDir    string `envconfig:"INVENTORY_ASSETS_DIR" default:"assets"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"INVENTORY_DB_DSN"`
	Driver string `envconfig:"INVENTORY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"INVENTORY_DB_HOST"`
	Port     int    `envconfig:"INVENTORY_DB_PORT" default:"5432"`
	User     string `envconfig:"INVENTORY_DB_USER"`
	Password string `envconfig:"INVENTORY_DB_PASSWORD"`
	Name     string `envconfig:"INVENTORY_DB_NAME"`
	SSLMode  string `envconfig:"INVENTORY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"INVENTORY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"INVENTORY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"INVENTORY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INVENTORY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig is optional; an empty URL and address disables redelivery dedupe.
type RedisConfig struct {
	URL          string        `envconfig:"INVENTORY_REDIS_URL"`
	Address      string        `envconfig:"INVENTORY_REDIS_ADDR"`
	Password     string        `envconfig:"INVENTORY_REDIS_PASSWORD"`
	DB           int           `envconfig:"INVENTORY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INVENTORY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INVENTORY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INVENTORY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INVENTORY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INVENTORY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type GCPConfig struct {
	ProjectID       string `envconfig:"INVENTORY_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"INVENTORY_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	ReserveSubscription string `envconfig:"INVENTORY_PUBSUB_RESERVE_SUBSCRIPTION" default:"inventory.reserve_order"`
	CancelSubscription  string `envconfig:"INVENTORY_PUBSUB_CANCEL_SUBSCRIPTION" default:"inventory.cancel_order"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"INVENTORY_KAFKA_BROKERS"`
	GroupID      string        `envconfig:"INVENTORY_KAFKA_GROUP_ID" default:"inventory-service"`
	ReserveTopic string        `envconfig:"INVENTORY_KAFKA_RESERVE_TOPIC" default:"inventory.reserve_order"`
	CancelTopic  string        `envconfig:"INVENTORY_KAFKA_CANCEL_TOPIC" default:"inventory.cancel_order"`
	MaxWait      time.Duration `envconfig:"INVENTORY_KAFKA_MAX_WAIT" default:"1s"`
}

type EventingConfig struct {
	Transport      string        `envconfig:"INVENTORY_EVENTING_TRANSPORT" default:"pubsub"`
	IdempotencyTTL time.Duration `envconfig:"INVENTORY_EVENTING_IDEMPOTENCY_TTL" default:"72h"`
	ClaimTTL       time.Duration `envconfig:"INVENTORY_EVENTING_CLAIM_TTL" default:"1m"`
	Concurrency    int           `envconfig:"INVENTORY_EVENTING_CONCURRENCY" default:"8"`
}

type ReservationConfig struct {
	TxTimeout           time.Duration `envconfig:"INVENTORY_RESERVATION_TX_TIMEOUT" default:"5s"`
	CompensationTimeout time.Duration `envconfig:"INVENTORY_RESERVATION_COMPENSATION_TIMEOUT" default:"5s"`
}

type MetricsConfig struct {
	Addr string `envconfig:"INVENTORY_METRICS_ADDR" default:":9090"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"INVENTORY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"INVENTORY_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	discrete := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if discrete[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
