package common

import "time"

// Environment variable keys
const (
	EnvConfigFile = "CONFIG_FILE"

	EnvPort        = "PORT"
	EnvCORSEnabled = "CORS_ENABLED"

	EnvStoreBackend = "STORE_BACKEND"
	EnvDataPath     = "DATA_PATH"
	EnvDBHost       = "DB_HOST"
	EnvDBPort       = "DB_PORT"
	EnvDBName       = "DB_NAME"
	EnvDBUser       = "DB_USER"
	EnvDBPassword   = "DB_PASSWORD"
	EnvDBSSLMode    = "DB_SSLMODE"
	EnvDBMigrate    = "DB_MIGRATE"

	EnvModelBackend        = "MODEL_BACKEND"
	EnvModelWeightPath     = "MODEL_WEIGHT_PATH"
	EnvPythonPath          = "PYTHON_PATH"
	EnvModelURL            = "MODEL_URL"
	EnvInferenceTimeout    = "INFERENCE_TIMEOUT"
	EnvModelStartupTimeout = "MODEL_STARTUP_TIMEOUT"
	EnvFeatureCols         = "FEATURE_COLS"

	EnvMetricsEnabled = "METRICS_ENABLED"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
)

// Model backends
const (
	ModelBackendScript = "script"
	ModelBackendRemote = "remote"
)

// Configuration defaults
const (
	DefaultConfigFile          = "config.yaml"
	DefaultEnvFile             = ".env"
	DefaultPort                = 8080
	DefaultStoreBackend        = "bolt"
	DefaultDataPath            = "data"
	DefaultDBHost              = "localhost"
	DefaultDBPort              = 5432
	DefaultDBName              = "frauds"
	DefaultDBSSLMode           = "disable"
	DefaultModelBackend        = ModelBackendScript
	DefaultModelWeightPath     = "models/fraud_model.joblib"
	DefaultInferenceTimeout    = 5 * time.Second
	DefaultModelStartupTimeout = 60 * time.Second
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
)

// DefaultFeatureCols is the column order the bundled model was trained on.
var DefaultFeatureCols = []string{
	"time_ind",
	"transac_type",
	"amount",
	"src_bal",
	"src_new_bal",
	"dst_bal",
	"dst_new_bal",
}

// HTTP server timeouts
const (
	ReadHeaderTimeout = 5 * time.Second
	ShutdownTimeout   = 15 * time.Second
)
