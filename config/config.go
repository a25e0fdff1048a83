package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config armazena todas as configurações do serviço de troca de paletes.
type Config struct {
	// Geral
	Port        string
	Environment string
	LogLevel    string

	// Armazenamento: "postgres" (produção) ou "memory" (execução local sem banco)
	StorageDriver string

	// Banco de Dados (PostgreSQL)
	DatabaseURL      string
	DBTimeout        time.Duration
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	MigrationsOnBoot bool

	// Cache (Redis)
	RedisAddr    string
	CacheTimeout time.Duration
	SiteCacheTTL time.Duration

	// Segurança (JWT emitido pelo serviço de autenticação externo)
	JWTSecretKey string
	JWTIssuer    string

	// Assinatura dos cheques
	ChequeSigningKey string
	QRCodePrefix     string

	// Sites
	DefaultSiteTimezone string

	// Eventos de domínio (NATS). Vazio desativa a publicação.
	NATSURL           string
	NATSSubjectPrefix string

	// Evidências fotográficas (MinIO / S3)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MaxPhotoBytes  int64

	// Rate Limiting
	RateLimitMaxRequests int
	RateLimitPeriod      time.Duration
}

// LoadConfig carrega as configurações a partir das variáveis de ambiente.
func LoadConfig() *Config {
	storage := strings.ToLower(getEnv("STORAGE_DRIVER", "postgres"))

	cfg := &Config{
		// 1. Geral
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StorageDriver: storage,

		// 2. Banco de Dados (PostgreSQL)
		DBTimeout:        getDurationEnv("DB_TIMEOUT_SEC", 5) * time.Second,
		DBMaxOpenConns:   getIntEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:   getIntEnv("DB_MAX_IDLE_CONNS", 10),
		MigrationsOnBoot: getBoolEnv("DB_MIGRATE_ON_BOOT", false),

		// 3. Cache (Redis)
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		CacheTimeout: getDurationEnv("CACHE_TIMEOUT_SEC", 10) * time.Second,
		SiteCacheTTL: getDurationEnv("SITE_CACHE_TTL_MIN", 5) * time.Minute,

		// 4. Segurança (JWT)
		JWTSecretKey: mustGetEnv("JWT_SECRET_KEY"),
		JWTIssuer:    getEnv("JWT_ISSUER", "symphonia-auth"),

		// 5. Cheques
		ChequeSigningKey: mustGetEnv("CHEQUE_SIGNING_KEY"),
		QRCodePrefix:     getEnv("QR_CODE_PREFIX", "PAL"),

		DefaultSiteTimezone: getEnv("DEFAULT_SITE_TIMEZONE", "Europe/Paris"),

		// 6. Eventos
		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "palette"),

		// 7. Evidências
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "palette-evidence"),
		MinioUseSSL:    getBoolEnv("MINIO_USE_SSL", false),
		MaxPhotoBytes:  int64(getIntEnv("MAX_PHOTO_MB", 10)) * 1024 * 1024,

		// 8. Rate Limiting
		RateLimitMaxRequests: getIntEnv("RATE_LIMIT_MAX_REQUESTS", 100),
		RateLimitPeriod:      getDurationEnv("RATE_LIMIT_PERIOD_MIN", 1) * time.Minute,
	}

	// O banco só é obrigatório quando o driver é postgres.
	if storage == "postgres" {
		cfg.DatabaseURL = mustGetEnv("DATABASE_URL")
	} else {
		cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	}

	return cfg
}

// Funções Helpers (Auxiliares)

// getEnv lê a variável de ambiente ou retorna um valor padrão.
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// mustGetEnv lê a variável de ambiente, fatal se não estiver presente.
func mustGetEnv(key string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	log.Fatalf("❌ Erro de Configuração: A variável de ambiente %s deve ser definida.", key)
	return ""
}

// getDurationEnv lê uma variável de ambiente numérica e retorna-a como time.Duration.
func getDurationEnv(key string, defaultValue int) time.Duration {
	return time.Duration(getIntEnv(key, defaultValue))
}

// getIntEnv lê uma variável de ambiente numérica e retorna-a como int.
func getIntEnv(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("⚠️ Aviso: Valor de %s ('%s') não é um número inteiro válido. Usando padrão (%d).", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

// getBoolEnv lê uma variável de ambiente booleana.
func getBoolEnv(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("⚠️ Aviso: Valor de %s ('%s') não é booleano. Usando padrão (%t).", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
