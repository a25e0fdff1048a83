package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paletteledger/config"
	_ "paletteledger/docs"
	"paletteledger/internal/api/cheque"
	"paletteledger/internal/api/dispute"
	"paletteledger/internal/api/evidence"
	"paletteledger/internal/api/ledger"
	"paletteledger/internal/api/router"
	"paletteledger/internal/api/site"
	"paletteledger/internal/pkg/cache"
	"paletteledger/internal/pkg/clock"
	"paletteledger/internal/pkg/database"
	"paletteledger/internal/pkg/events"
	evidencestore "paletteledger/internal/pkg/evidence"
	"paletteledger/internal/pkg/logger"
	"paletteledger/internal/pkg/schema"
	"paletteledger/internal/pkg/signer"
	"paletteledger/internal/pkg/token"
	"paletteledger/internal/repository/chequerepo"
	"paletteledger/internal/repository/disputerepo"
	"paletteledger/internal/repository/ledgerrepo"
	"paletteledger/internal/repository/memrepo"
	"paletteledger/internal/repository/siterepo"
	"paletteledger/internal/service/chequeservice"
	"paletteledger/internal/service/disputeservice"
	"paletteledger/internal/service/ledgerservice"
	"paletteledger/internal/service/quotaservice"
)

// storage agrupa os repositórios de um driver (postgres ou memória).
type storage struct {
	cheques interface {
		chequeservice.ChequeRepository
		ledgerservice.ChequeReader
	}
	sites    quotaservice.SiteRepository
	ledger   ledgerservice.LedgerRepository
	disputes disputeservice.DisputeRepository
	close    func()
}

// @title Palette Ledger API
// @version 1.0
// @description Cheques-palete, cotas de sites de devolução, razão por empresa e litígios.
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	log.Println("⚡ Inicializando serviço Palette Ledger...")
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ Aviso: Arquivo .env não encontrado ou erro de leitura. Carregando configs apenas do ambiente do sistema.")
	}

	cfg := config.LoadConfig()
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("Configurações carregadas.", map[string]interface{}{"env": cfg.Environment, "storage": cfg.StorageDriver})

	// 1. Infraestrutura

	// A. Cache (Redis), com fallback em memória
	var cacheClient cache.Client
	redisClient, err := cache.NewRedisClient(cfg.RedisAddr)
	if err != nil {
		log.Warn("Redis indisponível; usando cache em memória.", map[string]interface{}{"addr": cfg.RedisAddr, "error": err.Error()})
		cacheClient = cache.NewMemoryClient()
	} else {
		cacheClient = redisClient
		log.Info("Conexão Redis estabelecida.", nil)
	}

	// B. Armazenamento
	store := newStorage(cfg, cacheClient, log)
	defer store.close()

	// C. Eventos de domínio (NATS)
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(events.Config{
			URL:            cfg.NATSURL,
			Name:           "palette-ledger",
			SubjectPrefix:  cfg.NATSSubjectPrefix,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
			ConnectTimeout: 5 * time.Second,
		}, log)
		if err != nil {
			log.Warn("NATS indisponível; eventos desativados.", map[string]interface{}{"error": err.Error()})
		} else {
			publisher = natsPublisher
			log.Info("Publicador NATS conectado.", map[string]interface{}{"url": cfg.NATSURL})
		}
	}
	defer publisher.Close()

	// D. Evidências fotográficas (MinIO)
	photos := newPhotoStore(cfg, log)

	// E. Assinatura dos cheques e validação de payloads
	chequeSigner, err := signer.NewBlake2bSigner(cfg.ChequeSigningKey, cfg.QRCodePrefix)
	if err != nil {
		log.Fatal("Chave de assinatura dos cheques inválida.", err)
	}
	validator, err := schema.NewValidator()
	if err != nil {
		log.Fatal("Falha ao compilar os schemas de payload.", err)
	}
	tokenSvc := token.NewService(cfg.JWTSecretKey, cfg.JWTIssuer, 0)
	clk := clock.NewSystemClock()

	// 2. Serviços. Ordem: Repository -> Service -> Handler
	quotaSvc := quotaservice.NewService(store.sites, clk, publisher, cfg.DefaultSiteTimezone, log)
	ledgerSvc := ledgerservice.NewService(store.ledger, store.cheques, publisher, clk, log)
	disputeSvc := disputeservice.NewService(store.disputes, store.cheques, store.sites, publisher, clk, log)
	chequeSvc := chequeservice.NewService(store.cheques, store.sites, quotaSvc, disputeSvc, chequeSigner, publisher, clk, log)
	log.Debug("Serviços inicializados.", nil)

	// 3. Roteador
	handlers := router.Handlers{
		Cheque:   cheque.NewHandler(chequeSvc, validator, log),
		Site:     site.NewHandler(quotaSvc, validator, log),
		Ledger:   ledger.NewHandler(ledgerSvc, validator, log),
		Dispute:  dispute.NewHandler(disputeSvc, validator, log),
		Evidence: evidence.NewHandler(photos, clk, cfg.MaxPhotoBytes, log),
	}
	r := router.NewRouter(handlers, tokenSvc, router.RateLimit{
		Client:      cacheClient,
		MaxRequests: cfg.RateLimitMaxRequests,
		Period:      cfg.RateLimitPeriod,
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 4. Execução e Graceful Shutdown
	go func() {
		log.Info("Servidor Palette Ledger ouvindo na porta", map[string]interface{}{"port": cfg.Port})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Servidor falhou.", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Sinal de encerramento recebido. Desligando servidor...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Desligamento do servidor forçado.", err)
	}

	log.Info("Servidor encerrado com sucesso.", nil)
}

func newStorage(cfg *config.Config, cacheClient cache.Client, log logger.Logger) storage {
	if cfg.StorageDriver == "memory" {
		log.Warn("Armazenamento em memória: os dados não sobrevivem ao processo.", nil)
		mem := memrepo.NewStore(log)
		return storage{cheques: mem, sites: mem, ledger: mem, disputes: mem, close: func() {}}
	}

	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns
	db, err := database.NewPostgresDB(cfg.DatabaseURL, pool)
	if err != nil {
		log.Fatal("Falha ao conectar ao banco de dados.", err)
	}
	log.Info("Conexão PostgreSQL estabelecida.", nil)

	if cfg.MigrationsOnBoot {
		if err := database.Migrate(db, "up"); err != nil {
			log.Fatal("Falha ao aplicar as migrações.", err)
		}
		log.Info("Migrações aplicadas.", nil)
	}

	return storage{
		cheques:  chequerepo.NewChequeRepository(db, cfg.DBTimeout, log),
		sites:    siterepo.NewSiteRepository(db, cacheClient, cfg.DBTimeout, cfg.SiteCacheTTL, log),
		ledger:   ledgerrepo.NewLedgerRepository(db, cfg.DBTimeout, log),
		disputes: disputerepo.NewDisputeRepository(db, cfg.DBTimeout, log),
		close:    closeDB(db, log),
	}
}

func closeDB(db *sql.DB, log logger.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.Error("Falha ao fechar o pool do banco.", err)
		}
	}
}

func newPhotoStore(cfg *config.Config, log logger.Logger) evidencestore.Store {
	minioStore, err := evidencestore.NewMinioStore(evidencestore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}, log)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = minioStore.EnsureBucket(ctx)
	}
	if err != nil {
		log.Warn("MinIO indisponível; evidências gravadas em memória.", map[string]interface{}{"endpoint": cfg.MinioEndpoint, "error": err.Error()})
		return evidencestore.NewMemoryStore(cfg.MinioBucket)
	}
	log.Info("Armazenamento de evidências pronto.", map[string]interface{}{"bucket": cfg.MinioBucket})
	return minioStore
}
