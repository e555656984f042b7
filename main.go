package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beka-birhanu/xplode-api/api"
	gameapi "github.com/beka-birhanu/xplode-api/api/game"
	api_i "github.com/beka-birhanu/xplode-api/api/i"
	"github.com/beka-birhanu/xplode-api/api/identity"
	"github.com/beka-birhanu/xplode-api/api/ws"
	"github.com/beka-birhanu/xplode-api/config"
	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/infrastruture/discovery"
	"github.com/beka-birhanu/xplode-api/infrastruture/ledger"
	"github.com/beka-birhanu/xplode-api/infrastruture/lock"
	logger "github.com/beka-birhanu/xplode-api/infrastruture/log"
	"github.com/beka-birhanu/xplode-api/infrastruture/metrics"
	"github.com/beka-birhanu/xplode-api/infrastruture/repo"
	"github.com/beka-birhanu/xplode-api/infrastruture/sortedstorage"
	"github.com/beka-birhanu/xplode-api/infrastruture/store"
	"github.com/beka-birhanu/xplode-api/infrastruture/token"
	"github.com/beka-birhanu/xplode-api/service"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	shutdownGrace    = 30 * time.Second
	createMatchLimit = 5 * time.Second
)

// Global variables for dependencies
var (
	appLogger       *logger.Logger
	redisClient     *redis.Client
	mongoClient     *mongo.Client
	postgresDB      *gorm.DB
	settlementRepo  *repo.SettlementRepo
	moveRepo        *repo.MoveRepo
	walletStore     *store.WalletStore
	sessionRegistry *discovery.RedisDiscovery
	locker          *lock.RedsyncLocker
	ledgerClient    *ledger.Client
	appMetrics      *metrics.Metrics
	settlement      *service.SettlementCoordinator
	engine          *service.Engine
	matchmaker      *service.Matchmaker
	maintenance     *service.Maintenance
	jwtTokenizer    i.Tokenizer
	controllers     []api_i.Controller
	router          *api.Router
)

func componentLogger(name, color string) *logger.Logger {
	l, err := logger.New(name, color, os.Stdout)
	if err != nil {
		appLogger.Error(fmt.Sprintf("Creating %s logger: %v", name, err))
		os.Exit(1)
	}
	return l
}

func initRedis(ctx context.Context) {
	redisClient = redis.NewClient(&redis.Options{
		Addr:     config.Envs.RedisAddr,
		Password: config.Envs.RedisPassword,
		DB:       config.Envs.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		appLogger.Error(fmt.Sprintf("Redis ping failed: %v", err))
		os.Exit(1)
	}
	appLogger.Info("Connected to Redis")
}

func initMongo(ctx context.Context) {
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%v", config.Envs.DBUser, config.Envs.DBPassword, config.Envs.DBHost, config.Envs.DBPort)

	clientOptions := options.Client().ApplyURI(uri)
	var err error
	mongoClient, err = mongo.Connect(ctx, clientOptions)
	if err != nil {
		appLogger.Error(fmt.Sprintf("Failed to connect to MongoDB: %v", err))
		os.Exit(1)
	}
	if err = mongoClient.Ping(ctx, nil); err != nil {
		appLogger.Error(fmt.Sprintf("MongoDB ping failed: %v", err))
		os.Exit(1)
	}
	appLogger.Info("Connected to MongoDB")
}

func initPostgres() {
	var err error
	postgresDB, err = gorm.Open(postgres.Open(config.Envs.PostgresDSN), &gorm.Config{})
	if err != nil {
		appLogger.Error(fmt.Sprintf("Failed to connect to Postgres: %v", err))
		os.Exit(1)
	}
	appLogger.Info("Connected to Postgres")
}

func initStores(ctx context.Context) {
	settlementRepo = repo.NewSettlementRepo(mongoClient, config.Envs.DBName, "settlements")
	if err := settlementRepo.EnsureIndexes(ctx); err != nil {
		appLogger.Error(fmt.Sprintf("Creating settlement indexes: %v", err))
		os.Exit(1)
	}
	moveRepo = repo.NewMoveRepo(mongoClient, config.Envs.DBName, "moves")

	walletStore = store.NewWalletStore(postgresDB)
	if err := walletStore.Migrate(); err != nil {
		appLogger.Error(fmt.Sprintf("Migrating wallet tables: %v", err))
		os.Exit(1)
	}

	sessionRegistry = discovery.NewRedisDiscovery(redisClient, config.Envs.DiscoveryTTL)
	locker = lock.NewRedsyncLocker(redisClient, 0, componentLogger("LOCK", config.ColorYellow))
	ledgerClient = ledger.NewClient(config.Envs.LedgerAPIURL, config.Envs.LedgerAPIToken, 10*time.Second)
	appLogger.Info("Stores initialized")
}

func initMetrics() {
	appMetrics = metrics.New(prometheus.DefaultRegisterer)
	appLogger.Info("Metrics initialized")
}

func initSettlement(clock clockwork.Clock) {
	var err error
	settlement, err = service.NewSettlementCoordinator(&service.SettlementConfig{
		Store:   settlementRepo,
		Ledger:  ledgerClient,
		Wallets: walletStore,
		Locker:  locker,
		Logger:  componentLogger("SETTLEMENT", config.ColorMagenta),
		Metrics: appMetrics,
		Clock:   clock,
		Options: service.SettlementOptions{
			MaxElapsed: config.Envs.SettlementMaxElapsed,
			RetryAfter: config.Envs.SettlementReconcileInterval,
		},
	})
	if err != nil {
		appLogger.Error(fmt.Sprintf("Creating settlement coordinator: %v", err))
		os.Exit(1)
	}
	appLogger.Info("Settlement coordinator initialized")
}

func initEngine(clock clockwork.Clock) {
	var err error
	engine, err = service.NewEngine(&service.EngineConfig{
		Clock:      clock,
		Settlement: settlement,
		Wallets:    walletStore,
		Discovery:  sessionRegistry,
		Recorder:   ledgerClient,
		MoveLog:    moveRepo,
		Metrics:    appMetrics,
		Logger:     componentLogger("SESSION-ENGINE", config.ColorCyan),
		Boards:     game.GenerateBoard,
		Timeouts: service.Timeouts{
			Join:            config.Envs.JoinTimeout,
			Move:            config.Envs.MoveTimeout,
			Grace:           config.Envs.GracePeriod,
			RematchDeadline: config.Envs.RematchDeadline,
			RemovalDelay:    config.Envs.RemovalDelay,
			Inactivity:      config.Envs.InactivityTimeout,
		},
		ServerID:   config.Envs.ServerID,
		Region:     config.Envs.Region,
		PublicAddr: config.Envs.PublicAddr,
	})
	if err != nil {
		appLogger.Error(fmt.Sprintf("Creating session engine: %v", err))
		os.Exit(1)
	}
	appLogger.Info("Session engine initialized")
}

func initMatchmaker() {
	queue, err := sortedstorage.NewRedisSortedQueue(redisClient, config.Envs.MatchQueueTTL)
	if err != nil {
		appLogger.Error(fmt.Sprintf("Creating matchmaking queue: %v", err))
		os.Exit(1)
	}

	matchLogger := componentLogger("MATCH-MAKER", config.ColorPurple)
	matchmaker, err = service.NewMatchmaker(queue, matchLogger, nil)
	if err != nil {
		appLogger.Error(fmt.Sprintf("Creating matchmaker: %v", err))
		os.Exit(1)
	}
	matchmaker.SetMatchHandler(func(ctx context.Context, cfg game.Config, players []uuid.UUID) {
		ctx, cancel := context.WithTimeout(ctx, createMatchLimit)
		defer cancel()
		if _, err := engine.CreateMatch(ctx, cfg, players); err != nil {
			matchLogger.Error(fmt.Sprintf("Creating match for players %v: %v", players, err))
		}
	})
	appLogger.Info("Matchmaker initialized")
}

func initMaintenance() {
	var err error
	maintenance, err = service.NewMaintenance(engine, settlement, componentLogger("MAINTENANCE", config.ColorBlue), service.MaintenanceOptions{
		SweepInterval:     config.Envs.SweepInterval,
		ReconcileInterval: config.Envs.SettlementReconcileInterval,
	})
	if err != nil {
		appLogger.Error(fmt.Sprintf("Creating maintenance jobs: %v", err))
		os.Exit(1)
	}
	appLogger.Info("Maintenance jobs initialized")
}

func initJWTTokenizer() {
	jwtTokenizer = token.NewJwtService(config.Envs.JWTSecret, config.Envs.JWTIssuer)
	appLogger.Info("JWT Tokenizer initialized")
}

func initControllers() {
	matchmakingController, err := gameapi.NewMatchMakingController(matchmaker, sessionRegistry, config.Envs.Region)
	if err != nil {
		appLogger.Error(fmt.Sprintf("Creating matchmaking controller: %v", err))
		os.Exit(1)
	}
	socketController, err := ws.NewSocketController(engine, componentLogger("SOCKET", config.ColorGreen), config.Envs.AllowedOrigins)
	if err != nil {
		appLogger.Error(fmt.Sprintf("Creating socket controller: %v", err))
		os.Exit(1)
	}

	controllers = []api_i.Controller{
		matchmakingController,
		gameapi.NewWalletController(walletStore),
		socketController,
	}
	appLogger.Info("Controllers initialized")
}

func initRouter(t i.Tokenizer) {
	gin.SetMode(config.Envs.GinMode)
	router = api.NewRouter(api.Config{
		Addr:                    fmt.Sprintf("%s:%v", config.Envs.HostIP, config.Envs.RESTPort),
		BaseURL:                 "/api",
		Controllers:             controllers,
		AuthorizationMiddleware: identity.Authoriz(t),
		MetricsHandler:          promhttp.Handler(),
	})
	appLogger.Info("Router initialized")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appLogger, _ = logger.New("APP", config.ColorGreen, os.Stdout)
	defer func() { _ = appLogger.Sync() }()

	startCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	initRedis(startCtx)
	defer redisClient.Close()
	initMongo(startCtx)
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()
	initPostgres()
	initStores(startCtx)
	initMetrics()

	clock := clockwork.NewRealClock()
	initSettlement(clock)
	initEngine(clock)
	initMatchmaker()
	initMaintenance()
	initJWTTokenizer()
	initControllers()
	initRouter(jwtTokenizer)

	maintenance.Start()
	appLogger.Info(fmt.Sprintf("Server %s serving region %s", config.Envs.ServerID, config.Envs.Region))

	if err := router.Run(ctx); err != nil {
		appLogger.Error(fmt.Sprintf("Running server: %v", err))
	}

	appLogger.Info("Shutting down")
	if err := maintenance.Stop(); err != nil {
		appLogger.Warning(fmt.Sprintf("Stopping maintenance jobs: %v", err))
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		appLogger.Warning(fmt.Sprintf("Engine shutdown: %v", err))
	}
}
