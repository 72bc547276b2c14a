package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/api"
	"github.com/caseproof/memberpress-courses-copilot-sub010/config"
	"github.com/caseproof/memberpress-courses-copilot-sub010/database"
	copilot_handlers "github.com/caseproof/memberpress-courses-copilot-sub010/handlers/copilot"
	"github.com/caseproof/memberpress-courses-copilot-sub010/router"
	"github.com/caseproof/memberpress-courses-copilot-sub010/services"
	"github.com/caseproof/memberpress-courses-copilot-sub010/services/cron"
	"github.com/caseproof/memberpress-courses-copilot-sub010/services/digitalocean"
	"github.com/caseproof/memberpress-courses-copilot-sub010/services/wordpress"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/auth"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/cache"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/middleware"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/validation"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil && !os.IsNotExist(err) {
		return err
	}

	env, err := config.Get()
	if err != nil {
		return err
	}
	if env.JWT_SECRET == "" {
		return fmt.Errorf("JWT_SECRET environment variable is not set")
	}

	log, err := utils.NewLogger(env.GO_ENV)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Copilot database (sessions, drafts, job logs)
	store, err := database.StartGORM(env, log)
	if err != nil {
		log.Error("Check whether the copilot database is running", "host", env.DB_HOST, "port", env.DB_PORT)
		return err
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Error("Failed to initialize database tables", "error", err)
		return err
	}

	// WordPress database (courses are committed here)
	wpStore, err := database.StartWordPress(env, log)
	if err != nil {
		return err
	}
	defer wpStore.Close()

	db := store.GetDB()
	validator := validation.NewValidator()

	sessions := services.NewSessionStore(db, log, env.EMPTY_SESSION_GRACE)
	drafts := services.NewDraftStore(db, log)

	inference := digitalocean.NewInferenceClient(digitalocean.InferenceConfig{
		APIKey:      env.MODEL_ACCESS_KEY,
		BaseURL:     env.INFERENCE_BASE_URL,
		Model:       env.INFERENCE_MODEL,
		RateLimiter: digitalocean.NewRateLimiter(digitalocean.DefaultRateLimiterConfig()),
	})
	gateway := services.NewAIGateway(inference, log, services.GatewayConfig{Timeout: env.AI_TIMEOUT})

	// Turn replay cache; without Redis replays are rebuilt from the session
	var turnBackend services.JSONCache
	if env.REDIS_URL != "" {
		redisCache, err := cache.NewRedisCache(env.REDIS_URL)
		if err != nil {
			log.Warn("Redis unavailable, turn cache disabled", "error", err)
		} else {
			defer redisCache.Close()
			turnBackend = redisCache
		}
	}

	var archiver *services.SessionArchiver
	if env.SESSION_RETENTION == config.RetentionArchive {
		if !env.SpacesConfigured() {
			return fmt.Errorf("SESSION_RETENTION=archive needs DO_SPACES_* and ARCHIVE_PASSPHRASE")
		}
		spaces, err := digitalocean.NewSpacesClient(digitalocean.SpacesConfig{
			AccessKey: env.DO_SPACES_KEY,
			SecretKey: env.DO_SPACES_SECRET,
			Bucket:    env.DO_SPACES_BUCKET,
			Region:    env.DO_SPACES_REGION,
			Endpoint:  env.DO_SPACES_ENDPOINT,
			Prefix:    "copilot-archive",
		})
		if err != nil {
			return err
		}
		archiver = services.NewSessionArchiver(spaces, env.ARCHIVE_PASSPHRASE, log)
	}

	conversations := services.NewConversationService(services.ConversationDeps{
		Sessions:   sessions,
		Drafts:     drafts,
		Gateway:    gateway,
		Extractor:  services.NewStructureExtractor(validator),
		Factory:    services.NewCourseFactory(wordpress.NewPublisher(wpStore.GetDB(), env.WP_TABLE_PREFIX, log), log),
		Turns:      services.NewTurnCache(turnBackend, log),
		Archiver:   archiver,
		References: services.NewReferenceExtractor(log),
		Log:        log,
	}, services.ConversationConfig{
		CommitPolicy: env.COMMIT_POLICY,
		Retention:    env.SESSION_RETENTION,
	})

	// Initialize Cron Manager (only if enabled via environment variable)
	if env.CRON_ENABLED {
		cronManager := cron.NewCronManager(db, sessions, drafts, log)
		if err := cronManager.Start(); err != nil {
			log.Warn("Failed to start cron jobs", "error", err)
		} else {
			defer cronManager.Stop()
		}
	}

	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		Secret: env.JWT_SECRET,
		Issuer: env.JWT_ISSUER,
	})

	// Init API
	server := api.NewAPIServer(fmt.Sprintf(":%d", env.PORT), log)
	router.SetupRoutes(server.GetEngine(), router.Dependencies{
		Store:          store,
		Auth:           middleware.NewAuthMiddleware(jwtManager, log),
		Copilot:        copilot_handlers.NewCopilotHandler(conversations, validator, log),
		AllowedOrigins: env.ALLOWED_ORIGINS,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("Shutting down API server")
		if err := server.Shutdown(30 * time.Second); err != nil {
			log.Error("Server shutdown failed", "error", err)
		}
	}()

	return server.Run()
}
