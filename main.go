package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ranked-match-system/handlers"
	"ranked-match-system/middleware"
	"ranked-match-system/models"
	"ranked-match-system/services"
	"ranked-match-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// activeMatches aggregates the in-memory trackers for the reconcile worker.
type activeMatches struct {
	verification *services.VerificationService
	live         *services.LiveMatchService
}

func (a *activeMatches) Active(matchID string) bool {
	return a.verification.Has(matchID) || a.live.Has(matchID)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Name, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.RatingProfile{},
		&models.MatchRecord{},
		&models.MatchParticipant{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	moderationURL := os.Getenv("MODERATION_SERVICE_URL")
	if moderationURL == "" {
		log.Println("⚠️  MODERATION_SERVICE_URL not set, using default: http://localhost:8600")
		moderationURL = "http://localhost:8600"
	}
	serviceToken := os.Getenv("MATCH_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("MATCH_SERVICE_TOKEN environment variable not set")
	}

	store := services.NewGormStore(db)
	registry := services.NewSessionRegistry()
	eligibility := services.NewEligibilityClient(moderationURL, serviceToken)

	queueService := services.NewQueueService(store, eligibility)
	proposalService := services.NewProposalService(store, registry, queueService)
	verificationService := services.NewVerificationService(store, registry)
	liveMatchService := services.NewLiveMatchService(store, registry)

	// The pipeline references forward: queue → proposal → verification → live.
	queueService.BindNegotiator(proposalService)
	proposalService.BindVerification(verificationService)
	verificationService.BindLiveMatch(liveMatchService)

	// A participant in any downstream stage may not re-enter the queue.
	queueService.BindActiveMatchCheckers(proposalService, verificationService, liveMatchService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queueService.StartMatchmakingScheduler()

	reconcileWorker := workers.NewMatchReconcileWorker(store, &activeMatches{
		verification: verificationService,
		live:         liveMatchService,
	})
	reconcileWorker.Start(ctx)

	handlers.SetupMatchmakingRoutes(app, queueService, proposalService, verificationService, liveMatchService, registry, store)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Matchmaking scheduler running (every 5s per mode)")
	log.Println("✅ Match reconcile worker running (every 60s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
}
