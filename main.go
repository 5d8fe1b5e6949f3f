package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wish-payout-system/handlers"
	"wish-payout-system/middleware"
	"wish-payout-system/models"
	"wish-payout-system/services"
	"wish-payout-system/utils"
	"wish-payout-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		ReadTimeout: 120 * time.Second, // claims poll confirmations for up to ~100s
	})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())
	app.Use(middleware.ClientIPMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID",
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
		&models.Wish{},
		&models.WishAuditLog{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// --- CONFIGURE Ledger + Oracle ---
	rpcURL := os.Getenv("SOLANA_RPC_URL")
	if rpcURL == "" {
		log.Fatal("SOLANA_RPC_URL environment variable not set")
	}
	treasuryKey := os.Getenv("TREASURY_PRIVATE_KEY")
	if treasuryKey == "" {
		log.Fatal("TREASURY_PRIVATE_KEY environment variable not set")
	}
	tokenMint := os.Getenv("TOKEN_MINT_ADDRESS")
	if tokenMint == "" {
		log.Fatal("TOKEN_MINT_ADDRESS environment variable not set")
	}
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	if anthropicKey == "" {
		log.Fatal("ANTHROPIC_API_KEY environment variable not set")
	}
	operatorCodes := os.Getenv("OPERATOR_CODES_ENABLED") == "true"
	// --- END CONFIG ---

	ledger, err := services.NewSolanaLedger(rpcURL, treasuryKey, tokenMint)
	if err != nil {
		log.Fatal("failed to initialize ledger:", err)
	}

	oracle := services.NewClaudeOracle(anthropicKey, os.Getenv("ORACLE_MODEL"))
	calculator := services.NewVerdictCalculator(rand.New(rand.NewSource(time.Now().UnixNano())))
	treasuryService := services.NewTreasuryService(ledger)
	guard := services.NewAbuseGuard(db, treasuryService)
	judgmentService := services.NewJudgmentService(db, guard, oracle, calculator, operatorCodes)
	claimService := services.NewClaimService(db, ledger)

	// Audit archival is optional; the service runs fine without a bucket.
	if err := utils.InitR2(); err != nil {
		log.Println("⚠️ ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers.StartTreasuryRefresh(treasuryService)
	workers.StartAuditArchiver(db)

	handlers.SetupWishRoutes(app, judgmentService, claimService, treasuryService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)
	if operatorCodes {
		log.Println("⚠️  Operator verification codes ENABLED")
	}

	<-ctx.Done()
	log.Println("Shutting down server...")
}
