// handlers/wish.go
package handlers

import (
	"wish-payout-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupWishRoutes(app *fiber.App, judgment *services.JudgmentService, claim *services.ClaimService, treasury *services.TreasuryService) {
	// All routes sit behind the global Gateway auth; no per-user context is
	// needed, identity is the wallet address in the request body.
	app.Post("/wishes/judge", judgment.JudgeWish)
	app.Post("/wishes/claim", claim.ClaimReward)

	// Read-only feeds consumed by the ledger/stats displays.
	app.Get("/wishes/recent", judgment.GetRecentWishes)
	app.Get("/treasury/stats", treasury.GetStats)
}
