package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/middleware"
)

// listTiersHandler returns every tier's limits and tools, lowest tier first.
// GET /api/v1/tiers
func listTiersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tiers := make([]auth.TierPolicy, 0, len(auth.AllTiers()))
		for _, t := range auth.AllTiers() {
			tiers = append(tiers, auth.MustLimitsFor(t))
		}
		c.JSON(http.StatusOK, gin.H{"tiers": tiers})
	}
}

// getTierHandler returns one tier's policy.
// GET /api/v1/tiers/:tier
func getTierHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		policy, err := auth.LimitsFor(auth.Tier(c.Param("tier")))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unknown tier: " + c.Param("tier"),
				"tiers": auth.AllTiers(),
			})
			return
		}
		c.JSON(http.StatusOK, policy)
	}
}

// whoAmIHandler echoes the caller's gate context. Mounted behind the tool gate.
// GET /v1/me
func whoAmIHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := middleware.GetAuthContext(c)
		if ac == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Missing authentication context"})
			return
		}
		body := gin.H{"auth": ac}
		if ac.Authenticated {
			body["policy"] = auth.MustLimitsFor(ac.Tier)
		}
		c.JSON(http.StatusOK, body)
	}
}
