// Package admin implements the key administration HTTP handlers. Every route in this
// package sits behind the admin token and the per-IP admin throttle (see
// internal/middleware), unlike the tool routes which are guarded by the gate.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/db/models"
	"github.com/toolgate/toolgate/internal/keystore"
	"github.com/toolgate/toolgate/internal/usage"
)

// maxExpiryDays bounds expires_in_days on creation.
const maxExpiryDays = 3650

// KeyHandlers handles API key management endpoints
type KeyHandlers struct {
	keys   *keystore.Service
	usage  *usage.Recorder
	logger *slog.Logger
	now    func() time.Time
}

// NewKeyHandlers creates a new KeyHandlers instance. usage may be nil, in which case
// key details report an empty usage summary.
func NewKeyHandlers(keys *keystore.Service, recorder *usage.Recorder, logger *slog.Logger) *KeyHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyHandlers{
		keys:   keys,
		usage:  recorder,
		logger: logger.With("component", "admin"),
		now:    time.Now,
	}
}

// CreateKeyRequest represents the request to issue a new API key
type CreateKeyRequest struct {
	Name          string                 `json:"name" binding:"required"`
	Tier          string                 `json:"tier"`
	OwnerID       *string                `json:"owner_id"`
	ExpiresInDays *int                   `json:"expires_in_days"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// CreateKeyResponse is returned once on creation. APIKey is the plaintext secret.
type CreateKeyResponse struct {
	Key     *models.APIKey  `json:"key"`
	APIKey  string          `json:"api_key"`
	Limits  auth.TierPolicy `json:"limits"`
	Message string          `json:"message"`
}

// @Summary      Create API key
// @Description  Issue a new API key. The plaintext key is returned once and never stored.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateKeyRequest  true  "API key creation request"
// @Success      201  {object}  CreateKeyResponse  "API key created (plaintext returned once)"
// @Failure      400  {object}  map[string]interface{}  "Invalid request or tier"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys [post]
// CreateKeyHandler issues a new API key
// POST /api/v1/keys
func (h *KeyHandlers) CreateKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: name is required",
			})
			return
		}

		tier := auth.TierFree
		if req.Tier != "" {
			t, err := auth.ParseTier(req.Tier)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid tier: " + req.Tier,
					"tiers": auth.AllTiers(),
				})
				return
			}
			tier = t
		}

		var expiresAt *time.Time
		if req.ExpiresInDays != nil {
			days := *req.ExpiresInDays
			if days < 1 || days > maxExpiryDays {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "expires_in_days must be between 1 and 3650",
				})
				return
			}
			t := h.now().UTC().AddDate(0, 0, days)
			expiresAt = &t
		}

		created, err := h.keys.Create(c.Request.Context(), keystore.CreateParams{
			Name:      req.Name,
			Tier:      tier,
			OwnerID:   req.OwnerID,
			ExpiresAt: expiresAt,
			Metadata:  req.Metadata,
		})
		if err != nil {
			h.logger.Error("failed to create api key", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create API key",
			})
			return
		}

		c.JSON(http.StatusCreated, CreateKeyResponse{
			Key:     created.Key,
			APIKey:  created.PlaintextKey,
			Limits:  auth.MustLimitsFor(tier),
			Message: "Store this key securely. It will not be shown again.",
		})
	}
}

// @Summary      Get API key
// @Description  Get an API key's record, usage counters and usage summary.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "API key ID"
// @Success      200  {object}  map[string]interface{}  "key, stats, usage"
// @Failure      400  {object}  map[string]interface{}  "Invalid key id"
// @Failure      404  {object}  map[string]interface{}  "API key not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys/{id} [get]
// GetKeyHandler returns one key with its usage
// GET /api/v1/keys/:id
func (h *KeyHandlers) GetKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID, ok := keyIDParam(c)
		if !ok {
			return
		}

		key, err := h.keys.GetByID(c.Request.Context(), keyID)
		if errors.Is(err, keystore.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "API key not found",
			})
			return
		}
		if err != nil {
			h.logger.Error("failed to get api key", "key_id", keyID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve API key",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"key":   key,
			"stats": h.keys.Stats(c.Request.Context(), keyID),
			"usage": h.usage.Summary(c.Request.Context(), keyID),
		})
	}
}

// @Summary      List API keys
// @Description  List an owner's API keys, newest first.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        owner_id  query  string  true  "Owner ID"
// @Success      200  {object}  map[string]interface{}  "keys, count"
// @Failure      400  {object}  map[string]interface{}  "owner_id missing"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys [get]
// ListKeysHandler lists an owner's keys
// GET /api/v1/keys?owner_id=
func (h *KeyHandlers) ListKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.Query("owner_id")
		if ownerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "owner_id query parameter is required",
			})
			return
		}

		keys, err := h.keys.ListByOwner(c.Request.Context(), ownerID)
		if err != nil {
			h.logger.Error("failed to list api keys", "owner_id", ownerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list API keys",
			})
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}

		c.JSON(http.StatusOK, gin.H{
			"keys":  keys,
			"count": len(keys),
		})
	}
}

// @Summary      Revoke API key
// @Description  Revoke an API key. Keys are never deleted; revoking twice is a no-op.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "API key ID"
// @Success      200  {object}  map[string]interface{}  "revoked, already_revoked"
// @Failure      400  {object}  map[string]interface{}  "Invalid key id"
// @Failure      404  {object}  map[string]interface{}  "API key not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys/{id} [delete]
// RevokeKeyHandler revokes an API key
// DELETE /api/v1/keys/:id
func (h *KeyHandlers) RevokeKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID, ok := keyIDParam(c)
		if !ok {
			return
		}

		noop, err := h.keys.Revoke(c.Request.Context(), keyID)
		if errors.Is(err, keystore.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "API key not found",
			})
			return
		}
		if err != nil {
			h.logger.Error("failed to revoke api key", "key_id", keyID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to revoke API key",
			})
			return
		}

		if noop {
			c.JSON(http.StatusOK, gin.H{
				"revoked":         false,
				"already_revoked": true,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"revoked": true,
		})
	}
}

// StoreNotConfiguredHandler answers every admin route when no key store is configured.
func StoreNotConfiguredHandler(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "store not configured",
	})
}

// keyIDParam reads :id and writes a 400 when it is not a UUID.
func keyIDParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid key id",
		})
		return "", false
	}
	return id, true
}
