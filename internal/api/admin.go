package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/snowsledge/Data-Timestamp/internal/stamp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminSecretHeader carries the operator secret on admin routes.
const AdminSecretHeader = "X-Admin-Secret"

// AdminHandler exposes operator-only endpoints.
type AdminHandler struct {
	svc        *stamp.Service
	secretHash []byte
	exportDir  string
	logger     *zap.Logger
}

// NewAdminHandler creates an AdminHandler. secretHash is a bcrypt hash of the
// operator secret; exports are written under exportDir.
func NewAdminHandler(svc *stamp.Service, secretHash, exportDir string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		svc:        svc,
		secretHash: []byte(secretHash),
		exportDir:  exportDir,
		logger:     logger,
	}
}

// Register mounts the admin routes. Nothing is mounted when no secret is configured.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	if len(h.secretHash) == 0 {
		h.logger.Info("admin routes disabled (set admin.secret_hash to enable)")
		return
	}
	a := rg.Group("/admin", h.requireSecret)
	{
		a.POST("/export", h.Export)
	}
}

func (h *AdminHandler) requireSecret(c *gin.Context) {
	secret := c.GetHeader(AdminSecretHeader)
	if secret == "" || bcrypt.CompareHashAndPassword(h.secretHash, []byte(secret)) != nil {
		h.logger.Warn("admin request rejected",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("client_ip", c.ClientIP()),
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}
	c.Next()
}

// Export handles POST /admin/export.
func (h *AdminHandler) Export(c *gin.Context) {
	res, err := h.svc.Export(c.Request.Context(), h.exportDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.JSON(http.StatusCreated, res)
}
