// Package api exposes the timestamping service over HTTP with gin.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/snowsledge/Data-Timestamp/internal/merkle"
	"github.com/snowsledge/Data-Timestamp/internal/stamp"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
	"go.uber.org/zap"
)

// StampHandler exposes the public stamping and proof endpoints.
type StampHandler struct {
	svc    *stamp.Service
	logger *zap.Logger
}

// NewStampHandler creates a new StampHandler.
func NewStampHandler(svc *stamp.Service, logger *zap.Logger) *StampHandler {
	SetTreeSize(svc.Size())
	return &StampHandler{svc: svc, logger: logger}
}

// Register mounts the stamp routes on the given router group.
func (h *StampHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/stamps")
	{
		s.POST("", h.Stamp)
		s.GET("/:checksum", h.GetStamp)
		s.GET("/:checksum/proof", h.GetProof)
	}
	rg.GET("/root", h.Root)
	rg.GET("/roots/:size", h.RootAt)
	rg.GET("/consistency", h.Consistency)
	rg.POST("/validate", h.Validate)
	rg.GET("/checkpoint/key", h.CheckpointKey)
}

type stampRequest struct {
	Checksum string `json:"checksum" binding:"required"`
}

// Stamp handles POST /stamps.
func (h *StampHandler) Stamp(c *gin.Context) {
	var req stampRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RecordStamp("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"checksum\": \"<64 hex chars>\"}"})
		return
	}

	receipt, err := h.svc.Stamp(c.Request.Context(), req.Checksum)
	switch {
	case err == nil:
		RecordStamp("committed")
		SetTreeSize(receipt.TreeSize)
		c.JSON(http.StatusCreated, receipt)
	case errors.Is(err, merkle.ErrDuplicateDigest):
		RecordStamp("duplicate")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "committed": false})
	case errors.Is(err, merkle.ErrInvalidDigestFormat):
		RecordStamp("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "committed": false})
	default:
		RecordStamp("error")
		h.fail(c, "stamp", err)
	}
}

// GetStamp handles GET /stamps/:checksum.
func (h *StampHandler) GetStamp(c *gin.Context) {
	idx, err := h.svc.Lookup(c.Request.Context(), c.Param("checksum"))
	if err != nil {
		h.fail(c, "lookup", err)
		return
	}
	d, _ := merkle.ParseDigest(c.Param("checksum"))
	c.JSON(http.StatusOK, gin.H{
		"checksum": d.String(),
		"index":    idx,
		"exists":   true,
	})
}

// GetProof handles GET /stamps/:checksum/proof.
func (h *StampHandler) GetProof(c *gin.Context) {
	p, err := h.svc.ProofFor(c.Request.Context(), c.Param("checksum"))
	if err != nil {
		h.fail(c, "inclusion proof", err)
		return
	}
	h.writeProof(c, p)
}

// Root handles GET /root.
func (h *StampHandler) Root(c *gin.Context) {
	head, err := h.svc.CurrentRoot(c.Request.Context())
	if err != nil {
		h.fail(c, "current root", err)
		return
	}
	c.JSON(http.StatusOK, head)
}

// RootAt handles GET /roots/:size.
func (h *StampHandler) RootAt(c *gin.Context) {
	size, err := strconv.ParseUint(c.Param("size"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "size must be a non-negative integer"})
		return
	}
	head, err := h.svc.RootAt(c.Request.Context(), size)
	if err != nil {
		h.fail(c, "root at size", err)
		return
	}
	c.JSON(http.StatusOK, head)
}

// Consistency handles GET /consistency?from=<size|root>&to=<size>.
func (h *StampHandler) Consistency(c *gin.Context) {
	from := c.Query("from")
	if from == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from is required"})
		return
	}
	var to uint64
	if s := c.Query("to"); s != "" {
		var err error
		if to, err = strconv.ParseUint(s, 10, 64); err != nil || to == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be a positive integer"})
			return
		}
	}

	p, err := h.svc.ConsistencyProof(c.Request.Context(), from, to)
	if err != nil {
		h.fail(c, "consistency proof", err)
		return
	}
	h.writeProof(c, p)
}

// Validate handles POST /validate. The body is a JSON or CBOR proof.
func (h *StampHandler) Validate(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "proof too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	res, err := h.svc.Validate(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, proof.ErrMalformedProof) {
			RecordValidation("malformed")
		}
		h.fail(c, "validate", err)
		return
	}
	if res.Valid {
		RecordValidation("valid")
	} else {
		RecordValidation("invalid")
	}
	c.JSON(http.StatusOK, res)
}

// CheckpointKey handles GET /checkpoint/key. It is 404 when checkpoints are
// not signed.
func (h *StampHandler) CheckpointKey(c *gin.Context) {
	info, err := h.svc.CheckpointKey(c.Request.Context())
	if err != nil {
		h.fail(c, "checkpoint key", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// writeProof renders p as CBOR when the client asks for it, JSON otherwise.
func (h *StampHandler) writeProof(c *gin.Context, p any) {
	if !strings.Contains(c.GetHeader("Accept"), proof.ContentTypeCBOR) {
		c.JSON(http.StatusOK, p)
		return
	}
	blob, err := proof.MarshalCBOR(p)
	if err != nil {
		h.fail(c, "encode cbor", err)
		return
	}
	c.Data(http.StatusOK, proof.ContentTypeCBOR, blob)
}

// fail maps service errors onto HTTP statuses.
func (h *StampHandler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": op + " failed"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, merkle.ErrInvalidDigestFormat),
		errors.Is(err, merkle.ErrInvalidSizeRange),
		errors.Is(err, merkle.ErrIndexOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, stamp.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, merkle.ErrDuplicateDigest):
		return http.StatusConflict
	case errors.Is(err, proof.ErrMalformedProof):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
