package web

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tweag/asset-relay/service/delivery"
	"github.com/tweag/asset-relay/service/status"
)

type deliveryHandler struct {
	service *delivery.Service
	logger  *zap.Logger
}

// GET /private?path=&token=&expires=
func (h *deliveryHandler) fetch(c *gin.Context) {
	res, err := h.service.FetchPrivate(c.Request.Context(), c.Writer, delivery.FetchRequest{
		Path:    c.Query("path"),
		Token:   c.Query("token"),
		Expires: c.Query("expires"),
		Range:   c.GetHeader("Range"),
	})
	finishStream(c, h.logger, res, err)
}

// GET /transform?path=&w=&h=&format=&fit=&token=&expires=
func (h *deliveryHandler) transform(c *gin.Context) {
	res, err := h.service.TransformAndServe(c.Request.Context(), c.Writer, delivery.TransformQuery{
		Path:    c.Query("path"),
		Token:   c.Query("token"),
		Expires: c.Query("expires"),
		Width:   c.Query("w"),
		Height:  c.Query("h"),
		Format:  c.Query("format"),
		Fit:     c.Query("fit"),
	})
	finishStream(c, h.logger, res, err)
}

// GET /thumbnail?path=&token=&expires=
func (h *deliveryHandler) thumbnail(c *gin.Context) {
	res, err := h.service.ThumbnailAndServe(c.Request.Context(), c.Writer, delivery.Access{
		Path:    c.Query("path"),
		Token:   c.Query("token"),
		Expires: c.Query("expires"),
	})
	finishStream(c, h.logger, res, err)
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type signHandler struct {
	service       *delivery.Service
	publicBaseURL string
	logger        *zap.Logger
}

type signRequest struct {
	Path       string `json:"path" binding:"required"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type signResponse struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// POST /sign {"path": "...", "ttl_seconds": n}
func (h *signHandler) signJSON(c *gin.Context) {
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, status.Validation("body must be {\"path\": string, \"ttl_seconds\": int}"))
		return
	}
	h.issue(c, req)
}

// GET /sign?path=&ttl=
func (h *signHandler) signQuery(c *gin.Context) {
	req := signRequest{Path: c.Query("path")}
	if raw := c.Query("ttl"); raw != "" {
		ttl, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(c, h.logger, status.Validation("ttl must be an integer number of seconds"))
			return
		}
		req.TTLSeconds = ttl
	}
	h.issue(c, req)
}

// maxTTLSeconds is the longest ttl that still fits into a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

func (h *signHandler) issue(c *gin.Context, req signRequest) {
	if req.TTLSeconds < 0 {
		respondError(c, h.logger, status.Validation("ttl must not be negative"))
		return
	}
	if req.TTLSeconds > maxTTLSeconds {
		respondError(c, h.logger, status.Validation("ttl must be at most "+strconv.FormatInt(maxTTLSeconds, 10)+" seconds"))
		return
	}
	capability, err := h.service.Issue(req.Path, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, signResponse{
		URL:       delivery.SignedURL(h.publicBaseURL, capability),
		Token:     capability.Token,
		ExpiresAt: capability.ExpiresAt,
	})
}
