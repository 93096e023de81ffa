package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tweag/asset-relay/service/status"
	"github.com/tweag/asset-relay/service/stream"
)

// respondError writes the single JSON error response of a failed request.
// Causes of internal and transform failures are logged, never sent.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	_ = c.Error(err)
	if errors.Is(err, context.Canceled) {
		// the client is gone
		c.Abort()
		return
	}
	st := status.FromError(err)
	code := st.Code.HTTPStatus()
	if code >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", RequestIDOf(c)),
			zap.String("code", st.Code.String()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": st.Message})
}

// finishStream handles the outcome of a streaming delivery.
// Once headers are out the only honest reaction to an error is to drop the connection.
func finishStream(c *gin.Context, logger *zap.Logger, res stream.Result, err error) {
	if err == nil {
		return
	}
	if res.State == stream.Idle {
		respondError(c, logger, err)
		return
	}
	_ = c.Error(err)
	if !errors.Is(err, context.Canceled) {
		logger.Warn("stream aborted",
			zap.String("request_id", RequestIDOf(c)),
			zap.Int64("bytes", res.Bytes),
			zap.Error(err),
		)
	}
	panic(http.ErrAbortHandler)
}
