package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/walletwatch/volume_watcher/internal/api/middleware"
	"github.com/walletwatch/volume_watcher/pkg/logger"
)

// Response is the body returned by the webhook endpoint
type Response struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Pairs      int    `json:"pairs,omitempty"`
	Duplicates int    `json:"duplicates,omitempty"`
	Alerts     int    `json:"alerts,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func respond(c *gin.Context, code int, resp Response) {
	resp.RequestID = c.GetString(middleware.RequestIDKey)
	c.JSON(code, resp)
}

// requestLogger returns the logger installed by middleware.Logger, or fallback
func requestLogger(c *gin.Context, fallback *logger.Logger) *logger.Logger {
	if v, ok := c.Get(middleware.LoggerKey); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return fallback
}
