package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/walletwatch/volume_watcher/internal/api/middleware"
	domainerrors "github.com/walletwatch/volume_watcher/internal/domain/errors"
	"github.com/walletwatch/volume_watcher/internal/domain/services/ingest"
	"github.com/walletwatch/volume_watcher/pkg/logger"
	"github.com/walletwatch/volume_watcher/pkg/metrics"
	"github.com/walletwatch/volume_watcher/pkg/security"
)

const (
	signatureHeader   = "X-Alchemy-Signature"
	correlationHeader = "X-Correlation-ID"
)

// Processor runs one webhook payload through ingestion
type Processor interface {
	Process(ctx context.Context, raw []byte, meta ingest.RequestMeta) (*ingest.Outcome, error)
}

// WebhookHandler receives address activity webhooks
type WebhookHandler struct {
	processor    Processor
	signingKey   string
	maxBodyBytes int64
	logger       *logger.Logger
}

// NewWebhookHandler creates a webhook handler. An empty signingKey disables signature checks.
func NewWebhookHandler(processor Processor, signingKey string, maxBodyBytes int64, logger *logger.Logger) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebhookHandler{
		processor:    processor,
		signingKey:   signingKey,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// HandleAddressActivity handles address activity notifications
// POST /webhooks/alchemy
func (h *WebhookHandler) HandleAddressActivity(c *gin.Context) {
	log := requestLogger(c, h.logger)

	rawBody, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhookRequestsTotal.WithLabelValues(string(ingest.StatusRejected)).Inc()
			respond(c, http.StatusRequestEntityTooLarge, Response{Status: string(ingest.StatusRejected), Message: "payload too large"})
			return
		}
		log.Warn("Failed to read webhook body", "error", err)
		respond(c, http.StatusBadRequest, Response{Status: string(ingest.StatusRejected), Message: "invalid body"})
		return
	}

	if !h.verifySignature(c.GetHeader(signatureHeader), rawBody) {
		log.Warn("Invalid webhook signature")
		respond(c, http.StatusUnauthorized, Response{Status: "unauthorized", Message: "invalid signature"})
		return
	}

	outcome, err := h.processor.Process(c.Request.Context(), rawBody, ingest.RequestMeta{
		RequestID:     c.GetString(middleware.RequestIDKey),
		CorrelationID: c.GetHeader(correlationHeader),
	})
	if err != nil {
		log.Error("Webhook processing failed",
			"code", domainerrors.GetErrorCode(err),
			"error", security.MaskString(err.Error()))
		respond(c, http.StatusInternalServerError, Response{Status: "error", Message: "internal error"})
		return
	}

	switch outcome.Status {
	case ingest.StatusRejected:
		respond(c, http.StatusBadRequest, Response{Status: string(outcome.Status), Message: outcome.Reason})
	default:
		respond(c, http.StatusOK, Response{
			Success:    true,
			Status:     string(outcome.Status),
			Message:    outcome.Message,
			Pairs:      outcome.Pairs,
			Duplicates: outcome.Duplicates,
			Alerts:     outcome.Alerts,
		})
	}
}

func (h *WebhookHandler) verifySignature(signature string, body []byte) bool {
	if h.signingKey == "" {
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.signingKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
