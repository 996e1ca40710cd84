package api

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/apiresponses"
	"github.com/telekom/sla-escalation/pkg/ledger"
	"github.com/telekom/sla-escalation/pkg/notification"
	"github.com/telekom/sla-escalation/pkg/system"
)

// WebhookTokenHeader carries the shared secret of delivery webhooks.
const WebhookTokenHeader = "X-Webhook-Token"

// DeliveryReport is the body a provider posts when a sent notification was
// delivered or bounced. Exactly one of NotificationID and IdempotencyKey
// identifies the record.
type DeliveryReport struct {
	NotificationID string              `json:"notificationId"`
	IdempotencyKey string              `json:"idempotencyKey"`
	Status         notification.Status `json:"status" binding:"required"`
	FailureReason  string              `json:"failureReason"`
	Timestamp      *time.Time          `json:"timestamp"`
	Metadata       map[string]string   `json:"metadata"`
}

// DeliveryResult reports whether a delivery report changed the record.
// A repeated report of the status already held is not an error.
type DeliveryResult struct {
	Applied      bool                 `json:"applied"`
	Notification *notification.Record `json:"notification"`
}

// WebhookController applies provider delivery reports to the ledger.
type WebhookController struct {
	ledger ledger.Ledger
	token  string
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewWebhookController(l ledger.Ledger, token string, log *zap.SugaredLogger) *WebhookController {
	return &WebhookController{ledger: l, token: token, log: log, now: time.Now}
}

func (WebhookController) BasePath() string {
	return "webhooks"
}

func (wc *WebhookController) Register(rg *gin.RouterGroup) error {
	rg.POST("/delivery", wc.handleDelivery)
	return nil
}

func (wc *WebhookController) Handlers() []gin.HandlerFunc {
	return []gin.HandlerFunc{wc.checkToken}
}

// checkToken rejects every call while no token is configured.
func (wc *WebhookController) checkToken(c *gin.Context) {
	if wc.token == "" {
		apiresponses.RespondServiceUnavailable(c, "delivery webhooks are not configured")
		c.Abort()
		return
	}
	got := c.GetHeader(WebhookTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(wc.token)) != 1 {
		apiresponses.RespondUnauthorizedWithMessage(c, "invalid webhook token")
		c.Abort()
		return
	}
	c.Next()
}

func (wc *WebhookController) handleDelivery(c *gin.Context) {
	reqLog := system.GetReqLogger(c, wc.log)
	ctx := c.Request.Context()

	var report DeliveryReport
	if err := c.ShouldBindJSON(&report); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid delivery report", err.Error())
		return
	}
	if report.Status != notification.StatusDelivered && report.Status != notification.StatusFailed {
		apiresponses.RespondBadRequest(c, "status must be delivered or failed")
		return
	}
	if (report.NotificationID == "") == (report.IdempotencyKey == "") {
		apiresponses.RespondBadRequest(c, "exactly one of notificationId and idempotencyKey is required")
		return
	}

	id := report.NotificationID
	if id == "" {
		rec, err := wc.ledger.GetByKey(ctx, report.IdempotencyKey)
		if err != nil {
			apiresponses.RespondError(c, "look up notification", err, reqLog)
			return
		}
		id = rec.ID
	}

	at := wc.now().UTC()
	if report.Timestamp != nil && !report.Timestamp.IsZero() {
		at = report.Timestamp.UTC()
	}

	rec, err := wc.ledger.UpdateStatus(ctx, id, notification.StatusUpdate{
		Status:        report.Status,
		At:            at,
		FailureReason: report.FailureReason,
		Metadata:      report.Metadata,
	})
	switch {
	case err == nil:
		reqLog.Infow("Applied delivery report", "notificationId", id, "status", report.Status)
		apiresponses.RespondOK(c, DeliveryResult{Applied: true, Notification: rec})
	case errors.Is(err, notification.ErrInvalidTransition) && rec != nil && rec.Status == report.Status:
		reqLog.Debugw("Ignoring repeated delivery report", "notificationId", id, "status", report.Status)
		apiresponses.RespondOK(c, DeliveryResult{Applied: false, Notification: rec})
	default:
		if errors.Is(err, notification.ErrInvalidTransition) {
			reqLog.Warnw("Rejected delivery report", "notificationId", id, "status", report.Status, "error", err)
		}
		apiresponses.RespondError(c, "apply delivery report", err, reqLog)
	}
}
