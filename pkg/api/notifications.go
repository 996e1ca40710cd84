package api

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/apiresponses"
	"github.com/telekom/sla-escalation/pkg/ledger"
	"github.com/telekom/sla-escalation/pkg/notification"
	"github.com/telekom/sla-escalation/pkg/system"
)

const maxListLimit = 1000

// NotificationController serves read-only queries over the notification ledger.
type NotificationController struct {
	ledger     ledger.Ledger
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
}

func NewNotificationController(l ledger.Ledger, log *zap.SugaredLogger, middleware ...gin.HandlerFunc) *NotificationController {
	return &NotificationController{ledger: l, log: log, middleware: middleware}
}

func (NotificationController) BasePath() string {
	return "notifications"
}

func (nc *NotificationController) Register(rg *gin.RouterGroup) error {
	rg.GET("", nc.handleList)
	rg.GET("/:id", nc.handleGet)
	return nil
}

func (nc *NotificationController) Handlers() []gin.HandlerFunc {
	return nc.middleware
}

func (nc *NotificationController) handleList(c *gin.Context) {
	reqLog := system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, nc.log))

	f, err := parseFilter(c)
	if err != nil {
		apiresponses.RespondBadRequest(c, err.Error())
		return
	}

	records, err := nc.ledger.List(c.Request.Context(), f)
	if err != nil {
		apiresponses.RespondInternalError(c, "list notifications", err, reqLog)
		return
	}
	reqLog.Debugw("Listed notifications", "count", len(records), "claimId", f.ClaimID, "breachId", f.BreachID)
	apiresponses.RespondOK(c, records)
}

func (nc *NotificationController) handleGet(c *gin.Context) {
	reqLog := system.GetReqLogger(c, nc.log)

	rec, err := nc.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apiresponses.RespondError(c, "get notification", err, reqLog)
		return
	}
	apiresponses.RespondOK(c, rec)
}

func parseFilter(c *gin.Context) (notification.Filter, error) {
	f := notification.Filter{
		ClaimID:  c.Query("claimId"),
		BreachID: c.Query("breachId"),
		Channel:  notification.Channel(c.Query("channel")),
		Status:   notification.Status(c.Query("status")),
		Priority: notification.Priority(c.Query("priority")),
	}
	if f.Channel != "" && !f.Channel.Valid() {
		return f, fmt.Errorf("unknown channel %q", f.Channel)
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("unknown status %q", f.Status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return f, fmt.Errorf("unknown priority %q", f.Priority)
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxListLimit {
			return f, fmt.Errorf("limit must be between 0 and %d", maxListLimit)
		}
		f.Limit = n
	}
	return f, nil
}
