package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/apiresponses"
	"github.com/telekom/sla-escalation/pkg/audit"
	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/escalation"
	"github.com/telekom/sla-escalation/pkg/notification"
	"github.com/telekom/sla-escalation/pkg/system"
)

// Escalator evaluates one breach immediately.
type Escalator interface {
	Escalate(ctx context.Context, e *breach.Event) (escalation.Result, error)
}

// BreachRegistration is the body of POST /api/breaches.
type BreachRegistration struct {
	// ID is generated when empty.
	ID                   string                         `json:"id"`
	ClaimID              string                         `json:"claimId" binding:"required"`
	ClaimReference       string                         `json:"claimReference"`
	Severity             breach.Severity                `json:"severity" binding:"required"`
	ResponsiblePartyType string                         `json:"responsiblePartyType"`
	ResponsiblePartyName string                         `json:"responsiblePartyName"`
	DelayDays            int                            `json:"delayDays"`
	CreatedAt            *time.Time                     `json:"createdAt"`
	Recipients           map[breach.Role]breach.Contact `json:"recipients"`
}

func (r BreachRegistration) event(now time.Time) *breach.Event {
	e := &breach.Event{
		ID:                   r.ID,
		ClaimID:              r.ClaimID,
		ClaimReference:       r.ClaimReference,
		Severity:             r.Severity,
		ResponsiblePartyType: r.ResponsiblePartyType,
		ResponsiblePartyName: r.ResponsiblePartyName,
		DelayDays:            r.DelayDays,
		CreatedAt:            now,
		Recipients:           r.Recipients,
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if r.CreatedAt != nil && !r.CreatedAt.IsZero() {
		e.CreatedAt = r.CreatedAt.UTC()
	}
	return e
}

// SkipView names a notification that could not be addressed.
type SkipView struct {
	Role    breach.Role          `json:"role"`
	Channel notification.Channel `json:"channel"`
	Kind    string               `json:"kind"`
}

// EscalationView is the JSON form of one escalation evaluation.
type EscalationView struct {
	BreachID      string                 `json:"breachId"`
	PreviousTier  breach.Tier            `json:"previousTier"`
	Tier          breach.Tier            `json:"tier"`
	Outcome       string                 `json:"outcome"`
	Failed        int                    `json:"failed"`
	Notifications []*notification.Record `json:"notifications"`
	Skipped       []SkipView             `json:"skipped,omitempty"`
}

func newEscalationView(res escalation.Result) EscalationView {
	v := EscalationView{
		BreachID:      res.BreachID,
		PreviousTier:  res.PreviousTier,
		Tier:          res.Tier,
		Outcome:       res.Outcome,
		Failed:        res.Failed(),
		Notifications: res.Records,
	}
	if v.Notifications == nil {
		v.Notifications = []*notification.Record{}
	}
	for _, s := range res.Skipped {
		v.Skipped = append(v.Skipped, SkipView{Role: s.Role, Channel: s.Channel, Kind: string(s.Kind)})
	}
	return v
}

// BreachController manages the breach registry and manual escalation.
type BreachController struct {
	store      breach.Store
	escalator  Escalator
	audit      *audit.Manager
	log        *zap.SugaredLogger
	now        func() time.Time
	middleware []gin.HandlerFunc
}

func NewBreachController(store breach.Store, esc Escalator, am *audit.Manager, log *zap.SugaredLogger, middleware ...gin.HandlerFunc) *BreachController {
	return &BreachController{
		store:      store,
		escalator:  esc,
		audit:      am,
		log:        log,
		now:        time.Now,
		middleware: middleware,
	}
}

func (BreachController) BasePath() string {
	return "breaches"
}

func (bc *BreachController) Register(rg *gin.RouterGroup) error {
	rg.POST("", bc.handleRegister)
	rg.GET("", bc.handleList)
	rg.GET("/:id", bc.handleGet)
	rg.POST("/:id/escalate", bc.handleEscalate)
	rg.POST("/:id/resolve", bc.handleResolve)
	return nil
}

func (bc *BreachController) Handlers() []gin.HandlerFunc {
	return bc.middleware
}

func (bc *BreachController) actor(c *gin.Context) audit.Actor {
	return audit.Actor{User: system.CallerIdentity(c), SourceIP: c.ClientIP()}
}

func (bc *BreachController) handleRegister(c *gin.Context) {
	reqLog := system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, bc.log))

	var body BreachRegistration
	if err := c.ShouldBindJSON(&body); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid breach", err.Error())
		return
	}
	e := body.event(bc.now().UTC())
	if err := e.Validate(); err != nil {
		apiresponses.RespondUnprocessableEntity(c, err.Error())
		return
	}
	if err := bc.store.Create(c.Request.Context(), e); err != nil {
		apiresponses.RespondError(c, "register breach", err, reqLog)
		return
	}

	bc.audit.BreachRegistered(c.Request.Context(), bc.actor(c), e)
	reqLog.Infow("Registered breach", "breachId", e.ID, "claimId", e.ClaimID, "severity", e.Severity)
	apiresponses.RespondCreated(c, e)
}

func (bc *BreachController) handleList(c *gin.Context) {
	reqLog := system.GetReqLogger(c, bc.log)

	opts := breach.ListOptions{ClaimID: c.Query("claimId")}
	if raw := c.Query("open"); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			apiresponses.RespondBadRequest(c, "open must be a boolean")
			return
		}
		opts.OpenOnly = open
	}

	events, err := bc.store.List(c.Request.Context(), opts)
	if err != nil {
		apiresponses.RespondInternalError(c, "list breaches", err, reqLog)
		return
	}
	apiresponses.RespondOK(c, events)
}

func (bc *BreachController) handleGet(c *gin.Context) {
	e, err := bc.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apiresponses.RespondError(c, "get breach", err, system.GetReqLogger(c, bc.log))
		return
	}
	apiresponses.RespondOK(c, e)
}

func (bc *BreachController) handleEscalate(c *gin.Context) {
	reqLog := system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, bc.log))
	ctx := c.Request.Context()

	e, err := bc.store.Get(ctx, c.Param("id"))
	if err != nil {
		apiresponses.RespondError(c, "get breach", err, reqLog)
		return
	}

	res, err := bc.escalator.Escalate(ctx, e)
	if err != nil {
		apiresponses.RespondInternalError(c, "escalate breach", err, reqLog)
		return
	}
	reqLog.Infow("Manual escalation evaluated", "breachId", e.ID, "outcome", res.Outcome, "tier", int(res.Tier))
	apiresponses.RespondOK(c, newEscalationView(res))
}

// handleResolve is idempotent: resolving a resolved breach returns it unchanged.
func (bc *BreachController) handleResolve(c *gin.Context) {
	reqLog := system.EnrichReqLoggerWithAuth(c, system.GetReqLogger(c, bc.log))
	ctx := c.Request.Context()
	id := c.Param("id")

	before, err := bc.store.Get(ctx, id)
	if err != nil {
		apiresponses.RespondError(c, "get breach", err, reqLog)
		return
	}
	if before.Resolved {
		apiresponses.RespondOK(c, before)
		return
	}

	if err := bc.store.Resolve(ctx, id, bc.now().UTC()); err != nil {
		apiresponses.RespondError(c, "resolve breach", err, reqLog)
		return
	}
	e, err := bc.store.Get(ctx, id)
	if err != nil {
		apiresponses.RespondError(c, "get breach", err, reqLog)
		return
	}

	bc.audit.BreachResolved(ctx, bc.actor(c), e)
	reqLog.Infow("Resolved breach", "breachId", id, "lastEscalatedTier", int(e.LastEscalatedTier))
	apiresponses.RespondOK(c, e)
}
