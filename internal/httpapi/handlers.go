package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"callconfirm/internal/audit"
	"callconfirm/internal/auth"
	"callconfirm/internal/calls"
	"callconfirm/internal/confirm"
	"callconfirm/internal/reporting"
	"callconfirm/internal/requests"
	"callconfirm/internal/telephony"
	"callconfirm/pkg/logger"
)

// Handlers groups the operational HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Store     requests.Store
	Scheduler *confirm.Scheduler
	Reports   *reporting.Service
	Provider  telephony.Provider

	// Optional.
	Audit   *audit.Service
	Limiter confirm.Limiter

	Now func() time.Time
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// --- Health ---

// Health reports store and provider reachability, plus the calls in flight when a limiter is set.
func (h Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	log := logger.FromGin(c)

	body := gin.H{"status": "ok", "store": "ok", "provider": "ok"}
	code := http.StatusOK

	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			log.Warn("store unhealthy", logger.Err(err))
			body["store"] = "unavailable"
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if h.Provider != nil {
		body["provider_name"] = h.Provider.Name()
		if err := h.Provider.HealthCheck(ctx); err != nil {
			log.Warn("provider unhealthy", logger.Err(err))
			body["provider"] = "unavailable"
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	// The count comes from the call limiter; without one it would mean reading every request.
	if h.Limiter != nil {
		if n, err := h.Limiter.InFlight(ctx); err == nil {
			body["in_flight_calls"] = n
		} else {
			log.Warn("in-flight count failed", logger.Err(err))
		}
	}
	c.JSON(code, body)
}

// --- Processing ---

// Process runs one scheduler pass synchronously.
// RBAC: operator.
func (h Handlers) Process(c *gin.Context) {
	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	rep, err := h.Scheduler.RunOnce(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("manual scan failed", logger.Err(err))
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "scan failed"})
		return
	}
	h.operatorAction(c, audit.EventTypeManualRun, "", "manual scan")
	c.JSON(http.StatusOK, rep)
}

// --- Requests ---

// ListPending lists pending requests; due=true narrows to what the next scan would dispatch.
func (h Handlers) ListPending(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		out []calls.Request
		err error
	)
	if due, _ := strconv.ParseBool(c.Query("due")); due {
		limit, perr := strconv.Atoi(c.DefaultQuery("limit", "0"))
		if perr != nil || limit < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		out, err = h.Store.ListDue(ctx, h.now(), limit)
	} else {
		pending := calls.StatusPending
		out, err = h.Store.List(ctx, requests.ListFilter{Status: &pending})
	}
	if err != nil {
		logger.FromGin(c).Error("list pending failed", logger.Err(err))
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": out, "count": len(out)})
}

func (h Handlers) GetRequest(c *gin.Context) {
	id := c.Param("id")
	r, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, requests.ErrNotFound) {
			logger.FromGin(c).Error("get request failed", "request_id", id, logger.Err(err))
		}
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": errorText(err)})
		return
	}

	body := gin.H{"request": r}
	if h.Audit != nil {
		trail, err := h.Audit.Trail(c.Request.Context(), id, 50)
		switch {
		case err == nil:
			body["audit"] = trail
		case errors.Is(err, audit.ErrNotSupported):
		default:
			logger.FromGin(c).Warn("audit trail unavailable", "request_id", id, logger.Err(err))
		}
	}
	c.JSON(http.StatusOK, body)
}

type createRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Mode  string `json:"mode"`
}

// CreateRequest ingests a request on backends that accept it.
// RBAC: operator.
func (h Handlers) CreateRequest(c *gin.Context) {
	creator, ok := h.Store.(requests.Creator)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "store does not accept new requests"})
		return
	}
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	created, err := creator.Create(c.Request.Context(), calls.Request{
		ID:    req.ID,
		Name:  req.Name,
		Phone: req.Phone,
		Mode:  calls.Mode(req.Mode),
	})
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": errorText(err)})
		return
	}
	h.operatorAction(c, audit.EventTypeRequestCreated, created.ID, "request created")
	c.JSON(http.StatusCreated, created)
}

// --- Reporting ---

func (h Handlers) Summary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	var req reporting.OutcomeSummaryRequest
	req.Mode = calls.Mode(c.Query("mode"))
	for key, dst := range map[string]*time.Time{"from": &req.Range.From, "to": &req.Range.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC3339"})
			return
		}
		*dst = t
	}

	out, err := h.Reports.OutcomeSummary(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("summary failed", logger.Err(err))
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) operatorAction(c *gin.Context, typ audit.EventType, requestID, message string) {
	if h.Audit == nil {
		return
	}
	op, _ := auth.OperatorFrom(c.Request.Context())
	if err := h.Audit.LogOperatorAction(c.Request.Context(), typ, requestID, op.ID, op.Role, c.ClientIP(), message); err != nil {
		logger.FromGin(c).Warn("audit failed", logger.Err(err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, requests.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, requests.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, requests.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, requests.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorText(err error) string {
	switch statusFor(err) {
	case http.StatusNotFound:
		return "not found"
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "store unavailable"
	default:
		return "internal error"
	}
}
