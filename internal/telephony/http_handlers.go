package telephony

import (
	"context"
	"errors"
	"net/http"

	"callconfirm/internal/calls"
	"callconfirm/internal/requests"
	"callconfirm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// EventSink applies a provider event to the confirmation state machine.
type EventSink interface {
	OnCallEvent(ctx context.Context, ev calls.CallEvent) (calls.EventResult, error)
}

// TwilioWebhookHandler converts Twilio callbacks to call events, hands them to the sink,
// and writes TwiML. No state decisions are made here.
//
// Error mapping:
//   - unknown call: 200 with a hangup so the provider does not retry.
//   - store unavailable: 503 so the provider retries the callback.
type TwilioWebhookHandler struct {
	Events  EventSink
	Scripts ScriptCatalog
}

// HandleVoice serves the first script step when the customer answers.
func (h TwilioWebhookHandler) HandleVoice(c *gin.Context) {
	form, ok := h.parse(c)
	if !ok {
		return
	}
	res, ok := h.dispatch(c, form, calls.ProviderStatus(string(calls.CallStatusInProgress)), false)
	if !ok {
		return
	}
	if res.Stale || res.Request.IsTerminal() {
		h.writeTwiML(c, (&VoiceResponse{}).Hangup())
		return
	}

	script, err := h.Scripts.For(res.Request.Mode)
	if err != nil {
		logger.FromGin(c).Error("no voice script", "request_id", res.Request.ID, "mode", res.Request.Mode, logger.Err(err))
		h.writeTwiML(c, (&VoiceResponse{}).Hangup())
		return
	}

	q := c.Request.URL.Query()
	gatherURL := PathGather + "?" + q.Encode()
	q.Set(QueryReason, "no-input")
	completeURL := PathComplete + "?" + q.Encode()

	r := &VoiceResponse{}
	r.Pause(1).
		Gather(Gather{
			Action:         gatherURL,
			TimeoutSeconds: h.Scripts.GatherTimeoutSeconds,
			Prompt:         script.Prompt,
			Voice:          h.Scripts.Voice,
			Language:       h.Scripts.Language,
		}).
		Say(script.NoInput, h.Scripts.Voice, h.Scripts.Language).
		Redirect(completeURL)
	h.writeTwiML(c, r)
}

// HandleGather receives the customer's keypress or utterance and plays the goodbye.
func (h TwilioWebhookHandler) HandleGather(c *gin.Context) {
	form, ok := h.parse(c)
	if !ok {
		return
	}
	res, ok := h.dispatch(c, form, form.GatherSignal(), false)
	if !ok {
		return
	}
	r := &VoiceResponse{}
	if res.Applied {
		r.Say(h.Scripts.Acknowledgement(res.Outcome), h.Scripts.Voice, h.Scripts.Language)
	}
	h.writeTwiML(c, r.Hangup())
}

// HandleComplete ends the script, typically after the gather timed out.
func (h TwilioWebhookHandler) HandleComplete(c *gin.Context) {
	form, ok := h.parse(c)
	if !ok {
		return
	}
	if _, ok := h.dispatch(c, form, form.CompleteSignal(), false); !ok {
		return
	}
	h.writeTwiML(c, (&VoiceResponse{}).Hangup())
}

// HandleStatus receives provider status callbacks. The body is ignored by the provider.
func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	form, ok := h.parse(c)
	if !ok {
		return
	}
	if _, ok := h.dispatch(c, form, form.StatusSignal(), true); !ok {
		return
	}
	c.String(http.StatusOK, "OK")
}

func (h TwilioWebhookHandler) parse(c *gin.Context) (TwilioCallbackForm, bool) {
	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event handler not configured"})
		return TwilioCallbackForm{}, false
	}
	form, err := ParseTwilioCallback(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("twilio callback parse failed", logger.Err(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return TwilioCallbackForm{}, false
	}
	if form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid is required"})
		return TwilioCallbackForm{}, false
	}
	return form, true
}

// dispatch hands the event to the sink. It writes the response itself when the event
// cannot continue (unknown call, store failure) and reports false.
func (h TwilioWebhookHandler) dispatch(c *gin.Context, form TwilioCallbackForm, sig calls.Signal, statusCallback bool) (calls.EventResult, bool) {
	log := logger.FromGin(c).With("call_id", form.CallSid, "request_id", form.RequestID)
	ctx := logger.With(c.Request.Context(), log)

	res, err := h.Events.OnCallEvent(ctx, form.Event(sig))
	switch {
	case err == nil:
		return res, true
	case errors.Is(err, requests.ErrUnknownCall):
		if statusCallback {
			c.String(http.StatusOK, "OK")
		} else {
			h.writeTwiML(c, (&VoiceResponse{}).Hangup())
		}
		return res, false
	case errors.Is(err, requests.ErrUnavailable):
		log.Warn("store unavailable for callback", logger.Err(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return res, false
	default:
		log.Error("callback handling failed", logger.Err(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "callback failed"})
		return res, false
	}
}

func (h TwilioWebhookHandler) writeTwiML(c *gin.Context, r *VoiceResponse) {
	twiml, err := r.Render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", logger.Err(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// Register mounts the callback routes on r.
func (h TwilioWebhookHandler) Register(r gin.IRoutes) {
	r.POST(PathVoice, h.HandleVoice)
	r.POST(PathGather, h.HandleGather)
	r.POST(PathComplete, h.HandleComplete)
	r.POST(PathStatus, h.HandleStatus)
}
