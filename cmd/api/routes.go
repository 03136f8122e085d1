package main

import (
	"github.com/gin-gonic/gin"

	"callconfirm/internal/audit"
	"callconfirm/internal/config"
	"callconfirm/internal/confirm"
	"callconfirm/internal/httpapi"
	"callconfirm/internal/rbac"
	"callconfirm/internal/reporting"
	"callconfirm/internal/requests"
	"callconfirm/internal/telephony"
)

type routeDeps struct {
	cfg     config.Config
	authMW  gin.HandlerFunc
	refresh gin.HandlerFunc

	store     requests.Store
	provider  telephony.Provider
	scripts   telephony.ScriptCatalog
	events    *confirm.EventHandler
	scheduler *confirm.Scheduler
	reports   *reporting.Service
	audit     *audit.Service
	limiter   confirm.Limiter
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := httpapi.Handlers{
		Store:     d.store,
		Scheduler: d.scheduler,
		Reports:   d.reports,
		Provider:  d.provider,
		Audit:     d.audit,
		Limiter:   d.limiter,
	}

	// public
	r.GET("/healthz", h.Health)
	r.POST("/auth/refresh", d.refresh)

	// Provider webhooks (public, signed by Twilio when validation is on).
	{
		hooks := r.Group("/")
		if d.cfg.Twilio.ValidateSignature {
			hooks.Use(telephony.TwilioSignature(d.cfg.Twilio.AuthToken, d.cfg.App.BaseURL))
		}
		wh := telephony.TwilioWebhookHandler{Events: d.events, Scripts: d.scripts}
		wh.Register(hooks)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	{
		read := rbac.RequireAnyRole(rbac.ReadRoles...)
		operate := rbac.RequireAnyRole(rbac.RoleOperator)

		v1.POST("/process", operate, h.Process)

		reqs := v1.Group("/requests")
		{
			reqs.GET("/pending", read, h.ListPending)
			reqs.GET("/summary", read, h.Summary)
			reqs.GET("/:id", read, h.GetRequest)
			reqs.POST("", operate, h.CreateRequest)
		}
	}
}
