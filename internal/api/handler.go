package api

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"SignalSentinel/internal/model"
	"SignalSentinel/internal/report"
	"SignalSentinel/internal/tenant"
)

// JobRunner triggers scheduler jobs by name.
type JobRunner interface {
	RunJob(name string) (bool, error)
}

// OpportunityLister lists active opportunities.
type OpportunityLister interface {
	Active(ctx context.Context) ([]*model.Opportunity, error)
}

// Handler serves the admin API.
type Handler struct {
	Tenants       *tenant.Registry
	Reports       *report.Aggregator
	Opportunities OpportunityLister
	Jobs          JobRunner
}

// RegisterRoutes mounts every admin route on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/tenants", h.listTenants)
	g.POST("/tenants", h.registerTenant)
	g.GET("/tenants/:id", h.getTenant)
	g.POST("/tenants/:id/approve", h.approveTenant)
	g.POST("/tenants/:id/deactivate", h.deactivateTenant)
	g.PUT("/tenants/:id/settings", h.updateSettings)
	g.PUT("/tenants/:id/subscription", h.setSubscription)
	g.GET("/reports/:period", h.instantReport)
	g.GET("/opportunities", h.listOpportunities)
	g.POST("/jobs/:name/run", h.runJob)
}

type registerRequest struct {
	Destination string `json:"destination" validate:"required"`
}

type subscriptionRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

type reportQuery struct {
	Format string `query:"format" default:"json" validate:"oneof=json text table"`
}

func (h *Handler) listTenants(c echo.Context) error {
	all, err := h.Tenants.List(c.Request().Context())
	if err != nil {
		return failErr(c, err)
	}
	return reply(c, http.StatusOK, all)
}

func (h *Handler) registerTenant(c echo.Context) error {
	var req registerRequest
	if err := bindRequest(c, &req); err != nil {
		return failErr(c, err)
	}
	t, created, err := h.Tenants.RegisterTenant(c.Request().Context(), req.Destination)
	if err != nil {
		return failErr(c, err)
	}
	if created {
		return reply(c, http.StatusCreated, t)
	}
	return reply(c, http.StatusOK, t)
}

func (h *Handler) getTenant(c echo.Context) error {
	sum, err := h.Tenants.GetSettingsSummary(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failErr(c, err)
	}
	return reply(c, http.StatusOK, sum)
}

func (h *Handler) approveTenant(c echo.Context) error {
	t, err := h.Tenants.ApproveTenant(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failErr(c, err)
	}
	return reply(c, http.StatusOK, t)
}

func (h *Handler) deactivateTenant(c echo.Context) error {
	t, err := h.Tenants.DeactivateTenant(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failErr(c, err)
	}
	return reply(c, http.StatusOK, t)
}

func (h *Handler) updateSettings(c echo.Context) error {
	var req tenant.SettingsUpdate
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	if _, err := h.Tenants.UpdateTenantSettings(c.Request().Context(), c.Param("id"), req); err != nil {
		return failErr(c, err)
	}
	sum, err := h.Tenants.GetSettingsSummary(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failErr(c, err)
	}
	return reply(c, http.StatusOK, sum)
}

func (h *Handler) setSubscription(c echo.Context) error {
	var req subscriptionRequest
	if err := bindRequest(c, &req); err != nil {
		return failErr(c, err)
	}
	t, err := h.Tenants.SetSubscription(c.Request().Context(), c.Param("id"), req.ExpiresAt)
	if err != nil {
		return failErr(c, err)
	}
	return reply(c, http.StatusOK, t)
}

func (h *Handler) instantReport(c echo.Context) error {
	var q reportQuery
	if err := bindRequest(c, &q); err != nil {
		return failErr(c, err)
	}
	cadence, err := model.ParseCadence(c.Param("period"))
	if err != nil {
		return failErr(c, err)
	}
	r, err := h.Reports.InstantReport(c.Request().Context(), cadence)
	if err != nil {
		return failErr(c, err)
	}
	switch q.Format {
	case "text":
		return c.String(http.StatusOK, report.Render(r))
	case "table":
		var buf bytes.Buffer
		report.RenderTable(&buf, r)
		return c.String(http.StatusOK, buf.String())
	}
	return reply(c, http.StatusOK, r)
}

func (h *Handler) listOpportunities(c echo.Context) error {
	opps, err := h.Opportunities.Active(c.Request().Context())
	if err != nil {
		return failErr(c, err)
	}
	return reply(c, http.StatusOK, opps)
}

func (h *Handler) runJob(c echo.Context) error {
	ran, err := h.Jobs.RunJob(c.Param("name"))
	if err != nil {
		return failErr(c, err)
	}
	if !ran {
		return fail(c, http.StatusConflict, "job already running")
	}
	return reply(c, http.StatusOK, map[string]string{"job": c.Param("name")})
}
