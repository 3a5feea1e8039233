package record

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/openvital/edrs/internal/platform/auth"
	"github.com/openvital/edrs/internal/platform/fhir"
	"github.com/openvital/edrs/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	anyRole := auth.RequireRole("funeral_director", "physician", "registrar")

	records := api.Group("/records", anyRole)
	records.GET("", h.ListRecords)
	records.POST("", h.Intake)
	records.GET("/:id", h.GetRecord)
	records.PUT("/:id", h.UpdateStepContents)
	records.GET("/:id/history", h.GetHistory)
	records.POST("/:id/increment_step", h.IncrementStep)
	records.POST("/:id/decrement_step", h.DecrementStep)
	records.POST("/:id/update_step", h.UpdateStep)
	records.POST("/:id/request_edits", h.RequestEdits)
	records.POST("/:id/reassign", h.Reassign)
	records.POST("/:id/abandon", h.Abandon)
	records.POST("/:id/comments", h.AddComment)

	registrar := api.Group("/records", auth.RequireRole("registrar"))
	registrar.POST("/:id/register", h.Register)
	registrar.POST("/:id/void", h.Void)
	registrar.POST("/:id/certificate", h.GenerateCertificate)
	registrar.POST("/:id/submit", h.Submit)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		Name:  auth.UserIDFromContext(ctx),
		Roles: auth.RolesFromContext(ctx),
	}
}

func recordID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	return id, nil
}

// httpError translates the domain sentinels onto response codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSubmittedNotTransmitted):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Intake(c echo.Context) error {
	var bundle fhir.Bundle
	if err := c.Bind(&bundle); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid document bundle"))
	}
	actor := actorFrom(c)
	rec, err := h.svc.Intake(c.Request().Context(), &bundle, actor.Name)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{Owner: c.QueryParam("owner")}
	if c.QueryParam("mine") == "true" {
		filter.Owner = actorFrom(c).Name
	}
	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL.Path))
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	// Serve the cached projection when present; it is regenerated on every
	// mutation.
	if len(rec.Cache) > 0 {
		return c.JSONBlob(http.StatusOK, rec.Cache)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	history, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, history)
}

type updateContentsRequest struct {
	Step     string                 `json:"step"`
	Contents map[string]interface{} `json:"contents"`
}

func (h *Handler) UpdateStepContents(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req updateContentsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Step == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "step is required")
	}
	rec, err := h.svc.UpdateStepContents(c.Request().Context(), id, req.Step, req.Contents, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) IncrementStep(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Increment(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) DecrementStep(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Decrement(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type updateStepRequest struct {
	Step   string `json:"step"`
	Linear bool   `json:"linear"`
}

func (h *Handler) UpdateStep(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req updateStepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Step == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "step is required")
	}
	rec, err := h.svc.UpdateStep(c.Request().Context(), id, req.Step, req.Linear, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type requestEditsRequest struct {
	Step  string `json:"step"`
	Owner string `json:"owner"`
}

func (h *Handler) RequestEdits(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req requestEditsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Step == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "step is required")
	}
	rec, err := h.svc.RequestEdits(c.Request().Context(), id, req.Step, req.Owner, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type reassignRequest struct {
	Step  string   `json:"step"`
	User  string   `json:"user"`
	Roles []string `json:"roles"`
}

func (h *Handler) Reassign(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req reassignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Step == "" || req.User == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "step and user are required")
	}
	newOwner := Actor{Name: req.User, Roles: req.Roles}
	rec, err := h.svc.Reassign(c.Request().Context(), id, req.Step, newOwner, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Register(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	registration, err := h.svc.Register(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, registration)
}

func (h *Handler) Abandon(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Abandon(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Void(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Void(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GenerateCertificate(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	cert, err := h.svc.GenerateCertificate(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cert)
}

func (h *Handler) Submit(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Submit(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type commentRequest struct {
	Body string `json:"body"`
}

func (h *Handler) AddComment(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body is required")
	}
	comment, err := h.svc.AddComment(c.Request().Context(), id, actorFrom(c).Name, req.Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, comment)
}
