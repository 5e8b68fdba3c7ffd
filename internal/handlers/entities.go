package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

type CreateEntityRequest struct {
	Kind       models.EntityKind `json:"kind" validate:"required,oneof=lead vc"`
	Name       string            `json:"name" validate:"required"`
	Company    *string           `json:"company,omitempty"`
	TemplateID *uuid.UUID        `json:"template_id,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

type UpdateEntityStatusRequest struct {
	Status models.EntityStatus `json:"status" validate:"required,oneof=in_progress won lost completed"`
}

// ChangeTemplateRequest switches an entity's template. A null template_id
// moves it to the default sequence.
type ChangeTemplateRequest struct {
	TemplateID *uuid.UUID `json:"template_id"`
}

// registerEntityRoutes registers entity routes
func registerEntityRoutes(g *echo.Group) {
	entities := g.Group("/entities")
	entities.GET("", ListEntities)
	entities.POST("", CreateEntity)
	entities.GET("/:id", GetEntity)
	entities.PATCH("/:id/status", UpdateEntityStatus)
	entities.PUT("/:id/template", ChangeEntityTemplate)
	entities.POST("/:id/sync-weights", SyncEntityWeights)
}

// ListEntities handles GET /entities?kind=lead|vc&status=...
func ListEntities(c echo.Context) error {
	var filter models.EntityFilter
	if kind := c.QueryParam("kind"); kind != "" {
		k := models.EntityKind(kind)
		filter.Kind = &k
	}
	if status := c.QueryParam("status"); status != "" {
		s := models.EntityStatus(status)
		filter.Status = &s
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.ListEntities(ctx, filter)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}

// CreateEntity handles POST /entities. The kind may also be given as ?kind=.
func CreateEntity(c echo.Context) error {
	var req CreateEntityRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if req.Kind == "" {
		req.Kind = models.EntityKind(c.QueryParam("kind"))
	}
	if err := Validate(req); err != nil {
		return BadRequest(err.Error())
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.CreateEntity(ctx, workflow.EntityInput{
		Kind:       req.Kind,
		Name:       req.Name,
		Company:    req.Company,
		TemplateID: req.TemplateID,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return err
	}
	return Respond(c, http.StatusCreated, res)
}

// GetEntity handles GET /entities/:id
func GetEntity(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}

// UpdateEntityStatus handles PATCH /entities/:id/status
func UpdateEntityStatus(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := BindRequest[UpdateEntityStatusRequest](c)
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.UpdateEntityStatus(ctx, id, req.Status)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}

// ChangeEntityTemplate handles PUT /entities/:id/template
func ChangeEntityTemplate(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := BindRequest[ChangeTemplateRequest](c)
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.ChangeEntityTemplate(ctx, id, req.TemplateID)
	if err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"entity_id":   id,
			"template_id": req.TemplateID,
			"steps":       len(res.Data),
			"degraded":    res.Degraded,
		}).Info("Changed entity template")
	}
	return Respond(c, http.StatusOK, res)
}

// SyncEntityWeights handles POST /entities/:id/sync-weights
func SyncEntityWeights(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.SyncWeights(ctx, id)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}
