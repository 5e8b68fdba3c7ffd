package handlers

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/workflow"
)

type TemplateStepRequest struct {
	Name              string   `json:"name" validate:"required"`
	Description       *string  `json:"description,omitempty"`
	Order             int      `json:"order" validate:"gte=0"`
	EstimatedDuration *int     `json:"estimated_duration,omitempty" validate:"omitempty,gte=0"`
	Weight            *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=100"`
}

func (r TemplateStepRequest) input() workflow.TemplateStepInput {
	return workflow.TemplateStepInput{
		Name:              r.Name,
		Description:       r.Description,
		Order:             r.Order,
		EstimatedDuration: r.EstimatedDuration,
		Weight:            r.Weight,
	}
}

type CreateTemplateRequest struct {
	Name        string                `json:"name" validate:"required"`
	Description *string               `json:"description,omitempty"`
	Steps       []TemplateStepRequest `json:"steps" validate:"dive"`
}

// UpdateTemplateStepRequest changes only the fields that are present.
type UpdateTemplateStepRequest struct {
	Name              *string  `json:"name,omitempty" validate:"omitempty,min=1"`
	Description       *string  `json:"description,omitempty"`
	Order             *int     `json:"order,omitempty" validate:"omitempty,gt=0"`
	EstimatedDuration *int     `json:"estimated_duration,omitempty" validate:"omitempty,gte=0"`
	Weight            *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// registerTemplateRoutes registers template routes
func registerTemplateRoutes(g *echo.Group) {
	templates := g.Group("/templates")
	templates.GET("", ListTemplates)
	templates.POST("", CreateTemplate)
	templates.GET("/:id", GetTemplate)
	templates.DELETE("/:id", DeactivateTemplate)
	templates.POST("/:id/steps", AddTemplateStep)
	templates.PUT("/:id/steps/:stepId", UpdateTemplateStep)
}

// ListTemplates handles GET /templates?active=true
func ListTemplates(c echo.Context) error {
	activeOnly := false
	if raw := c.QueryParam("active"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return BadRequest("invalid active: must be a boolean")
		}
		activeOnly = parsed
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.ListTemplates(ctx, activeOnly)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}

// CreateTemplate handles POST /templates
func CreateTemplate(c echo.Context) error {
	req, err := BindRequest[CreateTemplateRequest](c)
	if err != nil {
		return err
	}

	input := workflow.TemplateInput{Name: req.Name, Description: req.Description}
	for _, s := range req.Steps {
		input.Steps = append(input.Steps, s.input())
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.CreateTemplate(ctx, input)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusCreated, res)
}

// GetTemplate handles GET /templates/:id
func GetTemplate(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}

// DeactivateTemplate handles DELETE /templates/:id. Templates are only ever retired.
func DeactivateTemplate(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	if err := service.DeactivateTemplate(ctx, id); err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithField("template_id", id).Info("Deactivated template")
	}
	return NoContentResponse(c)
}

// AddTemplateStep handles POST /templates/:id/steps
func AddTemplateStep(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := BindRequest[TemplateStepRequest](c)
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.AddTemplateStep(ctx, id, req.input())
	if err != nil {
		return err
	}
	return Respond(c, http.StatusCreated, res)
}

// UpdateTemplateStep handles PUT /templates/:id/steps/:stepId
func UpdateTemplateStep(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	stepID, err := ParseUUID(c, "stepId")
	if err != nil {
		return err
	}

	req, err := BindRequest[UpdateTemplateStepRequest](c)
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.UpdateTemplateStep(ctx, id, stepID, workflow.TemplateStepPatch{
		Name:              req.Name,
		Description:       req.Description,
		Order:             req.Order,
		EstimatedDuration: req.EstimatedDuration,
		Weight:            req.Weight,
	})
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}
