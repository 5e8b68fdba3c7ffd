package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

type ReorderStepsRequest struct {
	Changes []models.OrderChange `json:"changes" validate:"required,min=1,dive"`
}

type TransitionStepRequest struct {
	Status   models.StepStatus `json:"status" validate:"required"`
	DueDate  *time.Time        `json:"due_date,omitempty"`
	Assignee *string           `json:"assignee,omitempty"`
}

// UpdateStepRequest changes only the fields that are present. A status
// change goes through the same transition rules as /transition.
type UpdateStepRequest struct {
	Name              *string            `json:"name,omitempty"`
	Description       *string            `json:"description,omitempty"`
	Status            *models.StepStatus `json:"status,omitempty"`
	Weight            *float64           `json:"weight,omitempty" validate:"omitempty,gte=0,lte=100"`
	DueDate           *time.Time         `json:"due_date,omitempty"`
	ClearDueDate      bool               `json:"clear_due_date,omitempty"`
	EstimatedDuration *int               `json:"estimated_duration,omitempty" validate:"omitempty,gte=0"`
	Assignee          *string            `json:"assignee,omitempty"`
}

// registerStepRoutes registers step routes
func registerStepRoutes(g *echo.Group) {
	g.GET("/entities/:id/steps", ListSteps)
	g.PUT("/entities/:id/steps/order", ReorderSteps)

	steps := g.Group("/steps")
	steps.PATCH("/:id", UpdateStep)
	steps.POST("/:id/transition", TransitionStep)
	steps.DELETE("/:id", DeleteStep)
}

// ListSteps handles GET /entities/:id/steps
func ListSteps(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.GetSteps(ctx, id)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}

// ReorderSteps handles PUT /entities/:id/steps/order
func ReorderSteps(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := BindRequest[ReorderStepsRequest](c)
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.ReorderSteps(ctx, id, req.Changes)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}

// UpdateStep handles PATCH /steps/:id
func UpdateStep(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := BindRequest[UpdateStepRequest](c)
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.UpdateStep(ctx, id, workflow.StepPatch{
		Name:              req.Name,
		Description:       req.Description,
		Status:            req.Status,
		Weight:            req.Weight,
		DueDate:           req.DueDate,
		ClearDueDate:      req.ClearDueDate,
		EstimatedDuration: req.EstimatedDuration,
		Assignee:          req.Assignee,
	})
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}

// TransitionStep handles POST /steps/:id/transition
func TransitionStep(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := BindRequest[TransitionStepRequest](c)
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.TransitionStep(ctx, id, req.Status, workflow.StepFields{
		DueDate:  req.DueDate,
		Assignee: req.Assignee,
	})
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}

// DeleteStep handles DELETE /steps/:id
func DeleteStep(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	ctx, service, err := serviceFrom(c)
	if err != nil {
		return err
	}

	res, err := service.DeleteStep(ctx, id)
	if err != nil {
		return err
	}
	return Respond(c, http.StatusOK, res)
}
