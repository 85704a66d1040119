package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"actionwatch/internal/action"
	"actionwatch/internal/service"
	logx "actionwatch/pkg/logx"
)

// writeErr translates the core's typed errors into status codes. The
// boundary owns this mapping; the core never sees HTTP.
func (s *Server) writeErr(c *gin.Context, err error) {
	var verr *action.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, action.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, action.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, action.ErrInactiveSchedule):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "schedule is inactive"})
	case errors.Is(err, action.ErrOutOfRange):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "instant precedes schedule anchor"})
	case errors.Is(err, action.ErrAlreadyCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "instance already completed"})
	case errors.Is(err, action.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		s.log.Error("unhandled api error", logx.Err(err), logx.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// GET /api/v1/actions
func (s *Server) listActions(c *gin.Context) {
	q, err := parseDefinitionQuery(c)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	defs, total, err := s.api.ListSchedules(c.Request.Context(), q)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	dtos := make([]actionDTO, 0, len(defs))
	for _, def := range defs {
		dtos = append(dtos, toActionDTO(def))
	}
	page, perPage := parsePage(c)
	c.JSON(http.StatusOK, pagedResponse{
		Data: dtos,
		Meta: pageMeta{Page: page, PerPage: perPage, Total: total},
	})
}

// POST /api/v1/actions
func (s *Server) createAction(c *gin.Context) {
	var req createActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		s.writeErr(c, &action.ValidationError{Field: "start_at", Reason: "must be RFC3339"})
		return
	}
	visible := true
	if req.Visible != nil {
		visible = *req.Visible
	}

	def, err := s.api.CreateSchedule(c.Request.Context(), service.CreateScheduleParams{
		Name:              req.Name,
		Description:       req.Description,
		Active:            req.Active,
		Visible:           visible,
		StartAt:           startAt,
		Timezone:          req.Timezone,
		ScheduleInterval:  time.Duration(req.ScheduleInterval) * time.Second,
		CompletionLatency: time.Duration(req.CompletionLatency) * time.Second,
		GroupID:           req.GroupID,
	})
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, toActionDTO(def))
}

// GET /api/v1/actions/:id
func (s *Server) getAction(c *gin.Context) {
	def, err := s.api.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toActionDTO(def))
}

// PUT /api/v1/actions/:id
func (s *Server) updateAction(c *gin.Context) {
	var req updateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params := service.UpdateScheduleParams{
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
		Visible:     req.Visible,
		GroupID:     req.GroupID,
	}
	if req.CompletionLatency != nil {
		d := time.Duration(*req.CompletionLatency) * time.Second
		params.CompletionLatency = &d
	}
	def, err := s.api.UpdateSchedule(c.Request.Context(), c.Param("id"), params)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toActionDTO(def))
}

// DELETE /api/v1/actions/:id
func (s *Server) deleteAction(c *gin.Context) {
	if err := s.api.DeleteSchedule(c.Request.Context(), c.Param("id")); err != nil {
		s.writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/actions/:id/instances
func (s *Server) listInstances(c *gin.Context) {
	now, err := parseNowQuery(c)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	views, total, err := s.api.ListInstances(c.Request.Context(), c.Param("id"), parseInstanceQuery(c), now)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	dtos := make([]instanceDTO, 0, len(views))
	for _, v := range views {
		dtos = append(dtos, toInstanceDTO(v))
	}
	page, perPage := parsePage(c)
	c.JSON(http.StatusOK, pagedResponse{
		Data: dtos,
		Meta: pageMeta{Page: page, PerPage: perPage, Total: total},
	})
}

// GET /api/v1/actions/:id/instances/current
func (s *Server) currentInstance(c *gin.Context) {
	now, err := parseNowQuery(c)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	view, err := s.api.GetCurrentInstance(c.Request.Context(), c.Param("id"), now)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toInstanceDTO(view))
}

// GET /api/v1/actions/:id/instances/next
func (s *Server) nextInstance(c *gin.Context) {
	now, err := parseNowQuery(c)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	view, err := s.api.GetNextInstance(c.Request.Context(), c.Param("id"), now)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toInstanceDTO(view))
}

// GET /api/v1/actions/:id/instances/:instance_id
func (s *Server) getInstance(c *gin.Context) {
	now, err := parseNowQuery(c)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	view, err := s.api.GetInstance(c.Request.Context(), c.Param("instance_id"), now)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	if view.Instance.ScheduleID != c.Param("id") {
		s.writeErr(c, action.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, toInstanceDTO(view))
}

// PUT /api/v1/actions/:id/instances/:instance_id
func (s *Server) updateInstance(c *gin.Context) {
	var req updateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	completedAt, err := time.Parse(time.RFC3339, req.CompletedAt)
	if err != nil {
		s.writeErr(c, &action.ValidationError{Field: "completed_at", Reason: "must be RFC3339"})
		return
	}
	view, err := s.api.RecordCompletion(c.Request.Context(), c.Param("instance_id"), completedAt, req.Message)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	if view.Instance.ScheduleID != c.Param("id") {
		s.writeErr(c, action.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, toInstanceDTO(view))
}
