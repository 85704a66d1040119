package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"actionwatch/internal/action"
	"actionwatch/internal/service"
	"actionwatch/internal/storage"
)

// Durations cross the wire as integer seconds, instants as RFC3339.

type actionDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Active            bool   `json:"active"`
	Visible           bool   `json:"visible"`
	StartAt           string `json:"start_at"`
	Timezone          string `json:"timezone"`
	ScheduleInterval  int64  `json:"schedule_interval"`
	CompletionLatency int64  `json:"completion_latency"`
	GroupID           string `json:"group_id,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func toActionDTO(def action.Definition) actionDTO {
	return actionDTO{
		ID:                def.ID,
		Name:              def.Name,
		Description:       def.Description,
		Active:            def.Active,
		Visible:           def.Visible,
		StartAt:           def.StartAt.UTC().Format(time.RFC3339),
		Timezone:          def.Timezone,
		ScheduleInterval:  int64(def.ScheduleInterval / time.Second),
		CompletionLatency: int64(def.CompletionLatency / time.Second),
		GroupID:           def.GroupID,
		CreatedAt:         def.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         def.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type instanceDTO struct {
	ID          string  `json:"id"`
	ActionID    string  `json:"action_id"`
	WindowIndex int     `json:"window_index"`
	WindowStart string  `json:"window_start"`
	WindowEnd   string  `json:"window_end"`
	Status      string  `json:"status"`
	CompletedAt *string `json:"completed_at,omitempty"`
	Message     string  `json:"message,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func toInstanceDTO(v service.InstanceView) instanceDTO {
	dto := instanceDTO{
		ID:          v.Instance.ID,
		ActionID:    v.Instance.ScheduleID,
		WindowIndex: v.Instance.WindowIndex,
		WindowStart: v.Window.Start.Format(time.RFC3339),
		WindowEnd:   v.Window.End.Format(time.RFC3339),
		Status:      string(v.Status),
		Message:     v.Instance.Message,
		CreatedAt:   v.Instance.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   v.Instance.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if v.Instance.CompletedAt != nil {
		s := v.Instance.CompletedAt.UTC().Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}

type pageMeta struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

type pagedResponse struct {
	Data any      `json:"data"`
	Meta pageMeta `json:"meta"`
}

// ---- Requests ----

type createActionRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	Visible     *bool  `json:"visible"` // optional, default true

	StartAt           string `json:"start_at" binding:"required"` // RFC3339
	Timezone          string `json:"timezone" binding:"required"`
	ScheduleInterval  int64  `json:"schedule_interval" binding:"required"` // seconds
	CompletionLatency int64  `json:"completion_latency"`                   // seconds

	GroupID string `json:"group_id"`
}

type updateActionRequest struct {
	Name              *string `json:"name"`
	Description       *string `json:"description"`
	Active            *bool   `json:"active"`
	Visible           *bool   `json:"visible"`
	CompletionLatency *int64  `json:"completion_latency"` // seconds
	GroupID           *string `json:"group_id"`
}

type updateInstanceRequest struct {
	CompletedAt string `json:"completed_at" binding:"required"` // RFC3339
	Message     string `json:"message"`
}

// ---- Query parsing ----

func parsePage(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	return page, perPage
}

func parseOrder(c *gin.Context) storage.SortOrder {
	if c.Query("order") == "desc" {
		return storage.OrderDesc
	}
	return storage.OrderAsc
}

func parseBoolQuery(c *gin.Context, key string) *bool {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	b := v == "true" || v == "1"
	return &b
}

// parseTimeQuery accepts RFC3339 or a bare date.
func parseTimeQuery(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, &action.ValidationError{Field: key, Reason: "must be RFC3339 or YYYY-MM-DD"}
	}
	return t, nil
}

// parseNowQuery resolves the reference instant for window math. Callers
// may pin it (tests, replay); it defaults to the server clock.
func parseNowQuery(c *gin.Context) (time.Time, error) {
	v := c.Query("now")
	if v == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &action.ValidationError{Field: "now", Reason: "must be RFC3339"}
	}
	return t, nil
}

func parseDefinitionQuery(c *gin.Context) (storage.DefinitionQuery, error) {
	q := storage.DefinitionQuery{
		Active:  parseBoolQuery(c, "active"),
		Visible: parseBoolQuery(c, "visible"),
		GroupID: c.Query("group_id"),
		SortBy:  storage.DefinitionSort(c.Query("sort")),
		Order:   parseOrder(c),
	}
	q.Page, q.PerPage = parsePage(c)

	var err error
	if q.CreatedAfter, err = parseTimeQuery(c, "created_after"); err != nil {
		return q, err
	}
	if q.CreatedBefore, err = parseTimeQuery(c, "created_before"); err != nil {
		return q, err
	}
	return q, nil
}

func parseInstanceQuery(c *gin.Context) storage.InstanceQuery {
	q := storage.InstanceQuery{
		Completed: parseBoolQuery(c, "completed"),
		SortBy:    storage.InstanceSort(c.Query("sort")),
		Order:     parseOrder(c),
	}
	q.Page, q.PerPage = parsePage(c)
	return q
}
