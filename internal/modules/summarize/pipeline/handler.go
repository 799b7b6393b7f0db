package pipeline

import (
	"github.com/gin-gonic/gin"
	"github.com/tldrify/core/internal/pkg/errkind"
	"github.com/tldrify/core/internal/pkg/pagination"
	"github.com/tldrify/core/internal/pkg/response"
)

// Handler exposes the pipeline over HTTP.
type Handler struct {
	coordinator *Coordinator
}

func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// RegisterRoutes mounts the summarize API under group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/summarize", h.submit)
	group.GET("/summarize/:request_id", h.status)
	group.DELETE("/summarize/:request_id", h.cancel)
	group.GET("/users/:user_id/balance", h.balance)
	group.GET("/users/:user_id/jobs", h.jobs)
}

func (h *Handler) submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errkind.Wrap(errkind.Validation, err, "malformed request body"))
		return
	}

	resp, err := h.coordinator.Submit(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if resp.Async() {
		response.Accepted(c, resp)
		return
	}
	response.OK(c, resp)
}

func (h *Handler) status(c *gin.Context) {
	resp, err := h.coordinator.Status(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		if errkind.Is(err, errkind.Validation) {
			response.NotFound(c, err.Error())
			return
		}
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

func (h *Handler) cancel(c *gin.Context) {
	resp, err := h.coordinator.Cancel(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		if errkind.Is(err, errkind.Validation) {
			response.NotFound(c, err.Error())
			return
		}
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

func (h *Handler) balance(c *gin.Context) {
	resp, err := h.coordinator.Balance(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

func (h *Handler) jobs(c *gin.Context) {
	items, page, err := h.coordinator.Jobs(c.Request.Context(), c.Param("user_id"), pagination.FromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page)
}
