package http

import (
	"fmt"
	"net/http"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// ControlHandler exposes session control over REST.
type ControlHandler struct {
	control ports.ControlService
}

func NewControlHandler(control ports.ControlService) *ControlHandler {
	return &ControlHandler{control: control}
}

func (h *ControlHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/session")
	{
		api.GET("", h.GetSession)
		api.POST("/start", h.Start)
		api.POST("/stop", h.Stop)
		api.GET("/plan", h.GetPlan)
		api.GET("/metrics", h.GetMetrics)

		api.GET("/streams", h.ListStreams)
		api.POST("/streams", h.AddStream)
		api.DELETE("/streams/:id", h.RemoveStream)
		api.PUT("/streams/:id/status", h.SetStatus)
		api.PUT("/streams/:id/title", h.SetStreamTitle)
		api.PUT("/streams/:id/blind", h.SetBlind)

		api.PUT("/speaker", h.SetSpeaker)
		api.DELETE("/speaker", h.UnsetSpeaker)
		api.PUT("/layout", h.SetLayout)

		api.PUT("/overlay/title", h.SetTitle)
		api.PUT("/overlay/show_title", h.ShowTitle)
		api.PUT("/overlay/show_stream_titles", h.ShowStreamTitles)
		api.PUT("/overlay/clock", h.EnableClock)

		api.GET("/sinks", h.ListSinks)
		api.POST("/sinks", h.AddSink)
		api.DELETE("/sinks/:handle", h.RemoveSink)
		api.POST("/sinks/:handle/children", h.AddSinkChild)
		api.DELETE("/sinks/:handle/children/:child", h.RemoveSinkChild)
		api.GET("/sinks/:handle/preview", h.Preview)
	}
}

// bind decodes the request body, reporting failures as invalid parameters.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err))
		return false
	}
	return true
}

func respond(c *gin.Context, status int, err error, body interface{}) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	if body == nil {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}

func (h *ControlHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":   h.control.State(),
		"speaker": h.control.Speaker(),
		"metrics": h.control.Metrics(),
	})
}

func (h *ControlHandler) Start(c *gin.Context) {
	err := h.control.Start(c.Request.Context())
	respond(c, http.StatusOK, err, gin.H{"state": h.control.State()})
}

func (h *ControlHandler) Stop(c *gin.Context) {
	report, err := h.control.Stop(c.Request.Context())
	respond(c, http.StatusOK, err, gin.H{"state": h.control.State(), "report": report})
}

func (h *ControlHandler) GetPlan(c *gin.Context) {
	c.JSON(http.StatusOK, h.control.Plan())
}

func (h *ControlHandler) GetMetrics(c *gin.Context) {
	metrics := h.control.Metrics()
	c.JSON(http.StatusOK, gin.H{
		"metrics":      metrics,
		"health_score": metrics.HealthScore(),
	})
}

func (h *ControlHandler) ListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streams": h.control.Streams()})
}

func (h *ControlHandler) AddStream(c *gin.Context) {
	var req struct {
		ID    domain.StreamID `json:"stream_id" binding:"required"`
		Title string          `json:"title"`
	}
	if !bind(c, &req) {
		return
	}
	err := h.control.AddStream(c.Request.Context(), req.ID, req.Title)
	respond(c, http.StatusCreated, err, gin.H{"stream_id": req.ID})
}

func (h *ControlHandler) RemoveStream(c *gin.Context) {
	err := h.control.RemoveStream(c.Request.Context(), domain.StreamID(c.Param("id")))
	respond(c, http.StatusNoContent, err, nil)
}

func (h *ControlHandler) SetStatus(c *gin.Context) {
	var req struct {
		Audio *bool `json:"audio" binding:"required"`
		Video *bool `json:"video" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	err := h.control.SetStatus(c.Request.Context(), domain.StreamID(c.Param("id")), *req.Audio, *req.Video)
	respond(c, http.StatusNoContent, err, nil)
}

func (h *ControlHandler) SetStreamTitle(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if !bind(c, &req) {
		return
	}
	err := h.control.SetStreamTitle(c.Request.Context(), domain.StreamID(c.Param("id")), req.Title)
	respond(c, http.StatusNoContent, err, nil)
}

func (h *ControlHandler) SetBlind(c *gin.Context) {
	var req struct {
		Blinded bool             `json:"blinded"`
		Mode    domain.BlindMode `json:"mode"`
	}
	if !bind(c, &req) {
		return
	}
	err := h.control.SetBlind(c.Request.Context(), domain.StreamID(c.Param("id")), req.Blinded, req.Mode)
	respond(c, http.StatusNoContent, err, nil)
}

func (h *ControlHandler) SetSpeaker(c *gin.Context) {
	var req struct {
		ID   domain.StreamID `json:"stream_id" binding:"required"`
		Mode string          `json:"mode"`
	}
	if !bind(c, &req) {
		return
	}
	mode, err := domain.ParseSpeakerMode(req.Mode)
	if err != nil {
		_ = c.Error(err)
		return
	}
	err = h.control.SetSpeaker(c.Request.Context(), req.ID, mode)
	respond(c, http.StatusNoContent, err, nil)
}

func (h *ControlHandler) UnsetSpeaker(c *gin.Context) {
	respond(c, http.StatusNoContent, h.control.UnsetSpeaker(c.Request.Context()), nil)
}

func (h *ControlHandler) SetLayout(c *gin.Context) {
	var req struct {
		Layout     domain.LayoutKind `json:"layout"`
		MaxVisible int               `json:"max_visible"`
	}
	if !bind(c, &req) {
		return
	}
	err := h.control.SetLayout(c.Request.Context(), req.Layout, req.MaxVisible)
	respond(c, http.StatusOK, err, h.control.Plan())
}

func (h *ControlHandler) SetTitle(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusNoContent, h.control.SetTitle(c.Request.Context(), req.Title), nil)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *ControlHandler) toggle(c *gin.Context, apply func(*gin.Context, bool) error) {
	var req toggleRequest
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusNoContent, apply(c, *req.Enabled), nil)
}

func (h *ControlHandler) ShowTitle(c *gin.Context) {
	h.toggle(c, func(c *gin.Context, on bool) error { return h.control.ShowTitle(c.Request.Context(), on) })
}

func (h *ControlHandler) ShowStreamTitles(c *gin.Context) {
	h.toggle(c, func(c *gin.Context, on bool) error { return h.control.ShowStreamTitles(c.Request.Context(), on) })
}

func (h *ControlHandler) EnableClock(c *gin.Context) {
	h.toggle(c, func(c *gin.Context, on bool) error { return h.control.EnableClock(c.Request.Context(), on) })
}

func (h *ControlHandler) ListSinks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sinks": h.control.Sinks()})
}

func (h *ControlHandler) AddSink(c *gin.Context) {
	var spec domain.SinkSpec
	if !bind(c, &spec) {
		return
	}
	handle, err := h.control.AddSink(c.Request.Context(), spec)
	respond(c, http.StatusCreated, err, gin.H{"sink": handle})
}

func (h *ControlHandler) RemoveSink(c *gin.Context) {
	err := h.control.RemoveSink(c.Request.Context(), domain.SinkHandle(c.Param("handle")))
	respond(c, http.StatusNoContent, err, nil)
}

func (h *ControlHandler) AddSinkChild(c *gin.Context) {
	var spec domain.SinkSpec
	if !bind(c, &spec) {
		return
	}
	handle, err := h.control.AddSinkChild(c.Request.Context(), domain.SinkHandle(c.Param("handle")), spec)
	respond(c, http.StatusCreated, err, gin.H{"sink": handle})
}

func (h *ControlHandler) RemoveSinkChild(c *gin.Context) {
	err := h.control.RemoveSinkChild(c.Request.Context(),
		domain.SinkHandle(c.Param("handle")),
		domain.SinkHandle(c.Param("child")),
	)
	respond(c, http.StatusNoContent, err, nil)
}

type previewLayer struct {
	StreamID domain.StreamID `json:"stream_id"`
	Region   domain.Region   `json:"region"`
	Blank    bool            `json:"blank"`
	Title    string          `json:"title,omitempty"`
	Bytes    int             `json:"bytes"`
}

type previewResponse struct {
	Seq          uint64            `json:"seq"`
	PTS          time.Duration     `json:"pts"`
	PlanVersion  uint64            `json:"plan_version"`
	Resolution   domain.Size       `json:"resolution"`
	Layers       []previewLayer    `json:"layers"`
	Captions     []string          `json:"captions"`
	Samples      int               `json:"samples"`
	Contributors []domain.StreamID `json:"contributors"`
}

// Preview describes the latest frame a display sink received, without the
// picture and sample data.
func (h *ControlHandler) Preview(c *gin.Context) {
	frame, err := h.control.Preview(domain.SinkHandle(c.Param("handle")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if frame == nil {
		c.Status(http.StatusNoContent)
		return
	}

	resp := previewResponse{
		Seq:          frame.Seq,
		PTS:          frame.PTS,
		PlanVersion:  frame.PlanVersion,
		Resolution:   frame.Resolution,
		Layers:       make([]previewLayer, 0, len(frame.Layers)),
		Captions:     frame.Captions,
		Samples:      len(frame.Audio),
		Contributors: frame.Contributors,
	}
	for _, l := range frame.Layers {
		resp.Layers = append(resp.Layers, previewLayer{
			StreamID: l.StreamID,
			Region:   l.Region,
			Blank:    l.Blank,
			Title:    l.Title,
			Bytes:    len(l.Payload),
		})
	}
	c.JSON(http.StatusOK, resp)
}

var _ ports.HTTPHandler = (*ControlHandler)(nil)
