// Package api is the HTTP edge of the boot plane: the iPXE script endpoints
// x86 clients chain through, the JSON endpoint Pi deploy environments poll,
// the report callbacks that drive lifecycle transitions, and the throttled
// artifact stream.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/oklog/ulid/v2"
	"github.com/pureboot/pureboot/boot/internal/dispatch"
	"github.com/pureboot/pureboot/boot/internal/ipxe/script"
	"github.com/pureboot/pureboot/boot/internal/throttle"
	"github.com/pureboot/pureboot/lifecycle"
	"github.com/pureboot/pureboot/pkg/backend"
	"github.com/pureboot/pureboot/pkg/data"
	"github.com/pureboot/pureboot/pkg/storage"
)

const ipxeContentType = "text/plain; charset=utf-8"

// Registry is the read-side slice of the node registry the API serves.
type Registry interface {
	GetByID(ctx context.Context, id string) (*data.Node, error)
	List(ctx context.Context) ([]*data.Node, error)
}

// Handler carries the API's collaborators. Store may be nil when no artifact
// backend is configured; /files then answers 503.
type Handler struct {
	Log        logr.Logger
	Dispatch   *dispatch.Resolver
	Lifecycle  *lifecycle.Service
	Registry   Registry
	Store      storage.Store
	Throttler  *throttle.Throttler
	ScriptData script.Data
}

// RegisterRoutes attaches every endpoint to the router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/boot", h.handleBootScript)
	r.GET("/boot/pi", h.handlePiBoot)
	r.GET("/autoexec.ipxe", h.handleAutoexec)
	r.GET("/files/*filepath", h.handleFile)

	v1 := r.Group("/api/v1")
	v1.GET("/boot", h.handleBootScript)
	v1.GET("/ipxe/boot.ipxe", h.handleChainScript)
	v1.GET("/nodes", h.handleListNodes)
	v1.GET("/nodes/:id", h.handleGetNode)
	v1.POST("/nodes/:id/installed", h.handleInstalled)
	v1.POST("/nodes/:id/report", h.handleReport)
	v1.POST("/nodes/:id/transition", h.handleTransition)
}

// handleBootScript answers an iPXE client with the script for its node.
func (h *Handler) handleBootScript(c *gin.Context) {
	mac := c.Query("mac")
	if mac == "" {
		h.detail(c, http.StatusBadRequest, "missing mac parameter")
		return
	}

	action, err := h.Dispatch.ResolveIPXE(c.Request.Context(), mac, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}
	body, err := script.RenderAction(action, h.ScriptData)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, ipxeContentType, []byte(body))
}

func (h *Handler) handleAutoexec(c *gin.Context) {
	body, err := script.Autoexec(h.ScriptData)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, ipxeContentType, []byte(body))
}

func (h *Handler) handleChainScript(c *gin.Context) {
	body, err := script.Boot(h.ScriptData)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, ipxeContentType, []byte(body))
}

// piResponse is the wire shape for /boot/pi. Empty fields are omitted so each
// action variant only shows its own parameters.
type piResponse struct {
	State        string `json:"state"`
	Message      string `json:"message,omitempty"`
	Action       string `json:"action,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	TargetDevice string `json:"target_device,omitempty"`
	CallbackURL  string `json:"callback_url,omitempty"`
	NFSServer    string `json:"nfs_server,omitempty"`
	NFSPath      string `json:"nfs_path,omitempty"`
}

func (h *Handler) handlePiBoot(c *gin.Context) {
	serial := c.Query("serial")
	if serial == "" {
		h.detail(c, http.StatusBadRequest, "missing serial parameter")
		return
	}

	action, node, err := h.Dispatch.ResolvePi(c.Request.Context(), serial, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := piResponse{State: node.State.String()}
	switch action.Kind {
	case data.ActionDiscovered:
		if action.Discovered != nil {
			resp.Message = action.Discovered.Message
		}
	case data.ActionDeployImage:
		resp.Action = string(data.ActionDeployImage)
		resp.ImageURL = action.DeployImage.ImageURL
		resp.TargetDevice = action.DeployImage.TargetDevice
		resp.CallbackURL = action.DeployImage.CallbackURL
	case data.ActionNFSBoot:
		resp.Action = string(data.ActionNFSBoot)
		resp.NFSServer = action.NFSBoot.Server
		resp.NFSPath = action.NFSBoot.Path
		resp.CallbackURL = action.NFSBoot.CallbackURL
	default:
		resp.Action = string(action.Kind)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleListNodes(c *gin.Context) {
	nodes, err := h.Registry.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (h *Handler) handleGetNode(c *gin.Context) {
	node, err := h.Registry.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// handleInstalled is the callback URL handed out with every deploy action.
func (h *Handler) handleInstalled(c *gin.Context) {
	node, err := h.Lifecycle.ReportInstalled(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": node.State})
}

type reportRequest struct {
	Status string `json:"status" binding:"required"`
	Error  string `json:"error"`
}

// handleReport lets the deploy environment report success or failure.
func (h *Handler) handleReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.detail(c, http.StatusBadRequest, "invalid report body: "+err.Error())
		return
	}

	var node *data.Node
	var err error
	switch req.Status {
	case "success":
		node, err = h.Lifecycle.ReportInstalled(c.Request.Context(), c.Param("id"))
	case "failure", "failed":
		node, err = h.Lifecycle.ReportInstallFailed(c.Request.Context(), c.Param("id"), req.Error)
	default:
		h.detail(c, http.StatusBadRequest, "status must be success or failure")
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": node.State})
}

type transitionRequest struct {
	To      string `json:"to" binding:"required"`
	Force   bool   `json:"force"`
	Comment string `json:"comment"`
	UserID  string `json:"user_id"`
}

// handleTransition is the operator path: approving a discovered node into
// pending, retiring, forcing an install retry.
func (h *Handler) handleTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.detail(c, http.StatusBadRequest, "invalid transition body: "+err.Error())
		return
	}

	to := data.State(req.To)
	known := false
	for _, s := range data.States() {
		if s == to {
			known = true
			break
		}
	}
	if !known {
		h.detail(c, http.StatusBadRequest, "unknown state "+req.To)
		return
	}

	node, err := h.Lifecycle.Transition(c.Request.Context(), lifecycle.TransitionRequest{
		NodeID:      c.Param("id"),
		To:          to,
		TriggeredBy: data.TriggeredByAdmin,
		UserID:      req.UserID,
		Comment:     req.Comment,
		Force:       req.Force,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// handleFile streams an artifact through the throttler.
func (h *Handler) handleFile(c *gin.Context) {
	if h.Store == nil {
		h.detail(c, http.StatusServiceUnavailable, "no storage backend configured")
		return
	}

	handle, err := h.Store.Open(c.Request.Context(), c.Param("filepath"))
	if err != nil {
		h.fail(c, err)
		return
	}

	body := handle.Content
	if h.Throttler != nil && handle.Size > 0 {
		body = throttle.NewReader(h.Throttler, ulid.Make().String(), handle.Size, handle.Content)
	}
	defer body.Close()

	extra := map[string]string{}
	if handle.SHA256 != "" {
		extra["ETag"] = `"sha256:` + handle.SHA256 + `"`
		extra["X-Checksum-SHA256"] = handle.SHA256
	}
	c.DataFromReader(http.StatusOK, handle.Size, "application/octet-stream", body, extra)
}

func (h *Handler) detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

// fail maps component errors onto the HTTP error taxonomy.
func (h *Handler) fail(c *gin.Context, err error) {
	var invalid *lifecycle.InvalidTransitionError
	var bound *lifecycle.RetryBoundError
	switch {
	case errors.Is(err, dispatch.ErrBadIdentity):
		h.detail(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalid), errors.As(err, &bound):
		h.detail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		h.detail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, backend.ErrConflict):
		h.detail(c, http.StatusConflict, err.Error())
	default:
		h.Log.Error(err, "request failed", "path", c.FullPath())
		h.detail(c, http.StatusInternalServerError, err.Error())
	}
}
