package handlers

import (
	"encoding/json"
	"net/http"

	"flowbuilder/application/editor"
	"flowbuilder/domain/canvas"
	"flowbuilder/domain/core/valueobjects"
	"flowbuilder/interfaces/http/rest/dto"
	"flowbuilder/interfaces/http/rest/middleware"
	"flowbuilder/interfaces/websocket"
	pkgerrors "flowbuilder/pkg/errors"

	"github.com/go-chi/chi/v5"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Pointer event types accepted by Pointer
const (
	PointerDown   = "down"
	PointerMove   = "move"
	PointerUp     = "up"
	PointerCancel = "cancel"
)

// FlowHandler drives mounted flows over HTTP
type FlowHandler struct {
	manager  *editor.Manager
	hub      *websocket.Hub
	upgrader gorillaws.Upgrader
	logger   *zap.Logger
}

// NewFlowHandler creates a flow handler. hub may be nil, in which case the
// watch endpoint is not served.
func NewFlowHandler(manager *editor.Manager, hub *websocket.Hub, upgrader gorillaws.Upgrader, logger *zap.Logger) *FlowHandler {
	return &FlowHandler{
		manager:  manager,
		hub:      hub,
		upgrader: upgrader,
		logger:   logger,
	}
}

// AddNodeRequest represents the request body for placing a node
type AddNodeRequest struct {
	X *float64 `json:"x" validate:"required"`
	Y *float64 `json:"y" validate:"required"`
}

// RenameNodeRequest represents the request body for relabelling a node
type RenameNodeRequest struct {
	Label string `json:"label" validate:"required,max=200"`
}

// ConnectRequest represents the request body for adding an edge
type ConnectRequest struct {
	SourceID string `json:"sourceId" validate:"required"`
	TargetID string `json:"targetId" validate:"required"`
}

// ConnectResponse reports whether the edge was new
type ConnectResponse struct {
	Added bool `json:"added"`
}

// PointerRequest is one pointer event in canvas coordinates
type PointerRequest struct {
	Type string  `json:"type" validate:"required,oneof=down move up cancel"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// GetFrame handles GET /flows/{flowID}
func (h *FlowHandler) GetFrame(w http.ResponseWriter, r *http.Request) {
	session, ok := h.open(w, r)
	if !ok {
		return
	}
	h.respondFrame(w, r, session, http.StatusOK)
}

// AddNode handles POST /flows/{flowID}/nodes
func (h *FlowHandler) AddNode(w http.ResponseWriter, r *http.Request) {
	var req AddNodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, ok := h.open(w, r)
	if !ok {
		return
	}

	node, err := session.AddNode(r.Context(), *req.X, *req.Y)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, dto.FromNode(node))
}

// RenameNode handles PATCH /flows/{flowID}/nodes/{nodeID}
func (h *FlowHandler) RenameNode(w http.ResponseWriter, r *http.Request) {
	var req RenameNodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	nodeID, err := valueobjects.NewNodeIDFromString(chi.URLParam(r, "nodeID"))
	if err != nil {
		h.handleError(w, r, pkgerrors.NewValidationError(err.Error()))
		return
	}
	session, ok := h.open(w, r)
	if !ok {
		return
	}

	if err := session.RenameNode(r.Context(), nodeID, req.Label); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Connect handles POST /flows/{flowID}/connections
func (h *FlowHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, ok := h.open(w, r)
	if !ok {
		return
	}

	added, err := session.Connect(r.Context(), valueobjects.MustNodeID(req.SourceID), valueobjects.MustNodeID(req.TargetID))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	h.respondJSON(w, status, ConnectResponse{Added: added})
}

// Pointer handles POST /flows/{flowID}/pointer and answers with the frame
// after the event was applied.
func (h *FlowHandler) Pointer(w http.ResponseWriter, r *http.Request) {
	var req PointerRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, ok := h.open(w, r)
	if !ok {
		return
	}

	p := canvas.Point{X: req.X, Y: req.Y}
	var err error
	switch req.Type {
	case PointerDown:
		_, err = session.PointerDown(r.Context(), p)
	case PointerMove:
		_, err = session.PointerMove(r.Context(), p)
	case PointerUp:
		_, err = session.PointerUp(r.Context(), p)
	case PointerCancel:
		_, err = session.Cancel(r.Context())
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.respondFrame(w, r, session, http.StatusOK)
}

// CloseSession handles DELETE /flows/{flowID}/session. Pending edits that have not
// been flushed are dropped.
func (h *FlowHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	if !h.manager.Close(flowID) {
		h.handleError(w, r, pkgerrors.NewNotFoundError("session for flow '"+flowID+"'"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Watch handles GET /flows/{flowID}/ws. The connection receives the current
// frame and then every redraw of the flow.
func (h *FlowHandler) Watch(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.respondError(w, http.StatusNotFound, pkgerrors.NewNotFoundError("watch endpoint"))
		return
	}
	session, ok := h.open(w, r)
	if !ok {
		return
	}

	frame, err := session.Frame(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	initial, err := json.Marshal(dto.FromFrame(frame))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	// Upgrade writes its own error response
	if err := h.hub.Serve(w, r, h.upgrader, session.FlowID(), middleware.UserID(r.Context()), initial); err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("flowID", session.FlowID()), zap.Error(err))
	}
}

func (h *FlowHandler) open(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	session, err := h.manager.Open(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	return session, true
}

func (h *FlowHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.handleError(w, r, pkgerrors.NewValidationError("Invalid request body: "+err.Error()))
		return false
	}
	if err := validateStruct(req); err != nil {
		h.handleError(w, r, err)
		return false
	}
	return true
}

func (h *FlowHandler) respondFrame(w http.ResponseWriter, r *http.Request, session *editor.Session, status int) {
	frame, err := session.Frame(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.respondJSON(w, status, dto.FromFrame(frame))
}

func (h *FlowHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := pkgerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("flowID", chi.URLParam(r, "flowID")),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	appErr := pkgerrors.GetAppError(err)
	if appErr == nil {
		appErr = pkgerrors.NewInternalError("internal server error")
	}
	h.respondError(w, status, appErr)
}

func (h *FlowHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *FlowHandler) respondError(w http.ResponseWriter, status int, appErr *pkgerrors.AppError) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":     true,
		"type":      appErr.Type,
		"message":   appErr.Message,
		"retryable": appErr.Retryable,
		"code":      status,
	})
}
