package bookings

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fairway-meetups/backend/internal/middleware"
	"github.com/fairway-meetups/backend/pkg/response"
)

// Machine codes carried in the response envelope.
const (
	CodeNotFound            = "not_found"
	CodeAlreadyJoined       = "already_joined"
	CodeCapacityExceeded    = "capacity_exceeded"
	CodeInvalidState        = "invalid_state"
	CodePermissionDenied    = "permission_denied"
	CodeConcurrencyConflict = "concurrency_conflict"
	CodeInvalidInput        = "invalid_input"
)

// CreateBookingRequest is the body for POST /bookings.
type CreateBookingRequest struct {
	Title            string     `json:"title" binding:"required"`
	CourseName       string     `json:"course_name"`
	TeeTime          *time.Time `json:"tee_time"`
	MaxCapacity      int        `json:"max_capacity" binding:"required,min=1"`
	RequiresApproval bool       `json:"requires_approval"`
	HostName         string     `json:"host_name"`
}

// JoinRequest is the optional body for POST /bookings/:id/join.
type JoinRequest struct {
	DisplayName string `json:"display_name"`
}

// CancelRequest is the optional body for POST /bookings/:id/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Handler exposes the booking service over HTTP. The caller is always taken
// from the verified token, never from the body.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a bookings handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the booking endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings", h.Create)
	rg.GET("/bookings/:id", h.Get)
	rg.POST("/bookings/:id/join", h.Join)
	rg.POST("/bookings/:id/withdraw", h.Withdraw)
	rg.POST("/bookings/:id/cancel", h.Cancel)
	rg.GET("/bookings/:id/requests", h.ListPending)
	rg.POST("/bookings/:id/requests/:requestId/approve", h.Approve)
	rg.POST("/bookings/:id/requests/:requestId/reject", h.Reject)
}

// Create handles POST /bookings.
func (h *Handler) Create(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	hostName := req.HostName
	if hostName == "" {
		hostName = middleware.CallerName(c)
	}
	b, err := h.svc.Create(c.Request.Context(), CreateInput{
		HostID:           middleware.CallerID(c),
		HostName:         hostName,
		Title:            req.Title,
		CourseName:       req.CourseName,
		TeeTime:          req.TeeTime,
		MaxCapacity:      req.MaxCapacity,
		RequiresApproval: req.RequiresApproval,
	})
	if err != nil {
		h.writeError(c, "create booking", err)
		return
	}
	response.Created(c, b)
}

// Get handles GET /bookings/:id.
func (h *Handler) Get(c *gin.Context) {
	b, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get booking", err)
		return
	}
	response.OK(c, b)
}

// Join handles POST /bookings/:id/join. A repeated join answers 200 with
// code already_joined; a join that needs approval answers 202.
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	name := req.DisplayName
	if name == "" {
		name = middleware.CallerName(c)
	}
	res, err := h.svc.Join(c.Request.Context(), JoinInput{
		BookingID:   c.Param("id"),
		UserID:      middleware.CallerID(c),
		DisplayName: name,
	})
	switch {
	case errors.Is(err, ErrAlreadyJoined):
		response.OKWithCode(c, CodeAlreadyJoined, res)
	case err != nil:
		h.writeError(c, "join booking", err)
	case res.Outcome == JoinOutcomePending:
		response.Accepted(c, res)
	default:
		response.OK(c, res)
	}
}

// Withdraw handles POST /bookings/:id/withdraw.
func (h *Handler) Withdraw(c *gin.Context) {
	b, err := h.svc.Withdraw(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		h.writeError(c, "withdraw", err)
		return
	}
	response.OK(c, b)
}

// Cancel handles POST /bookings/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	b, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), middleware.CallerID(c), req.Reason)
	if err != nil {
		h.writeError(c, "cancel booking", err)
		return
	}
	response.OK(c, b)
}

// ListPending handles GET /bookings/:id/requests.
func (h *Handler) ListPending(c *gin.Context) {
	list, err := h.svc.ListPending(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		h.writeError(c, "list requests", err)
		return
	}
	response.OK(c, list)
}

// Approve handles POST /bookings/:id/requests/:requestId/approve.
func (h *Handler) Approve(c *gin.Context) {
	b, err := h.svc.Approve(c.Request.Context(), c.Param("requestId"), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		h.writeError(c, "approve request", err)
		return
	}
	response.OK(c, b)
}

// Reject handles POST /bookings/:id/requests/:requestId/reject.
func (h *Handler) Reject(c *gin.Context) {
	req, err := h.svc.Reject(c.Request.Context(), c.Param("requestId"), middleware.CallerID(c))
	if err != nil {
		h.writeError(c, "reject request", err)
		return
	}
	response.OK(c, req)
}

// writeError maps service error kinds onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err), zap.String("booking_id", c.Param("id")))
	}
	if status == http.StatusInternalServerError {
		response.Internal(c, op+" failed")
		return
	}
	response.Error(c, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrAlreadyJoined):
		return http.StatusOK, CodeAlreadyJoined
	case errors.Is(err, ErrCapacityExceeded):
		return http.StatusConflict, CodeCapacityExceeded
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden, CodePermissionDenied
	case errors.Is(err, ErrConcurrencyConflict):
		return http.StatusServiceUnavailable, CodeConcurrencyConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	default:
		return http.StatusInternalServerError, "internal"
	}
}
