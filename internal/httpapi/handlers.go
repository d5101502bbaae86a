package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"intakebot/internal/intake"
	"intakebot/internal/notifier"
	"intakebot/pkg/logx"
)

type handlers struct {
	svc   RequestService
	relay Relayer
	log   logx.Logger
}

func (h *handlers) fail(c *gin.Context, op string, err error) {
	_ = c.Error(err)
	h.log.Error(op+" failed", logx.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// GET /requests
func (h *handlers) listRequests(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, "list requests", err)
		return
	}
	if list == nil {
		list = []intake.Request{}
	}
	c.JSON(http.StatusOK, list)
}

// POST /requests
// Any JSON object is accepted; the stored record echoes it with a new id.
func (h *handlers) createRequest(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil || fields == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}
	rec, err := h.svc.Create(c.Request.Context(), fields)
	if err != nil {
		h.fail(c, "create request", err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// DELETE /requests/:id
// 204 whether or not a record matched.
func (h *handlers) deleteRequest(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return
	}
	if _, err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, "delete request", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type registerUserBody struct {
	Username string `json:"username"`
}

// POST /register-user
func (h *handlers) registerUser(c *gin.Context) {
	var body registerUserBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if _, err := h.svc.RegisterUser(c.Request.Context(), body.Username); err != nil {
		if errors.Is(err, intake.ErrInvalidUsername) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.fail(c, "register user", err)
		return
	}
	c.String(http.StatusOK, http.StatusText(http.StatusOK))
}

type notifyBody struct {
	Text string `json:"text"`
}

// POST /notify
// Delivery is best effort; a disabled or saturated notifier still answers 200.
func (h *handlers) notify(c *gin.Context) {
	var body notifyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if h.relay != nil {
		_, err := h.relay.Relay(c.Request.Context(), body.Text)
		switch {
		case err == nil,
			errors.Is(err, notifier.ErrDisabled),
			errors.Is(err, notifier.ErrQueueFull),
			errors.Is(err, notifier.ErrStopped):
		default:
			h.fail(c, "relay", err)
			return
		}
	}
	c.String(http.StatusOK, http.StatusText(http.StatusOK))
}
