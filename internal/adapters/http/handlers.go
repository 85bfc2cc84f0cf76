package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/dkeye/LiveStudio/internal/app/orch"
	"github.com/dkeye/LiveStudio/internal/app/session"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Controller is the slice of the orchestrator the API drives.
type Controller interface {
	Self() domain.User
	StartBroadcast(ctx context.Context, room domain.RoomID, mode domain.Mode, maxSeats int, title string) (session.View, error)
	Watch(ctx context.Context, room domain.RoomID) (session.View, error)
	Stop(ctx context.Context) error
	Snapshot(ctx context.Context) (orch.Snapshot, error)

	RequestSeat(ctx context.Context, seatID int) error
	LeaveSeat(ctx context.Context) error
	ApproveSeat(ctx context.Context, seatID int, user domain.UserID) error
	RejectSeat(ctx context.Context, user domain.UserID, reason string) error
	Kick(ctx context.Context, user domain.UserID) error
	Mute(ctx context.Context, user domain.UserID, muted bool) error

	SendChat(ctx context.Context, text string) (domain.ChatMessage, error)
	SendGift(ctx context.Context, recipient domain.UserID, item string, amount int64) (domain.GiftEvent, error)

	ChallengePK(ctx context.Context, opponent domain.UserID, d time.Duration) (domain.PKChallenge, error)
	AcceptPK(ctx context.Context) error
	DeclinePK(ctx context.Context) error
	CancelPK(ctx context.Context) error
}

type handlers struct {
	ctl Controller
}

func statusOf(err error) int {
	var de *core.DeviceError
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return nethttp.StatusBadRequest
	case errors.Is(err, core.ErrNotHost):
		return nethttp.StatusForbidden
	case errors.Is(err, core.ErrNoSession):
		return nethttp.StatusNotFound
	case errors.Is(err, core.ErrSessionActive),
		errors.Is(err, core.ErrNotLive),
		errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrSeatConflict):
		return nethttp.StatusConflict
	case errors.Is(err, core.ErrChallengeExpired):
		return nethttp.StatusGone
	case errors.Is(err, core.ErrRateLimited):
		return nethttp.StatusTooManyRequests
	case errors.As(err, &de):
		return nethttp.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return nethttp.StatusGatewayTimeout
	}
	return nethttp.StatusBadGateway
}

func (h *handlers) fail(c *gin.Context, err error) {
	code := statusOf(err)
	ev := log.Info()
	if code >= 500 {
		ev = log.Warn()
	}
	ev.Err(err).Str("module", "adapters.http").Str("sid", c.GetString(clientTokenKey)).
		Str("path", c.FullPath()).Int("status", code).Msg("request failed")
	c.JSON(code, gin.H{"error": core.NewErrorView(err)})
}

// bind decodes an optional or required JSON body.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": core.ErrorView{Kind: "invalid_input", Message: "Invalid request.", Detail: err.Error()}})
		return false
	}
	return true
}

func (h *handlers) done(c *gin.Context, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(nethttp.StatusNoContent)
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(nethttp.StatusOK, gin.H{"status": "ok", "user": h.ctl.Self()})
}

func (h *handlers) snapshot(c *gin.Context) {
	snap, err := h.ctl.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, snap)
}

func (h *handlers) broadcast(c *gin.Context) {
	var req struct {
		Room     string `json:"room" binding:"required"`
		Mode     string `json:"mode"`
		MaxSeats int    `json:"maxSeats"`
		Title    string `json:"title"`
	}
	if !bind(c, &req) {
		return
	}
	mode := domain.Mode(req.Mode)
	if mode == "" {
		mode = domain.ModeSolo
	}
	view, err := h.ctl.StartBroadcast(c.Request.Context(), domain.RoomID(req.Room), mode, req.MaxSeats, req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, view)
}

func (h *handlers) watch(c *gin.Context) {
	var req struct {
		Room string `json:"room" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	view, err := h.ctl.Watch(c.Request.Context(), domain.RoomID(req.Room))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, view)
}

func (h *handlers) stop(c *gin.Context) {
	h.done(c, h.ctl.Stop(c.Request.Context()))
}

func (h *handlers) requestSeat(c *gin.Context) {
	var req struct {
		SeatID int `json:"seatId"`
	}
	if !bind(c, &req) {
		return
	}
	h.done(c, h.ctl.RequestSeat(c.Request.Context(), req.SeatID))
}

func (h *handlers) leaveSeat(c *gin.Context) {
	h.done(c, h.ctl.LeaveSeat(c.Request.Context()))
}

func (h *handlers) approveSeat(c *gin.Context) {
	var req struct {
		SeatID int    `json:"seatId"`
		UserID string `json:"userId" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	h.done(c, h.ctl.ApproveSeat(c.Request.Context(), req.SeatID, domain.UserID(req.UserID)))
}

func (h *handlers) rejectSeat(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
		Reason string `json:"reason"`
	}
	if !bind(c, &req) {
		return
	}
	h.done(c, h.ctl.RejectSeat(c.Request.Context(), domain.UserID(req.UserID), req.Reason))
}

func (h *handlers) kick(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	h.done(c, h.ctl.Kick(c.Request.Context(), domain.UserID(req.UserID)))
}

func (h *handlers) mute(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
		Muted  bool   `json:"muted"`
	}
	if !bind(c, &req) {
		return
	}
	h.done(c, h.ctl.Mute(c.Request.Context(), domain.UserID(req.UserID), req.Muted))
}

func (h *handlers) chat(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	msg, err := h.ctl.SendChat(c.Request.Context(), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, msg)
}

func (h *handlers) gift(c *gin.Context) {
	var req struct {
		Recipient string `json:"recipient" binding:"required"`
		Item      string `json:"item" binding:"required"`
		Amount    int64  `json:"amount"`
	}
	if !bind(c, &req) {
		return
	}
	g, err := h.ctl.SendGift(c.Request.Context(), domain.UserID(req.Recipient), req.Item, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, g)
}

func (h *handlers) challenge(c *gin.Context) {
	var req struct {
		Opponent        string `json:"opponent" binding:"required"`
		DurationSeconds int    `json:"durationSeconds"`
	}
	if !bind(c, &req) {
		return
	}
	d := domain.DefaultPKDuration
	if req.DurationSeconds > 0 {
		d = time.Duration(req.DurationSeconds) * time.Second
	}
	ch, err := h.ctl.ChallengePK(c.Request.Context(), domain.UserID(req.Opponent), d)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, ch)
}

func (h *handlers) acceptPK(c *gin.Context) {
	h.done(c, h.ctl.AcceptPK(c.Request.Context()))
}

func (h *handlers) declinePK(c *gin.Context) {
	h.done(c, h.ctl.DeclinePK(c.Request.Context()))
}

func (h *handlers) cancelPK(c *gin.Context) {
	h.done(c, h.ctl.CancelPK(c.Request.Context()))
}
