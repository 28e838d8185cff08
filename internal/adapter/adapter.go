// Package adapter implements the HTTP Adapter of spec §4.5: a thin,
// stateless external interface that translates POSTed JSON grant requests
// into wire-protocol requests against the issuance engine (via a
// connection pool) and maps the reply back onto the HTTP status codes of
// spec §7.
//
// The adapter holds no inventory state of its own — every decision is the
// engine's — which keeps it horizontally scalable the way the teacher's
// consumer shards are: many adapter processes can sit in front of one
// engine.
package adapter

import (
	"bufio"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/aconrad/pulley-interview/internal/wire"
	"github.com/aconrad/pulley-interview/pool"
)

// checkoutout and reply deadlines bound how long one HTTP request waits on
// the backend before the adapter reports it unavailable (spec §7, 503).
const (
	DefaultCheckoutTimeout = 2 * time.Second
	DefaultReplyTimeout    = 5 * time.Second
)

// validate carries the custom "classtag" rule: non-empty, at most 255 bytes
// (the wire format's 1-byte class_tag length), and free of spaces, tabs,
// '\n' and '\r'. Registered as a custom validator tag so the
// adapter rejects obviously-bad requests before ever taking a connection
// out of the pool.
var validate = func() *validator.Validate {
	var v = validator.New()
	_ = v.RegisterValidation("classtag", func(fl validator.FieldLevel) bool {
		var s = fl.Field().String()
		if s == "" || len(s) > 255 {
			return false
		}
		for _, r := range s {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return false
			}
		}
		return true
	})
	return v
}()

// grantRequest is the JSON body spec §4.5 requires: { "name", "amount",
// "class" }, accepted on any path via POST.
type grantRequest struct {
	Name   string `json:"name" binding:"required,max=65535"`
	Amount uint32 `json:"amount" binding:"required"`
	Class  string `json:"class" binding:"required" validate:"required,classtag"`
}

// Handler serves the HTTP Adapter's routes against a connection pool.
type Handler struct {
	pool            *pool.Pool
	checkoutTimeout time.Duration
	replyTimeout    time.Duration
}

// New constructs a Handler that dispatches through |p|.
func New(p *pool.Pool) *Handler {
	return &Handler{pool: p, checkoutTimeout: DefaultCheckoutTimeout, replyTimeout: DefaultReplyTimeout}
}

// Register installs the adapter's route onto |r|. Spec §4.5 accepts the
// grant JSON on any path via POST, so this is a catch-all rather than one
// fixed endpoint.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/*path", h.handleGrant)
}

func (h *Handler) handleGrant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var ctx, cancel = context.WithTimeout(c.Request.Context(), h.checkoutTimeout)
	defer cancel()

	var conn, err = h.pool.Checkout(ctx)
	if err != nil {
		log.WithError(err).Warn("adapter: checkout failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend unavailable"})
		return
	}

	var healthy = true
	defer func() { h.pool.Return(conn, healthy) }()

	var bw = bufio.NewWriter(conn)
	var wireReq = wire.GrantRequest{ClassTag: req.Class, Amount: req.Amount, HolderName: req.Name}
	if err = wire.WriteRequest(bw, wireReq); err != nil {
		healthy = false
		log.WithError(err).Warn("adapter: write to engine connection failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend unavailable"})
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(h.replyTimeout))
	var reply, rerr = wire.ReadReply(conn)
	_ = conn.SetReadDeadline(time.Time{})
	if rerr != nil {
		healthy = false
		log.WithError(rerr).Warn("adapter: read from engine connection failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend unavailable"})
		return
	}

	switch reply.Status {
	case wire.ReasonOK:
		// Spec §3: the certificate identifier is formed only at the HTTP
		// boundary, from the engine's class tag and certificate number —
		// the engine itself never constructs or knows this string.
		var id = req.Class + "-" + strconv.FormatUint(reply.CertificateNumber, 10)
		c.JSON(http.StatusOK, gin.H{"id": id, "name": req.Name, "amount": req.Amount, "class": req.Class})
	case wire.ReasonUnknownClass, wire.ReasonInvalidAmount, wire.ReasonMalformed:
		c.JSON(http.StatusBadRequest, gin.H{"error": reply.Status.String()})
	case wire.ReasonInsufficientShares:
		c.JSON(http.StatusForbidden, gin.H{"error": reply.Status.String()})
	default:
		healthy = false
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unexpected engine reply"})
	}
}

// NewEngine builds a gin.Engine with the adapter's route(s) registered and
// sane production defaults (no debug-mode request logging to stdout).
func NewEngine(p *pool.Pool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	var r = gin.New()
	r.Use(gin.Recovery())
	New(p).Register(r)
	return r
}
