package main

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SendMailRequest mirrors the body the notifier posts.
type SendMailRequest struct {
	From    string `json:"from" binding:"required,email"`
	To      string `json:"to" binding:"required,email"`
	Subject string `json:"subject" binding:"required"`
	Body    string `json:"body"`
}

type SendMailResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type StoredMail struct {
	SendMailResponse
	SendMailRequest
}

type HealthResponse struct {
	Status     string    `json:"status"`
	RelayID    string    `json:"relay_id"`
	Timestamp  time.Time `json:"timestamp"`
	AcceptRate float64   `json:"accept_rate"`
	Outbox     int       `json:"outbox"`
}

// Relay accepts mails and keeps the latest ones in memory instead of
// delivering them. AcceptRate below 1 makes it fail on purpose so the
// failover of the notifier can be exercised.
type Relay struct {
	mu         sync.Mutex
	acceptRate float64
	outbox     []StoredMail
	maxOutbox  int
	relayID    string
	rng        *rand.Rand
}

func NewRelay(acceptRate float64, maxOutbox int) *Relay {
	return &Relay{
		acceptRate: acceptRate,
		maxOutbox:  maxOutbox,
		relayID:    "RELAY_" + uuid.New().String()[:8],
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Relay) accept() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() < r.acceptRate
}

func (r *Relay) store(m StoredMail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outbox) >= r.maxOutbox {
		r.outbox = r.outbox[1:]
	}
	r.outbox = append(r.outbox, m)
}

func (r *Relay) snapshot() []StoredMail {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StoredMail, len(r.outbox))
	copy(out, r.outbox)
	return out
}

type Handler struct {
	relay *Relay
}

func NewHandler(relay *Relay) *Handler {
	return &Handler{relay: relay}
}

func (h *Handler) SendMail(c *gin.Context) {
	var req SendMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if !h.relay.accept() {
		log.Warn().Str("to", req.To).Str("subject", req.Subject).Msg("Mail rejected (simulated outage)")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay temporarily unavailable"})
		return
	}

	resp := SendMailResponse{
		ID:         uuid.NewString(),
		Status:     "queued",
		AcceptedAt: time.Now().UTC(),
	}
	h.relay.store(StoredMail{SendMailResponse: resp, SendMailRequest: req})

	log.Info().
		Str("id", resp.ID).
		Str("from", req.From).
		Str("to", req.To).
		Str("subject", req.Subject).
		Msg("Mail accepted")

	c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) Outbox(c *gin.Context) {
	c.JSON(http.StatusOK, h.relay.snapshot())
}

func (h *Handler) HealthCheck(c *gin.Context) {
	h.relay.mu.Lock()
	rate := h.relay.acceptRate
	h.relay.mu.Unlock()

	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		RelayID:    h.relay.relayID,
		Timestamp:  time.Now(),
		AcceptRate: rate,
		Outbox:     len(h.relay.snapshot()),
	})
}

// UpdateConfig changes the accept rate at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		AcceptRate *float64 `json:"accept_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	h.relay.mu.Lock()
	if config.AcceptRate != nil && *config.AcceptRate >= 0 && *config.AcceptRate <= 1.0 {
		h.relay.acceptRate = *config.AcceptRate
		log.Info().Float64("rate", *config.AcceptRate).Msg("Updated accept rate")
	}
	rate := h.relay.acceptRate
	h.relay.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":     "Configuration updated",
		"accept_rate": rate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/mail/send", handler.SendMail)
		v1.GET("/mail/outbox", handler.Outbox)
		v1.PUT("/config", handler.UpdateConfig)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}
