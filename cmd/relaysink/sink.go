package main

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RelayedSMS mirrors the body the forwarder posts.
type RelayedSMS struct {
	MessageID string    `json:"messageId" binding:"required"`
	DeviceID  string    `json:"deviceId" binding:"required"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content" binding:"required"`
	Timestamp time.Time `json:"timestamp"`
	IsOTP     bool      `json:"isOTP"`
	OTP       string    `json:"otp,omitempty"`
}

type Receipt struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	ReceivedAt time.Time  `json:"receivedAt"`
	SMS        RelayedSMS `json:"sms"`
}

type SinkConfig struct {
	Port        string        `env:"PORT,default=4000"`
	AuthToken   string        `env:"RELAY_SINK_TOKEN"`
	FailureRate float64       `env:"FAILURE_RATE,default=0"`
	MinDelay    time.Duration `env:"MIN_DELAY,default=0s"`
	MaxDelay    time.Duration `env:"MAX_DELAY,default=0s"`
	Keep        int           `env:"KEEP,default=200"`
}

// Sink accepts relayed SMS, optionally failing or stalling some of them,
// and keeps the most recent receipts in memory.
type Sink struct {
	cfg SinkConfig
	log zerolog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	received []Receipt
}

func NewSink(cfg SinkConfig, log zerolog.Logger) *Sink {
	if cfg.Keep <= 0 {
		cfg.Keep = 200
	}
	return &Sink{
		cfg: cfg,
		log: log,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Sink) delay() time.Duration {
	if s.cfg.MaxDelay <= s.cfg.MinDelay {
		return s.cfg.MinDelay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MinDelay + time.Duration(s.rng.Int63n(int64(s.cfg.MaxDelay-s.cfg.MinDelay)))
}

func (s *Sink) shouldFail() bool {
	if s.cfg.FailureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.cfg.FailureRate
}

func (s *Sink) authorized(c *gin.Context) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ") == s.cfg.AuthToken
}

func (s *Sink) Relay(c *gin.Context) {
	if !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid relay token"})
		return
	}

	var sms RelayedSMS
	if err := c.ShouldBindJSON(&sms); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	if d := s.delay(); d > 0 {
		time.Sleep(d)
	}
	if s.shouldFail() {
		s.log.Warn().Str("message_id", sms.MessageID).Msg("simulated relay failure")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "simulated failure"})
		return
	}

	r := Receipt{ID: uuid.NewString(), Status: "accepted", ReceivedAt: time.Now().UTC(), SMS: sms}
	s.mu.Lock()
	if len(s.received) == s.cfg.Keep {
		s.received = s.received[1:]
	}
	s.received = append(s.received, r)
	s.mu.Unlock()

	s.log.Info().
		Str("message_id", sms.MessageID).
		Str("device_id", sms.DeviceID).
		Str("sender", sms.Sender).
		Bool("otp", sms.IsOTP).
		Str("code", sms.OTP).
		Msg("sms relayed")

	c.JSON(http.StatusAccepted, gin.H{"id": r.ID, "status": r.Status})
}

// Received lists receipts newest first.
func (s *Sink) Received(c *gin.Context) {
	s.mu.Lock()
	out := make([]Receipt, len(s.received))
	for i, r := range s.received {
		out[len(s.received)-1-i] = r
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"count": len(out), "receipts": out})
}

func (s *Sink) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
}

func SetupRouter(s *Sink) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})

	router.POST("/relay", s.Relay)
	router.GET("/relay/received", s.Received)
	router.GET("/health", s.Health)
	return router
}
