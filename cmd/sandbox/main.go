package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sandbox Orange API: a standalone stand-in for the carrier during local
// development. It issues short-lived bearer tokens, accepts outbound SMS
// submissions and serves a contracts listing, with a configurable rejection
// rate to exercise the gateway's failure paths.

type MockCarrier struct {
	rejectRate float64
	minDelay   time.Duration
	maxDelay   time.Duration
	rng        *rand.Rand

	mu     sync.Mutex
	tokens map[string]time.Time

	submitted int64
}

func NewMockCarrier(rejectRate float64, minDelay, maxDelay time.Duration) *MockCarrier {
	return &MockCarrier{
		rejectRate: rejectRate,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		tokens:     make(map[string]time.Time),
	}
}

func (m *MockCarrier) issueToken() (string, int64) {
	token := uuid.NewString()
	ttl := time.Hour
	m.mu.Lock()
	m.tokens[token] = time.Now().Add(ttl)
	m.mu.Unlock()
	return token, int64(ttl.Seconds())
}

func (m *MockCarrier) validToken(header string) bool {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.tokens[header[len(prefix):]]
	return ok && time.Now().Before(expiry)
}

func (m *MockCarrier) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockCarrier) shouldReject() bool {
	return m.rng.Float64() < m.rejectRate
}

type Handler struct {
	carrier *MockCarrier
}

func NewHandler(carrier *MockCarrier) *Handler {
	return &Handler{carrier: carrier}
}

// Token implements the client-credentials exchange.
func (h *Handler) Token(c *gin.Context) {
	if c.PostForm("grant_type") != "client_credentials" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_grant",
			"error_description": "grant_type must be client_credentials",
		})
		return
	}
	token, expiresIn := h.carrier.issueToken()
	log.Info().Str("token", token[:8]).Msg("token issued")
	c.JSON(http.StatusOK, gin.H{
		"token_type":   "Bearer",
		"access_token": token,
		"expires_in":   expiresIn,
	})
}

type outboundRequest struct {
	OutboundSMSMessageRequest struct {
		Address                string `json:"address" binding:"required"`
		OutboundSMSTextMessage struct {
			Message string `json:"message"`
		} `json:"outboundSMSTextMessage"`
		SenderAddress string `json:"senderAddress" binding:"required"`
		SenderName    string `json:"senderName"`
	} `json:"outboundSMSMessageRequest" binding:"required"`
}

// Submit accepts an outbound SMS and answers 201 with a resourceURL, or a
// requestError envelope when the roll of the dice rejects it.
func (h *Handler) Submit(c *gin.Context) {
	if !h.carrier.validToken(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"requestError": gin.H{
				"policyException": gin.H{
					"messageId": "POL0001",
					"text":      "A policy error occurred. Error code is %1",
					"variables": []string{"invalid or expired access token"},
				},
			},
		})
		return
	}

	var req outboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"requestError": gin.H{
				"serviceException": gin.H{
					"messageId": "SVC0002",
					"text":      "Invalid input value for message part %1",
					"variables": []string{err.Error()},
				},
			},
		})
		return
	}

	time.Sleep(h.carrier.randomDelay())

	if h.carrier.shouldReject() {
		log.Warn().Str("address", req.OutboundSMSMessageRequest.Address).Msg("submission rejected")
		c.JSON(http.StatusForbidden, gin.H{
			"code":        60,
			"message":     "Policy Error",
			"description": "The authorization does not allow sending to this recipient",
		})
		return
	}

	ref := atomic.AddInt64(&h.carrier.submitted, 1)
	sender := c.Param("sender")
	resourceURL := fmt.Sprintf("https://api.orange.com/smsmessaging/v1/outbound/%s/requests/%d", sender, ref)

	log.Info().
		Str("address", req.OutboundSMSMessageRequest.Address).
		Int64("reference", ref).
		Msg("SMS accepted")

	c.JSON(http.StatusCreated, gin.H{
		"outboundSMSMessageRequest": gin.H{
			"address":                req.OutboundSMSMessageRequest.Address,
			"senderAddress":          req.OutboundSMSMessageRequest.SenderAddress,
			"senderName":             req.OutboundSMSMessageRequest.SenderName,
			"outboundSMSTextMessage": gin.H{"message": req.OutboundSMSMessageRequest.OutboundSMSTextMessage.Message},
			"resourceURL":            resourceURL,
		},
	})
}

// Contracts serves the SMS bundle listing backing the balance query.
func (h *Handler) Contracts(c *gin.Context) {
	if !h.carrier.validToken(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_token",
			"error_description": "the access token is invalid or has expired",
		})
		return
	}

	country := getEnv("COUNTRY", "CIV")
	c.JSON(http.StatusOK, gin.H{
		"partnerContracts": gin.H{
			"contracts": []gin.H{
				{
					"service": "SMS_OCB",
					"serviceContracts": []gin.H{
						{
							"country":        country,
							"availableUnits": 2500,
							"expires":        time.Now().AddDate(0, 3, 0).Format(time.RFC3339),
						},
						{
							"country":        country,
							"availableUnits": 140,
							"expires":        time.Now().AddDate(0, 1, 0).Format(time.RFC3339),
						},
					},
				},
			},
		},
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
			Msg("request processed")
	})

	router.POST("/oauth/v3/token", handler.Token)
	router.POST("/smsmessaging/v1/outbound/:sender/requests", handler.Submit)
	router.GET("/sms/admin/v1/contracts", handler.Contracts)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8090")
	rejectRate := getEnvFloat("REJECT_RATE", 0)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 300*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("reject_rate", rejectRate).
		Msg("starting sandbox carrier API")

	carrier := NewMockCarrier(rejectRate, minDelay, maxDelay)
	router := SetupRouter(NewHandler(carrier))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
