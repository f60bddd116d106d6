package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/bizmatters/telephony-correlator/internal/auth"
	"github.com/bizmatters/telephony-correlator/internal/config"
	"github.com/bizmatters/telephony-correlator/internal/correlation"
	"github.com/bizmatters/telephony-correlator/internal/events"
	"github.com/bizmatters/telephony-correlator/internal/gateway"
	"github.com/bizmatters/telephony-correlator/internal/mcptools"
	"github.com/bizmatters/telephony-correlator/internal/metrics"
	"github.com/bizmatters/telephony-correlator/internal/telephony"
	"github.com/bizmatters/telephony-correlator/internal/tracking"
	"github.com/bizmatters/telephony-correlator/internal/vonage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize OpenTelemetry. With stdio MCP enabled, stdout belongs to
	// the JSON-RPC stream, so traces go to stderr instead.
	if err := initTracer(cfg.MCPStdio); err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}

	callMetrics, err := metrics.NewCallMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	// Core components: event store, tracker registry, correlator.
	store := events.NewStore()
	registry := tracking.NewRegistry()
	correlator := correlation.New(store, registry)
	hub := correlation.NewHub()

	// Vonage client; the JWT manager is only required for the Voice API.
	var tokens vonage.TokenSource
	if cfg.VoiceConfigured() {
		jwtManager, err := auth.NewJWTManager(cfg.VonageApplicationID, cfg.VonagePrivateKeyPath)
		if err != nil {
			log.Fatalf("Failed to initialize JWT manager: %v", err)
		}
		tokens = jwtManager
	} else {
		log.Println("WARN: Vonage Voice API credentials are not fully configured; voice calls will be rejected")
	}
	client := vonage.NewClient(cfg.VonageVoiceURL, cfg.VonageSMSURL, cfg.VonageAPIKey, cfg.VonageAPISecret, cfg.CallbackBaseURL, tokens)

	service := telephony.NewService(cfg, client, registry, correlator, hub, callMetrics)

	// Background reaper bounds registry growth.
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	reaper := tracking.NewReaper(registry, cfg.TrackerRetention, cfg.ReaperInterval)
	reaper.OnEvict(func(count int) {
		callMetrics.RecordTrackersEvicted(context.Background(), count)
	})
	go reaper.Run(reaperCtx)

	// Gateway layer
	handler := gateway.NewHandler(store, service, callMetrics)
	progressStream := gateway.NewProgressStream(hub, registry)

	// Setup Gin router. Gin's request log must stay off stdout when the
	// MCP transport owns it.
	if cfg.MCPStdio {
		gin.DefaultWriter = os.Stderr
	}
	router := gin.Default()
	router.Use(structuredLoggingMiddleware())

	router.GET("/", handler.Health)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Callback/ingress surface consumed by the provider.
	router.POST("/event", handler.ReceiveEvent)
	router.GET("/event", handler.ListSpeechEvents)
	router.GET("/events", handler.ListEvents)
	router.GET("/events/:id", handler.GetEvent)
	router.DELETE("/events", handler.ClearEvents)

	// Tracker surface.
	router.GET("/calls", handler.ListCalls)
	router.GET("/calls/:uuid", handler.GetCall)
	router.GET("/ws/calls/:uuid", progressStream.StreamCall)

	// MCP tool surface over stdio, next to the HTTP server.
	if cfg.MCPStdio {
		mcpServer := mcptools.NewServer(service)
		go func() {
			if err := mcpServer.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
				log.Printf("MCP server stopped: %v", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  65 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting Telephony Callback Server on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// traceWriter picks the stream for exported spans. Stdout carries the MCP
// JSON-RPC frames when stdio serving is enabled, so spans must not share it.
func traceWriter(stdioMCP bool) io.Writer {
	if stdioMCP {
		return os.Stderr
	}
	return os.Stdout
}

// initTracer initializes OpenTelemetry tracing
func initTracer(stdioMCP bool) error {
	exporter, err := stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithWriter(traceWriter(stdioMCP)),
	)
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)

	return nil
}

// structuredLoggingMiddleware provides structured JSON logging for all requests
func structuredLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := uuid.New().String()
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		latency := time.Since(start)

		logEntry := map[string]interface{}{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}

		if len(c.Errors) > 0 {
			logEntry["errors"] = c.Errors.String()
		}

		logJSON, _ := json.Marshal(logEntry)
		log.Println(string(logJSON))
	}
}
