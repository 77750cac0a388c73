package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/config"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/metrics"
	"campusattend/internal/roster"
	"campusattend/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(db.Client); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	attRepo := attendance.NewRepository(db.Client)
	registry := roster.NewRepository(db.Client)
	svc := attendance.NewService(attRepo, registry, redisClient, attendance.Options{
		TokenTTL:        cfg.TokenTTL,
		LateThreshold:   cfg.LateThreshold,
		DefaultDuration: cfg.DefaultDuration,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	v1 := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer))

	// Teacher surface: rotation display, live view, corrections, finalize.
	teacher := v1.Group("", auth.RequireRole(auth.RoleTeacher))

	teacher.POST("/assignments/:id/rotate", func(c *gin.Context) {
		caller := auth.CallerFrom(c)
		issue, err := svc.Rotate(c.Request.Context(), caller.Subject, c.Param("id"), time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		metrics.Rotations.Inc()
		c.JSON(http.StatusOK, gin.H{"token": issue.Token, "expires_at": issue.ExpiresAt})
	})

	teacher.GET("/assignments/:id/token", func(c *gin.Context) {
		caller := auth.CallerFrom(c)
		issue, err := svc.CurrentToken(c.Request.Context(), caller.Subject, c.Param("id"), time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		if issue == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no live token", "kind": "token_invalid"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": issue.Token, "expires_at": issue.ExpiresAt})
	})

	teacher.GET("/assignments/:id/live", func(c *gin.Context) {
		caller := auth.CallerFrom(c)
		date, ok := dateParam(c, c.Query("date"))
		if !ok {
			return
		}
		live, err := svc.LiveStatus(c.Request.Context(), caller.Subject, c.Param("id"), date)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, live)
	})

	teacher.GET("/assignments/:id/history", func(c *gin.Context) {
		caller := auth.CallerFrom(c)
		from, ok := dateParam(c, c.Query("from"))
		if !ok {
			return
		}
		to, ok := dateParam(c, c.Query("to"))
		if !ok {
			return
		}
		days, err := svc.History(c.Request.Context(), caller.Subject, c.Param("id"), from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"days": days})
	})

	teacher.POST("/assignments/:id/finalize", func(c *gin.Context) {
		var req struct {
			Date string `json:"date"`
		}
		_ = c.ShouldBindJSON(&req) // body is optional, defaults to today
		date, ok := dateParam(c, req.Date)
		if !ok {
			return
		}
		caller := auth.CallerFrom(c)
		marked, err := svc.Finalize(c.Request.Context(), caller.Subject, c.Param("id"), date, time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		metrics.AutoAbsents.Add(float64(marked))
		c.JSON(http.StatusOK, gin.H{"marked_absent": marked})
	})

	teacher.PUT("/assignments/:id/records/:studentId", func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
			Date   string `json:"date"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, ok := dateParam(c, req.Date)
		if !ok {
			return
		}
		caller := auth.CallerFrom(c)
		err := svc.SetStatus(c.Request.Context(), caller.Subject, c.Param("id"), c.Param("studentId"), attendance.Status(req.Status), date)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": req.Status, "method": attendance.MethodManual})
	})

	teacher.POST("/assignments/:id/records/mark-all", func(c *gin.Context) {
		var req struct {
			MarkAs string `json:"mark_as" binding:"required"`
			Date   string `json:"date"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, ok := dateParam(c, req.Date)
		if !ok {
			return
		}
		caller := auth.CallerFrom(c)
		marked, err := svc.MarkAll(c.Request.Context(), caller.Subject, c.Param("id"), attendance.Status(req.MarkAs), date)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"marked": marked})
	})

	// Student surface: sign-in and self-service views.
	student := v1.Group("", auth.RequireRole(auth.RoleStudent))

	student.POST("/signin", func(c *gin.Context) {
		var req struct {
			Token             string `json:"token" binding:"required"`
			DeviceFingerprint string `json:"device_fingerprint" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		caller := auth.CallerFrom(c)
		rec, err := svc.SignIn(c.Request.Context(), caller.Subject, req.Token, req.DeviceFingerprint, time.Now())
		if err != nil {
			metrics.SignIns.WithLabelValues(errorKind(err)).Inc()
			respondError(c, err)
			return
		}
		metrics.SignIns.WithLabelValues(string(rec.Status)).Inc()
		c.JSON(http.StatusCreated, gin.H{
			"status":       rec.Status,
			"method":       rec.Method,
			"signed_in_at": rec.CreatedAt,
		})
	})

	student.GET("/me/attendance", func(c *gin.Context) {
		from, ok := dateParam(c, c.Query("from"))
		if !ok {
			return
		}
		to, ok := dateParam(c, c.Query("to"))
		if !ok {
			return
		}
		caller := auth.CallerFrom(c)
		records, err := svc.MyAttendance(c.Request.Context(), caller.Subject, from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	student.GET("/me/lectures", func(c *gin.Context) {
		caller := auth.CallerFrom(c)
		lectures, err := svc.MyLectures(c.Request.Context(), caller.Subject, time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lectures": lectures})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// dateParam validates an optional YYYY-MM-DD parameter, defaulting to today.
// On a malformed value it writes the 400 itself and returns ok=false.
func dateParam(c *gin.Context, val string) (string, bool) {
	if val == "" {
		return time.Now().Format("2006-01-02"), true
	}
	if _, err := time.Parse("2006-01-02", val); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return "", false
	}
	return val, true
}

// errorKind maps a sign-in failure to its taxonomy kind for responses and metrics.
func errorKind(err error) string {
	var conflict *attendance.DeviceConflictError
	switch {
	case errors.Is(err, attendance.ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, attendance.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, attendance.ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, attendance.ErrWindowStillOpen):
		return "window_still_open"
	case errors.Is(err, attendance.ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, attendance.ErrAlreadySignedIn):
		return "already_signed_in"
	case errors.As(err, &conflict):
		return "device_already_used"
	case errors.Is(err, attendance.ErrUnknownAssignment):
		return "assignment_not_found"
	case errors.Is(err, attendance.ErrNotAssignmentTeacher):
		return "not_assignment_teacher"
	case errors.Is(err, attendance.ErrBadFingerprint):
		return "bad_fingerprint"
	case errors.Is(err, attendance.ErrInvalidStatus):
		return "invalid_status"
	}
	return "transient_store_error"
}

// respondError writes the structured failure for a domain error. Anything
// outside the taxonomy is treated as a transient storage failure, the one
// kind a client may retry.
func respondError(c *gin.Context, err error) {
	kind := errorKind(err)
	body := gin.H{"error": err.Error(), "kind": kind}

	var conflict *attendance.DeviceConflictError
	if errors.As(err, &conflict) {
		body["conflict_student_id"] = conflict.StudentID
		body["conflict_student_name"] = conflict.StudentName
	}

	status := http.StatusBadRequest
	switch kind {
	case "window_closed", "window_still_open", "already_signed_in", "device_already_used":
		status = http.StatusConflict
	case "not_enrolled", "not_assignment_teacher":
		status = http.StatusForbidden
	case "assignment_not_found":
		status = http.StatusNotFound
	case "transient_store_error":
		status = http.StatusServiceUnavailable
		body["error"] = "storage unavailable, retry shortly"
		log.Printf("store error: %v", err)
	}
	c.JSON(status, body)
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
