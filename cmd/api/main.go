package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Heyykrishnna/elysiardev-sub001/internal/attendance"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/auth"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/config"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/geosession"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/httpmiddleware"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/qrcodes"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/queue"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/store"
)

func main() {
	cfg := config.Load()

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
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "elysiar:attendance")
	}

	attRepo := attendance.NewRepository(db.Client)
	grantRepo := qrcodes.NewRepository(db.Client)
	sessRepo := geosession.NewRepository(db.Client)

	grants := qrcodes.NewService(grantRepo)
	sessions := geosession.NewService(sessRepo, cfg.SessionTTL)
	verifier := attendance.NewService(attRepo, attRepo, attRepo, grantRepo, sessRepo, q)

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
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Role   string `json:"role" binding:"required,oneof=owner teacher student"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.UserID, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = attRepo.SaveRefreshToken(c.Request.Context(), req.UserID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Verifier endpoint — public: scanners authenticate by the token they
	// scanned, not by a session.
	r.POST("/v1/attendance/mark", func(c *gin.Context) {
		var req struct {
			QRToken     string  `json:"qrToken" binding:"required"`
			StudentID   string  `json:"studentId" binding:"required"`
			StudentName string  `json:"studentName"`
			StudentLat  float64 `json:"studentLat"`
			StudentLng  float64 `json:"studentLng"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rec, err := verifier.Mark(c.Request.Context(), attendance.MarkRequest{
			QRToken:     req.QRToken,
			StudentID:   req.StudentID,
			StudentName: req.StudentName,
			StudentLat:  req.StudentLat,
			StudentLng:  req.StudentLng,
		})
		if err != nil {
			status := http.StatusInternalServerError
			if attendance.IsValidation(err) {
				status = http.StatusBadRequest
			}
			log.Printf("mark attendance failed: %v", err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "attendance": rec})
	})

	authGroup := r.Group("/v1", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/qr", func(c *gin.Context) {
		var req struct {
			ClassName       string `json:"class_name" binding:"required"`
			Date            string `json:"date" binding:"required"`
			DurationMinutes int    `json:"duration_minutes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims := auth.ClaimsFrom(c)
		grant, err := grants.Create(c.Request.Context(), claims.Subject, req.ClassName, req.Date, req.DurationMinutes)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, grant)
	})

	authGroup.PATCH("/qr/:id", func(c *gin.Context) {
		var req struct {
			IsActive *bool `json:"is_active" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims := auth.ClaimsFrom(c)
		if err := grants.Toggle(c.Request.Context(), c.Param("id"), claims.Subject, *req.IsActive); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "is_active": *req.IsActive})
	})

	authGroup.GET("/qr", func(c *gin.Context) {
		claims := auth.ClaimsFrom(c)
		limit := 50
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		list, err := grants.List(c.Request.Context(), claims.Subject, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"qr_codes": list})
	})

	authGroup.GET("/qr/:id/image", func(c *gin.Context) {
		grant, err := grants.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if grant == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "grant not found"})
			return
		}
		size := 256
		if v := c.Query("size"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				size = parsed
			}
		}
		img, err := qrcodes.Render(*grant, size)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
			return
		}
		c.Data(http.StatusOK, "image/png", img)
	})

	authGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			ClassID      string  `json:"class_id" binding:"required"`
			Latitude     float64 `json:"latitude"`
			Longitude    float64 `json:"longitude"`
			RadiusMeters float64 `json:"radius_meters"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims := auth.ClaimsFrom(c)
		sess, err := sessions.Create(c.Request.Context(), claims.Subject, req.ClassID, req.Latitude, req.Longitude, req.RadiusMeters)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	authGroup.DELETE("/sessions/:id", func(c *gin.Context) {
		claims := auth.ClaimsFrom(c)
		if err := sessions.Close(c.Request.Context(), c.Param("id"), claims.Subject); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.PATCH("/attendance/:id/status", func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required,oneof=approved pending rejected"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := attRepo.UpdateRecordStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
	})

	authGroup.GET("/attendance", func(c *gin.Context) {
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		records, err := attRepo.ListRecords(c.Request.Context(), c.Query("student_id"), c.Query("class"), c.Query("date"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendance": records})
	})

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

// CORS middleware; scanners run in browsers on arbitrary origins.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
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
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
