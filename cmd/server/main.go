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

	"classtrack/internal/alerts"
	"classtrack/internal/attendance"
	"classtrack/internal/camera"
	"classtrack/internal/config"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/notify"
	"classtrack/internal/recognizer"
	"classtrack/internal/schedule"
	"classtrack/internal/store"
	"classtrack/internal/tracker"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := attendance.NewRepository(db.Client)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	var redisClient *store.Redis
	if cfg.RedisAddr != "" {
		redisClient = store.NewRedis(cfg.RedisAddr)
	}

	buf := alerts.NewBuffer(cfg.AlertCapacity)
	if redisClient != nil && cfg.RedisAlerts {
		buf.SetSink(alerts.NewRedisSink(redisClient.Client, "classtrack:alerts", cfg.AlertCapacity))
	}

	recon := schedule.NewReconciler(repo)
	trk := tracker.New(repo, recon, buf)

	// Sessions left open by a previous process are reloaded before any
	// camera starts, so the watchdog can close them.
	if err := trk.Resume(ctx); err != nil {
		log.Printf("warning: session resume failed: %v", err)
	}

	watchdog := tracker.NewWatchdog(trk, cfg.WatchdogPeriod, cfg.InactivityTimeout)
	go watchdog.Run(ctx)

	face := recognizer.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("warning: face service not available: %v", err)
		} else {
			log.Println("face service connected")
		}
	}

	cameras := camera.NewManager(camera.NewSource, face, trk, camera.Policy{
		ProcessEvery:     cfg.ProcessEvery,
		DownsampleFactor: cfg.DownsampleFactor,
		FrameInterval:    cfg.FrameInterval,
		ReadBackoff:      cfg.ReadBackoff,
	})
	defer cameras.StopAll()

	if cfg.CameraManifest != "" {
		specs, err := config.LoadCameraManifest(cfg.CameraManifest)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			if err := cameras.Start(ctx, spec.ID, spec.Source); err != nil {
				log.Printf("warning: boot camera %s not started: %v", spec.ID, err)
			}
		}
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, buf, 10*time.Second)
		if err != nil {
			log.Printf("warning: telegram notifier disabled: %v", err)
		} else {
			go tg.Run(ctx)
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient == nil || redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	api := r.Group("/api", httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	api.GET("/sessions", func(c *gin.Context) {
		now := time.Now()
		type sessionView struct {
			tracker.SessionInfo
			TimePresent string `json:"time_present"`
		}
		active := trk.Active()
		out := make([]sessionView, 0, len(active))
		for _, s := range active {
			out = append(out, sessionView{
				SessionInfo: s,
				TimePresent: strconv.FormatFloat(now.Sub(s.EntryTime).Minutes(), 'f', 1, 64) + " min",
			})
		}
		c.JSON(http.StatusOK, out)
	})

	api.GET("/cameras", func(c *gin.Context) {
		c.JSON(http.StatusOK, cameras.List())
	})

	api.POST("/cameras", func(c *gin.Context) {
		var req struct {
			CameraID  string `json:"camera_id" binding:"required"`
			CameraURL string `json:"camera_url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := cameras.Start(ctx, req.CameraID, req.CameraURL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "camera " + req.CameraID + " started", "camera_id": req.CameraID})
	})

	api.DELETE("/cameras/:id", func(c *gin.Context) {
		if err := cameras.Stop(c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "camera " + c.Param("id") + " stopped"})
	})

	api.GET("/alerts", func(c *gin.Context) {
		limit := 20
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		c.JSON(http.StatusOK, buf.Peek(limit))
	})

	api.POST("/alerts/clear", func(c *gin.Context) {
		buf.Clear()
		c.JSON(http.StatusOK, gin.H{"message": "alerts cleared"})
	})

	api.GET("/status", func(c *gin.Context) {
		stats, err := repo.Counts(c.Request.Context(), time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		camList := cameras.List()
		ids := make([]string, 0, len(camList))
		for _, cam := range camList {
			ids = append(ids, cam.ID)
		}
		c.JSON(http.StatusOK, gin.H{
			"attendance_records":    stats.TotalRecords,
			"recent_attendance_24h": stats.Recent24h,
			"open_intervals":        stats.OpenIntervals,
			"slot_records":          stats.SlotRecords,
			"active_sessions":       len(trk.Active()),
			"active_cameras":        len(camList),
			"camera_list":           ids,
			"alerts_buffered":       buf.Len(),
		})
	})

	// The MJPEG feed sits outside the rate limiter; it is one long request.
	r.GET("/api/video_feed/:id", func(c *gin.Context) {
		id := c.Param("id")
		if !cameras.Active(id) {
			c.String(http.StatusNotFound, "camera not active")
			return
		}
		streamFrames(c, cameras, id)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the response open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	// Stop ingest and the watchdog first so no write is interrupted
	// mid-critical-section, then drain HTTP.
	cancel()
	cameras.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// streamFrames writes an MJPEG multipart response until the client leaves
// or the camera stops.
func streamFrames(c *gin.Context, cameras *camera.Manager, id string) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
		if !cameras.Active(id) {
			return
		}
		frame, ok := cameras.Frame(id)
		if !ok {
			continue
		}
		if _, err := c.Writer.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			return
		}
		if _, err := c.Writer.Write(frame); err != nil {
			return
		}
		if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// CORS middleware for browser dashboards.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
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
