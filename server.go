package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"bitbucket.org/mmdatafocus/audits_backend/middlewares"
	"bitbucket.org/mmdatafocus/audits_backend/models"
	"bitbucket.org/mmdatafocus/audits_backend/utils"
	"bitbucket.org/mmdatafocus/audits_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func resourceIdParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

func writeModelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecalcInProgress):
		// Retryable: another recalculation holds the per-audit lock.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	}
}

func createFrameworkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewAuditFramework
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		framework, err := models.CreateAuditFramework(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, framework)
	}
}

func getFrameworkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resourceIdParam(c, "id")
		if !ok {
			return
		}
		framework, err := models.GetAuditFramework(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, framework)
	}
}

func createStandardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewStandard
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		standard, err := models.CreateStandard(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, standard)
	}
}

func getStandardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resourceIdParam(c, "id")
		if !ok {
			return
		}
		standard, err := models.GetStandard(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, standard)
	}
}

func listStandardsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		frameworkId, err := strconv.Atoi(c.Query("framework_id"))
		if err != nil || frameworkId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "framework_id query param must be a positive integer"})
			return
		}
		businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
		standards, err := models.ListStandards(c.Request.Context(), businessId, frameworkId)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, standards)
	}
}

func createMaturityLevelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewMaturityLevel
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		level, err := models.CreateMaturityLevel(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, level)
	}
}

func createAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewAudit
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		audit, err := models.CreateAudit(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, audit)
	}
}

func getAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resourceIdParam(c, "id")
		if !ok {
			return
		}
		audit, err := models.GetAudit(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, audit)
	}
}

func updateAuditStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resourceIdParam(c, "id")
		if !ok {
			return
		}
		var input models.NewAuditStatus
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		audit, err := models.UpdateAuditStatus(c.Request.Context(), id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, audit)
	}
}

func submitEvaluationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewEvaluation
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		evaluation, err := models.SubmitEvaluation(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, evaluation)
	}
}

func listEvaluationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		auditId, ok := resourceIdParam(c, "id")
		if !ok {
			return
		}
		evaluations, err := models.ListEvaluations(c.Request.Context(), auditId)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, evaluations)
	}
}

func setWeightsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		auditId, ok := resourceIdParam(c, "id")
		if !ok {
			return
		}
		var input struct {
			Weights []*models.WeightEntry `json:"weights" binding:"required,min=1,dive"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		weights, err := models.SetWeights(c.Request.Context(), auditId, input.Weights)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, weights)
	}
}

func setManualScoreHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		auditId, ok := resourceIdParam(c, "id")
		if !ok {
			return
		}
		standardId, ok := resourceIdParam(c, "standardId")
		if !ok {
			return
		}
		var input models.NewManualScore
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		weight, err := models.SetManualScore(c.Request.Context(), auditId, standardId, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, weight)
	}
}

func recalculateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		auditId, ok := resourceIdParam(c, "id")
		if !ok {
			return
		}
		audit, err := models.RecalculateAuditScores(c.Request.Context(), auditId)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, audit)
	}
}

func sectionProgressHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		auditId, ok := resourceIdParam(c, "id")
		if !ok {
			return
		}
		progress, err := models.GetSectionProgress(c.Request.Context(), auditId)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, progress)
	}
}

// ops tooling: outbox backlog by publish status
func outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := models.CountScoreRecordsByStatus(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, counts)
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func registerRoutes(r *gin.Engine) {
	r.POST("/frameworks", createFrameworkHandler())
	r.GET("/frameworks/:id", getFrameworkHandler())
	r.POST("/standards", createStandardHandler())
	r.GET("/standards/:id", getStandardHandler())
	r.GET("/standards", listStandardsHandler())
	r.POST("/maturity-levels", createMaturityLevelHandler())

	r.POST("/audits", createAuditHandler())
	r.GET("/audits/:id", getAuditHandler())
	r.PUT("/audits/:id/status", updateAuditStatusHandler())
	r.POST("/evaluations", submitEvaluationHandler())
	r.GET("/audits/:id/evaluations", listEvaluationsHandler())
	r.PUT("/audits/:id/weights", setWeightsHandler())
	r.PUT("/audits/:id/sections/:standardId/manual-score", setManualScoreHandler())
	r.POST("/audits/:id/recalculate", recalculateHandler())
	r.GET("/audits/:id/progress", sectionProgressHandler())

	r.GET("/internal/ops/outbox/status", outboxStatusHandler())
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("business-id", "user-name", "x-correlation-id", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	registerRoutes(r)
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow disabling migrations
	// on startup and running them as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<attempt)
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelDispatcher()

	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
