package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/reelcrew/credits/pkg/credits"
	"go.uber.org/zap"
)

// Run serves the credits REST surface until ctx is cancelled.
func Run(ctx context.Context, cfg Config, service *credits.Service, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	router := NewRouter(cfg, service, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("credits api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter assembles the gin engine with auth, CORS, and the role policy.
func NewRouter(cfg Config, service *credits.Service, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{
		logger:  logger,
		service: service,
	}

	api := router.Group("/api/v1")
	api.Use(authMiddleware([]byte(cfg.JWTSigningKey), cfg.JWTIssuer))

	freelancer := api.Group("/credits", requireRoles(freelancerRoles...))
	freelancer.GET("/balance", handler.handleBalance)
	freelancer.GET("/packages", handler.handlePackages)
	freelancer.POST("/initiate-purchase", handler.handleInitiatePurchase)
	freelancer.POST("/verify-payment", handler.handleVerifyPayment)
	freelancer.GET("/history", handler.handleHistory)
	freelancer.GET("/refunds", handler.handleRefunds)
	freelancer.GET("/refund-eligibility/:applicationId", handler.handleRefundEligibility)
	freelancer.POST("/refund/:applicationId", handler.handleIssueRefund)

	admin := api.Group("/admin/credits", requireRoles(adminRoles...))
	admin.GET("/transactions", handler.handleAdminTransactions)
	admin.GET("/user/:userId", handler.handleAdminUserSnapshot)
	admin.POST("/refund-project/:projectId", handler.handleAdminRefundProject)
	admin.POST("/adjust", handler.handleAdminAdjust)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *credits.Service
}
