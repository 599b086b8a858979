package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"studybuddy/internal/ai"
	appsvc "studybuddy/internal/app"
	"studybuddy/internal/bootstrap"
	"studybuddy/internal/platform/rabbitmq"
	"studybuddy/internal/registry"
	"studybuddy/internal/repository"
	"studybuddy/internal/transport/http/handler"
	"studybuddy/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	fileRepo := repository.NewStudyFileRepository(app.MySQL)
	collectionRepo := repository.NewCollectionRepository(app.MySQL)
	assistantRepo := repository.NewAssistantRepository(app.MySQL)
	sessionRepo := repository.NewSessionRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)

	reg := registry.New(fileRepo, collectionRepo, assistantRepo)
	gateway := ai.NewOpenAIGateway(ai.BackendConfig{
		BaseURL: app.Config.Backend.BaseURL,
		APIKey:  app.Config.Backend.APIKey,
		Model:   app.Config.Backend.Model,
	})
	publisher := rabbitmq.NewActivityPublisher(app.MQConn, app.Config.RabbitMQ.SessionActivityQueue)

	maxRetries := app.Config.Backend.MaxRetries
	retryBackoff := time.Duration(app.Config.Backend.RetryBackoffMS) * time.Millisecond

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	materialService := appsvc.NewMaterialService(reg, gateway, fileRepo, collectionRepo, maxRetries, retryBackoff)
	studyService := appsvc.NewStudyService(sessionRepo, messageRepo, collectionRepo, gateway, app.HistoryCache, maxRetries, retryBackoff)
	turnService := appsvc.NewTurnService(
		sessionRepo, messageRepo, collectionRepo, assistantRepo, reg, gateway,
		app.HistoryCache, publisher,
		time.Duration(app.Config.Backend.PollIntervalMS)*time.Millisecond,
		time.Duration(app.Config.Backend.PollBudgetSeconds)*time.Second,
		maxRetries, retryBackoff,
	)

	authHandler := handler.NewAuthHandler(authService)
	studyHandler := handler.NewStudyHandler(materialService, studyService, turnService)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	studyGroup := v1.Group("/study")
	studyGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	studyGroup.POST("/materials", studyHandler.UploadMaterials)
	studyGroup.GET("/files", studyHandler.ListFiles)
	studyGroup.GET("/collections", studyHandler.ListCollections)
	studyGroup.POST("/sessions", studyHandler.CreateSession)
	studyGroup.GET("/sessions", studyHandler.ListSessions)
	studyGroup.DELETE("/sessions/:id", studyHandler.DeleteSession)
	studyGroup.GET("/history", studyHandler.GetHistory)
	studyGroup.POST("/turns", studyHandler.SubmitTurn)

	return router
}
