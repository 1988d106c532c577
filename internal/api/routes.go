package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"jobhive/internal/api/middleware"
	"jobhive/internal/auth"
	"jobhive/internal/config"
	"jobhive/internal/database"
	"jobhive/internal/llm"
	"jobhive/internal/notify"
	"jobhive/internal/permcache"
	"jobhive/internal/secretbox"
	"jobhive/internal/storage"
)

// Dependencies 汇集路由注册所需的外部依赖。
type Dependencies struct {
	DB            *gorm.DB
	AuthService   *auth.AuthService
	RedisClient   *redis.Client
	AsynqClient   *asynq.Client
	StorageClient *storage.Client
	LLMClient     llm.Generator
	MasterBox     *secretbox.Box
	Logger        *slog.Logger
	Config        *config.Config
}

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	cfg := deps.Config
	scanner := NewClamdScanner(cfg.Clamd.Addr)
	notifier := notify.NewDispatcher(deps.DB, deps.RedisClient, deps.Logger)
	permCache := permcache.New(deps.RedisClient, permcache.DefaultTTL)

	authHandler := NewAuthHandler(
		deps.DB, deps.AuthService, deps.RedisClient, deps.Logger,
		cfg.API.LoginRateLimitPerHour,
		cfg.API.LoginLockThreshold,
		time.Duration(cfg.API.LoginLockTTLMinutes)*time.Minute,
		cfg.API.CookieDomain,
	)
	profileHandler := NewProfileHandler(deps.DB, deps.StorageClient, scanner, deps.AsynqClient, deps.Logger)
	companyHandler := NewCompanyHandler(deps.DB, deps.StorageClient, scanner, deps.Logger)
	jobHandler := NewJobHandler(deps.DB, deps.LLMClient, notifier, deps.Logger)
	chatHandler := NewChatHandler(deps.DB, deps.MasterBox, notifier, deps.Logger)
	postHandler := NewPostHandler(deps.DB, deps.StorageClient, scanner, notifier, deps.Logger)
	notificationHandler := NewNotificationHandler(deps.DB, notifier, deps.Logger)
	adminHandler := NewAdminHandler(deps.DB, permCache, deps.Logger)
	wsHandler := NewWsHandler(deps.RedisClient, deps.AuthService, deps.Logger, cfg.API.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(deps.AuthService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()
	seekerOnly := middleware.RequireRole(database.RoleJobSeeker)
	employerOnly := middleware.RequireRole(database.RoleEmployer, database.RoleCompanyAdmin)
	companyAdminOnly := middleware.RequireRole(database.RoleCompanyAdmin)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		profileGroup := v1.Group("/profile")
		profileGroup.Use(authMiddleware, passwordGate)
		{
			profileGroup.GET("/me", profileHandler.GetMyProfile)
			profileGroup.PATCH("/seeker", seekerOnly, profileHandler.UpdateSeekerProfile)
			profileGroup.PATCH("/employer", employerOnly, profileHandler.UpdateEmployerProfile)
			profileGroup.POST("/resume", seekerOnly, profileHandler.UploadResume)
			profileGroup.POST("/resume/generate", seekerOnly, profileHandler.GenerateResume)
			profileGroup.POST("/avatar", profileHandler.UploadAvatar)
			profileGroup.DELETE("", profileHandler.DeleteAccount)
		}

		companyGroup := v1.Group("/companies")
		{
			companyGroup.GET("/:id", companyHandler.GetCompany)
			companyGroup.GET("/:id/employees", companyHandler.ListEmployees)
			companyGroup.GET("/:id/jobs", companyHandler.ListCompanyJobs)

			companyGroup.POST("", authMiddleware, passwordGate, companyAdminOnly, companyHandler.CreateCompany)
			companyGroup.PATCH("/:id", authMiddleware, passwordGate, companyAdminOnly, companyHandler.UpdateCompany)
			companyGroup.POST("/:id/logo", authMiddleware, passwordGate, companyAdminOnly, companyHandler.UploadLogo)
			companyGroup.DELETE("/:id", authMiddleware, passwordGate, companyAdminOnly, companyHandler.DeleteCompany)
			companyGroup.POST("/:id/join", authMiddleware, passwordGate, employerOnly, companyHandler.JoinCompany)
		}

		jobGroup := v1.Group("/jobs")
		{
			jobGroup.GET("", jobHandler.ListJobs)
			jobGroup.GET("/:id", jobHandler.GetJob)

			jobGroup.POST("", authMiddleware, passwordGate, employerOnly, jobHandler.CreateJob)
			jobGroup.PATCH("/:id", authMiddleware, passwordGate, employerOnly, jobHandler.UpdateJob)
			jobGroup.PUT("/:id/status", authMiddleware, passwordGate, employerOnly, jobHandler.SetJobStatus)
			jobGroup.DELETE("/:id", authMiddleware, passwordGate, employerOnly, jobHandler.DeleteJob)
			jobGroup.GET("/:id/applicants", authMiddleware, passwordGate, employerOnly, jobHandler.ListApplicants)
			jobGroup.PUT("/:id/applications/:appID/status", authMiddleware, passwordGate, employerOnly, jobHandler.UpdateApplicationStatus)
			jobGroup.POST("/:id/hire", authMiddleware, passwordGate, employerOnly, jobHandler.Hire)

			jobGroup.POST("/:id/ats-score", authMiddleware, passwordGate, seekerOnly, jobHandler.ScoreResume)
			jobGroup.POST("/:id/cover-letter", authMiddleware, passwordGate, seekerOnly, jobHandler.StageCoverLetter)
			jobGroup.GET("/:id/pending", authMiddleware, passwordGate, seekerOnly, jobHandler.GetPendingApplication)
			jobGroup.POST("/:id/apply", authMiddleware, passwordGate, seekerOnly, jobHandler.ToggleApply)
			jobGroup.POST("/:id/save", authMiddleware, passwordGate, seekerOnly, jobHandler.ToggleSave)
		}

		meGroup := v1.Group("/me")
		meGroup.Use(authMiddleware, passwordGate)
		{
			meGroup.GET("/jobs", employerOnly, jobHandler.ListMyJobs)
			meGroup.GET("/applications", seekerOnly, jobHandler.ListMyApplications)
			meGroup.GET("/saved-jobs", seekerOnly, jobHandler.ListSavedJobs)
			meGroup.POST("/company/leave", employerOnly, companyHandler.LeaveCompany)
		}

		chatGroup := v1.Group("/chats")
		chatGroup.Use(authMiddleware, passwordGate)
		{
			chatGroup.POST("", chatHandler.StartChat)
			chatGroup.GET("", chatHandler.ListChats)
			chatGroup.GET("/:id/messages", chatHandler.ListMessages)
			chatGroup.POST("/:id/messages", chatHandler.SendMessage)
			chatGroup.PATCH("/:id/messages/:msgID", chatHandler.EditMessage)
			chatGroup.DELETE("/:id/messages/:msgID", chatHandler.DeleteMessage)
			chatGroup.POST("/:id/read", chatHandler.MarkMessagesRead)
		}

		postGroup := v1.Group("/posts")
		{
			postGroup.GET("", postHandler.ListFeed)
			postGroup.GET("/:id", postHandler.GetPost)
			postGroup.GET("/:id/comments", postHandler.ListComments)

			postGroup.POST("", authMiddleware, passwordGate, postHandler.CreatePost)
			postGroup.POST("/:id/media", authMiddleware, passwordGate, postHandler.UploadPostMedia)
			postGroup.PATCH("/:id", authMiddleware, passwordGate, postHandler.UpdatePost)
			postGroup.DELETE("/:id", authMiddleware, passwordGate, postHandler.DeletePost)
			postGroup.POST("/:id/reactions", authMiddleware, passwordGate, postHandler.ToggleReaction)
			postGroup.POST("/:id/comments", authMiddleware, passwordGate, postHandler.CreateComment)
			postGroup.DELETE("/:id/comments/:commentID", authMiddleware, passwordGate, postHandler.DeleteComment)
		}

		v1.GET("/users/:id/posts", postHandler.ListUserPosts)

		notificationGroup := v1.Group("/notifications")
		notificationGroup.Use(authMiddleware, passwordGate)
		{
			notificationGroup.GET("", notificationHandler.ListNotifications)
			notificationGroup.GET("/unread-count", notificationHandler.UnreadCount)
			notificationGroup.PUT("/:id/read", notificationHandler.MarkRead)
			notificationGroup.POST("/read-all", notificationHandler.MarkAllRead)
			notificationGroup.DELETE("/:id", notificationHandler.DeleteNotification)
		}

		adminGroup := v1.Group("/admin")
		adminGroup.Use(authMiddleware, passwordGate, adminHandler.RequireSuperAdmin())
		{
			adminGroup.GET("/stats", adminHandler.PlatformStats)
			adminGroup.GET("/users", adminHandler.ListUsers)
			adminGroup.PUT("/users/:id/role", adminHandler.ChangeUserRole)
			adminGroup.DELETE("/users/:id", adminHandler.SuspendUser)
			adminGroup.POST("/users/:id/restore", adminHandler.RestoreUser)
		}

		internalGroup := v1.Group("/internal")
		internalGroup.Use(middleware.InternalSecretMiddleware(cfg.API.InternalSecret))
		{
			internalGroup.POST("/broadcast", notificationHandler.Broadcast)
		}
	}
}
