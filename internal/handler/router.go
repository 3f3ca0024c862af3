package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sipengine/internal/repository"
	"sipengine/internal/scheduler"
	"sipengine/internal/service"
	"sipengine/internal/subscription"
)

type Deps struct {
	DB          *gorm.DB
	Repo        repository.Repository
	Machine     *subscription.Machine
	Coordinator *scheduler.Coordinator
	Settings    *service.SystemSettingsService
	Auditor     Auditor
	Extras      map[string]Pinger
	Logger      *zap.Logger
	// Swagger mounts /swagger/*; the document is registered by the docs package imported by main.
	Swagger bool
}

func NewRouter(d Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(CORSMiddleware())
	engine.Use(WriteAuditMiddleware(d.Auditor, d.Logger))

	(&HealthHandler{DB: d.DB, Extras: d.Extras}).Register(engine)
	(&SubscriptionHandler{Repo: d.Repo, Machine: d.Machine, Logger: d.Logger}).Register(engine)
	(&CatalogHandler{Repo: d.Repo, Logger: d.Logger}).Register(engine)
	(&WalletHandler{Repo: d.Repo}).Register(engine)
	(&SchedulerHandler{Coordinator: d.Coordinator, Logger: d.Logger}).Register(engine)
	(&SwitchHandler{Settings: d.Settings}).Register(engine)

	if d.Swagger {
		engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	return engine
}
