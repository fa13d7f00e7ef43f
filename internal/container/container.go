package container

import (
	"log/slog"

	"github.com/supabase-community/supabase-go"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kay-darko/vybe/internal/config"
	"github.com/kay-darko/vybe/internal/models"
	"github.com/kay-darko/vybe/internal/notify"
	"github.com/kay-darko/vybe/internal/scheduler"
	"github.com/kay-darko/vybe/internal/services"
)

// Container holds all application dependencies
type Container struct {
	Logger *slog.Logger
	Config *config.Config
	// Database clients
	SupabaseClient *supabase.Client
	MongoDBClient  *mongo.Client

	LiveService *services.LiveService

	PeakScheduler     *scheduler.PeakScheduler
	WrapupScheduler   *scheduler.WrapupScheduler
	ReminderScheduler *scheduler.ReminderScheduler
	UpdateDispatcher  *scheduler.UpdateDispatcher
}

// NewContainer creates a new dependency injection container
func NewContainer(
	logger *slog.Logger,
	cfg *config.Config,
	supabaseClient *supabase.Client,
	mongoDBClient *mongo.Client,
) *Container {
	// Initialize repositories
	supa := models.SupabaseNewRepo(supabaseClient, cfg.SupabaseURL, cfg.SupabaseAnonKey)
	mongoRepo := models.MongodbNewRepo(mongoDBClient)

	gate := notify.NewGate(mongoRepo)
	sender := notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)

	schedCfg := scheduler.Config{
		SendTimeout: cfg.SendTimeout,
		FanOutLimit: cfg.FanOutLimit,
	}

	return &Container{
		Logger:         logger,
		Config:         cfg,
		SupabaseClient: supabaseClient,
		MongoDBClient:  mongoDBClient,

		LiveService: services.NewLiveService(mongoRepo),

		PeakScheduler:     scheduler.NewPeakScheduler(mongoRepo, supa, gate, sender, logger, schedCfg),
		WrapupScheduler:   scheduler.NewWrapupScheduler(mongoRepo, supa, gate, sender, logger, schedCfg),
		ReminderScheduler: scheduler.NewReminderScheduler(mongoRepo, supa, gate, sender, logger, schedCfg),
		UpdateDispatcher:  scheduler.NewUpdateDispatcher(mongoRepo, supa, sender, logger, schedCfg),
	}
}
