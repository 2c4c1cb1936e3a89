package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	database "github.com/lvtu-ai/travel-planner/app/db"
	"github.com/lvtu-ai/travel-planner/config"
	"github.com/lvtu-ai/travel-planner/internal/api/itinerary"
	"github.com/lvtu-ai/travel-planner/internal/api/recommend"
	"github.com/lvtu-ai/travel-planner/internal/api/tasks"
	"github.com/lvtu-ai/travel-planner/internal/api/trip"
	"github.com/lvtu-ai/travel-planner/internal/llm"
	"github.com/lvtu-ai/travel-planner/internal/location"
	"github.com/lvtu-ai/travel-planner/internal/notes"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Redis  *redis.Client

	LLMClient      llm.Client
	LocationClient *location.Client
	NotesFetcher   *notes.Fetcher

	TripRepo    *trip.RepositoryImpl
	TaskManager *tasks.Manager

	TripHandler      *trip.Handler
	RecommendHandler *recommend.Handler
	ItineraryHandler *itinerary.Handler
	TaskHandler      *tasks.Handler
}

// NewContainer initializes and returns a new dependency container
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	// Initialize database
	dbConfig, err := database.NewDatabaseConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", cfg.Repositories.Redis.Host, cfg.Repositories.Redis.Port),
		DB:   cfg.Repositories.Redis.DB,
	})

	llmClient, err := llm.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client", slog.Any("error", err))
		pool.Close()
		return nil, err
	}

	locationClient := location.New(cfg, logger)
	notesFetcher := notes.NewFetcher(cfg.Notes.Timeout, logger)

	// Initialize repositories
	tripRepo := trip.NewRepository(pool, logger)

	// Initialize services. The task manager sits between the trip service
	// (which enqueues prefetch jobs) and the recommend/itinerary services
	// (which execute them), so it is built in the middle.
	recommendService := recommend.NewService(tripRepo, locationClient, logger)
	itineraryService := itinerary.NewService(cfg, llmClient, tripRepo, recommendService, locationClient, logger)
	taskManager := tasks.NewManager(redisClient, recommendService, itineraryService, logger)
	tripService := trip.NewService(tripRepo, locationClient, notesFetcher, taskManager, logger)

	// Initialize handlers
	tripHandler := trip.NewHandler(tripService, logger)
	recommendHandler := recommend.NewHandler(recommendService, logger)
	itineraryHandler := itinerary.NewHandler(itineraryService, taskManager, logger)
	taskHandler := tasks.NewHandler(taskManager, logger)

	return &Container{
		Config:           cfg,
		Logger:           logger,
		Pool:             pool,
		Redis:            redisClient,
		LLMClient:        llmClient,
		LocationClient:   locationClient,
		NotesFetcher:     notesFetcher,
		TripRepo:         tripRepo,
		TaskManager:      taskManager,
		TripHandler:      tripHandler,
		RecommendHandler: recommendHandler,
		ItineraryHandler: itineraryHandler,
		TaskHandler:      taskHandler,
	}, nil
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Failed to close redis client", slog.Any("error", err))
		}
	}
}

// WaitForDB waits for the database to be ready
func (c *Container) WaitForDB(ctx context.Context) bool {
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}

// RunMigrations runs database migrations
func (c *Container) RunMigrations() error {
	dbConfig, err := database.NewDatabaseConfig(c.Config, c.Logger)
	if err != nil {
		return err
	}
	return database.RunMigrations(dbConfig.ConnectionURL, c.Logger)
}
