package bootstrap

import (
	"context"
	"fmt"
	"time"

	"clinical-report-be/internal/config"
	"clinical-report-be/internal/controller"
	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/internal/service"
	"clinical-report-be/pkg/family"
	"clinical-report-be/pkg/metadata"
	pktNats "clinical-report-be/pkg/nats"
	"clinical-report-be/pkg/reportconfig"
	"clinical-report-be/pkg/search"
	"clinical-report-be/pkg/sets"

	"github.com/redis/go-redis/v9"
)

type Container struct {
	// Controllers
	ReportController controller.IReportController
	StatusController controller.IStatusController

	ReportService service.IReportService
	Logger        logger.ILogger

	publisher *pktNats.Publisher
	redis     *redis.Client
}

func NewContainer(cfg *config.Config, sysLogger logger.ILogger) (*Container, error) {
	// 1. Search engine
	esClient, err := search.NewElasticClient(search.ElasticConfig{
		Host:     cfg.Elastic.Host,
		Username: cfg.Elastic.User,
		Password: cfg.Elastic.Password,
	})
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := esClient.Ping(pingCtx); err != nil {
		sysLogger.Warn("BOOTSTRAP", "Elasticsearch is not reachable yet", map[string]interface{}{
			"host":  esClient.Host(),
			"error": err.Error(),
		})
	}

	// 2. Report definitions
	registry, err := reportconfig.LoadProject(cfg.Report.Project, cfg.Report.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("load report configuration: %w", err)
	}

	// 3. Infrastructure
	c := &Container{Logger: sysLogger}

	metadataCache := metadata.NewCache(metadata.NewElasticFetcher(esClient, sysLogger), cfg.Elastic.MetadataTTL, sysLogger)
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			sysLogger.Warn("BOOTSTRAP", "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err.Error()})
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		c.redis = redis.NewClient(opt)
		if err := c.redis.Ping(pingCtx).Err(); err != nil {
			sysLogger.Warn("BOOTSTRAP", "Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		metadataCache.WithSharedStore(metadata.NewRedisStore(c.redis))
	}

	var publisher service.EventPublisher
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			sysLogger.Warn("BOOTSTRAP", "Failed to connect to NATS Publisher", map[string]interface{}{"error": err.Error()})
		} else {
			c.publisher = natsPub
			publisher = natsPub
		}
	}

	// 4. Services
	resolver := sets.NewResolver(sets.NewHTTPClient(cfg.UsersAPI.URL, cfg.UsersAPI.Timeout), sysLogger)

	expander := family.NewExpander(esClient, sysLogger)
	expander.MaxBuckets = cfg.Elastic.QueryMaxSize
	expander.FamilyBatchSize = cfg.Elastic.FamilyBatchSize

	c.ReportService = service.NewReportService(
		esClient,
		resolver,
		expander,
		metadataCache,
		registry,
		publisher,
		service.ReportServiceConfig{
			Project:          cfg.Report.Project,
			PageSize:         cfg.Elastic.PageSize,
			QueryMaxSize:     cfg.Elastic.QueryMaxSize,
			FileIndex:        cfg.Elastic.FileIndex,
			BiospecimenIndex: cfg.Elastic.BiospecimenIndex,
		},
		sysLogger,
	)

	// 5. Controllers
	c.ReportController = controller.NewReportController(c.ReportService, cfg.Auth.JWTSecret)
	c.StatusController = controller.NewStatusController(c.ReportService, esClient.Host(), cfg.Report.Project)

	return c, nil
}

// Close releases the NATS and Redis connections.
func (c *Container) Close() {
	c.publisher.Close()
	if c.redis != nil {
		_ = c.redis.Close()
	}
}
