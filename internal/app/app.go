package app

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/handler"
	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/realtime"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/repository/memory"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/service"
	"dispatch/internal/urgency"
)

// Stores groups the persistence backends selected by configuration.
type Stores struct {
	Requests    repository.RequestRepository
	Assignments repository.AssignmentRepository
	Catalogs    repository.CatalogRepository
	Members     repository.MemberRepository
}

// NewPostgresStores builds the PostgreSQL repositories. When cache is set,
// catalog reads go through the Redis read-through cache.
func NewPostgresStores(db *sql.DB, cache goredis.Cmdable) Stores {
	directory := postgres.NewDirectoryRepository(db)
	var catalogs repository.CatalogRepository = directory
	if cache != nil {
		catalogs = redis.NewCatalogCache(cache, directory, redis.CatalogCacheTTL)
	}
	return Stores{
		Requests:    postgres.NewRequestRepository(db),
		Assignments: postgres.NewAssignmentRepository(db),
		Catalogs:    catalogs,
		Members:     directory,
	}
}

// NewMemoryStores builds in-process repositories around directory.
func NewMemoryStores(directory *memory.Directory) Stores {
	return Stores{
		Requests:    memory.NewRequestRepository(),
		Assignments: memory.NewAssignmentRepository(),
		Catalogs:    directory,
		Members:     directory,
	}
}

// Seed is the directory content loaded into memory storage at startup.
type Seed struct {
	Members []struct {
		UserID   string `json:"user_id"`
		TenantID string `json:"tenant_id"`
		Role     string `json:"role"`
		Name     string `json:"name"`
	} `json:"members"`
	Catalogs []struct {
		TenantID   string   `json:"tenant_id"`
		WasteTypes []string `json:"waste_types"`
		SLAClasses []string `json:"sla_classes"`
		FillLevels []int    `json:"fill_levels"`
	} `json:"catalogs"`
}

// LoadSeed reads a seed file into directory.
func LoadSeed(path string, directory *memory.Directory) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, m := range seed.Members {
		role := domain.Role(m.Role)
		if m.UserID == "" || m.TenantID == "" || !role.IsValid() {
			return fmt.Errorf("seed member %q is incomplete", m.UserID)
		}
		directory.AddMember(&domain.Member{UserID: m.UserID, TenantID: m.TenantID, Role: role, Name: m.Name})
	}
	for _, c := range seed.Catalogs {
		catalog := &domain.Catalog{TenantID: c.TenantID, WasteTypes: c.WasteTypes}
		for _, s := range c.SLAClasses {
			catalog.SLAClasses = append(catalog.SLAClasses, domain.SLAClass(s))
		}
		for _, f := range c.FillLevels {
			catalog.FillLevels = append(catalog.FillLevels, domain.FillLevel(f))
		}
		directory.SetCatalog(catalog)
	}
	return nil
}

// Options wires the application.
type Options struct {
	Stores    Stores
	Locations redis.LocationStoreInterface
	Locks     redis.LockStoreInterface // nil when a single instance sweeps
	// EventBus relays events to other instances; nil keeps them local.
	EventBus    realtime.Publisher
	RedisClient goredis.Cmdable // idempotency; nil disables replay
	NewRelicApp *newrelic.Application
	Registry    *prometheus.Registry
	Logger      *logger.Logger
	Clock       urgency.Clock
	Realtime    config.RealtimeConfig
	Audit       config.AuditConfig
}

// App is the assembled service.
type App struct {
	Hub      *realtime.Hub
	Requests *service.RequestService
	Dispatch *service.DispatchService
	Routes   *service.RouteService
	Auditor  *service.IntegrityAuditor
	Router   *gin.Engine
	Metrics  *metrics.DispatchMetrics
}

// New wires services, handlers and the router.
func New(opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if err := handler.RegisterValidators(); err != nil {
		return nil, err
	}

	dm := metrics.NewDispatchMetrics(opts.Registry)
	hub := realtime.NewHub(realtime.HubOptions{
		BufferSize: opts.Realtime.BufferSize,
		ReplaySize: opts.Realtime.ReplaySize,
		Logger:     opts.Logger,
		Metrics:    dm,
	})

	var publisher realtime.Publisher = hub
	if opts.EventBus != nil {
		publisher = realtime.Fanout(hub, opts.EventBus)
	}

	deps := service.Deps{
		Requests:    opts.Stores.Requests,
		Assignments: opts.Stores.Assignments,
		Catalogs:    opts.Stores.Catalogs,
		Members:     opts.Stores.Members,
		Publisher:   publisher,
		Clock:       opts.Clock,
		Logger:      opts.Logger,
		Metrics:     dm,
	}

	auditor := service.NewIntegrityAuditor(deps, opts.Locks, opts.Audit.LockTTL)
	requests := service.NewRequestService(deps)
	dispatch := service.NewDispatchService(deps, auditor)
	routes := service.NewRouteService(deps, opts.Locations)

	router := NewRouter(RouterDeps{
		RequestHandler:    handler.NewRequestHandler(requests, dispatch, routes, opts.Logger),
		AssignmentHandler: handler.NewAssignmentHandler(dispatch, opts.Logger),
		DriverHandler:     handler.NewDriverHandler(dispatch, routes, opts.Logger),
		RealtimeHandler: handler.NewRealtimeHandler(hub, handler.RealtimeOptions{
			PingInterval:   opts.Realtime.PingInterval,
			MaxMessageSize: opts.Realtime.MaxMessageSize,
		}, opts.Logger),
		RedisClient: opts.RedisClient,
		NewRelicApp: opts.NewRelicApp,
		Gatherer:    opts.Registry,
		Logger:      opts.Logger,
	})

	return &App{
		Hub:      hub,
		Requests: requests,
		Dispatch: dispatch,
		Routes:   routes,
		Auditor:  auditor,
		Router:   router,
		Metrics:  dm,
	}, nil
}
