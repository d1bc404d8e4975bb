package weft

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/persistence"
	"github.com/weftlabs/weft/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine          = api.Engine
	Graph           = api.Graph
	GraphDefinition = api.GraphDefinition
	NodeDefinition  = api.NodeDefinition
	EdgeDefinition  = api.EdgeDefinition
	ConditionalEdge = api.ConditionalEdge
	LoopGuard       = api.LoopGuard
	Schema          = api.Schema
	State           = api.State
	MergePolicy     = api.MergePolicy
	TaskFunc        = api.TaskFunc
	RouterFunc      = api.RouterFunc
	PredicateFunc   = api.PredicateFunc
	Snapshot        = api.Snapshot
	WaitFunc        = api.WaitFunc
	Run             = api.Run
	RunFilter       = api.RunFilter
	RunStatus       = api.RunStatus

	Document  = api.Document
	Retriever = api.Retriever
	Critic    = api.Critic
	Verdict   = api.Verdict

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	StructuralError   = api.StructuralError
	TaskError         = api.TaskError
	RoutingError      = api.RoutingError
	MissingFieldError = api.MissingFieldError
)

// Re-export common helpers.

var (
	NewSchema            = api.NewSchema
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	ErrCriticUnavailable = api.ErrCriticUnavailable
)

// Get reads a typed field from the state; missing fields are an error.
func Get[T any](s State, field string) (T, error) {
	return api.Get[T](s, field)
}

// GetOr reads a typed field, returning fallback when the field is absent.
func GetOr[T any](s State, field string, fallback T) T {
	return api.GetOr(s, field, fallback)
}

// Re-export merge policies and graph markers for convenience.

const (
	Overwrite  = api.Overwrite
	Accumulate = api.Accumulate

	Start = api.Start
	End   = api.End

	RunRunning   = api.RunRunning
	RunCompleted = api.RunCompleted
	RunFailed    = api.RunFailed
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine that records runs entirely in memory.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that records runs and per-superstep
// snapshots in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return newStoreEngine(persistence.NewSQLiteRunStore(db))
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	store, err := persistence.NewSQLiteRunStore(db)
	if err != nil {
		return nil, err
	}
	return engine.NewEngineWithConfig(engine.Config{Store: store, Observer: obs}), nil
}

// NewPostgresEngine returns an Engine that records runs in PostgreSQL.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return newStoreEngine(persistence.NewPostgresRunStore(db))
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	store, err := persistence.NewPostgresRunStore(db)
	if err != nil {
		return nil, err
	}
	return engine.NewEngineWithConfig(engine.Config{Store: store, Observer: obs}), nil
}

// NewRedisEngine returns an Engine that records runs in Redis.
func NewRedisEngine(client *redis.Client) Engine {
	store := persistence.NewRedisRunStore(client, "weft:")
	return engine.NewEngineWithConfig(engine.Config{Store: store})
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs Observer) Engine {
	store := persistence.NewRedisRunStore(client, "weft:")
	return engine.NewEngineWithConfig(engine.Config{Store: store, Observer: obs})
}

// NewMongoEngine returns an Engine that records runs in MongoDB.
// dbName defaults to "weft" if empty.
func NewMongoEngine(client *mongo.Client, dbName string) Engine {
	store := persistence.NewMongoRunStore(client, dbName)
	return engine.NewEngineWithConfig(engine.Config{Store: store})
}

// NewMongoEngineWithObserver returns a Mongo-backed Engine with the given Observer.
func NewMongoEngineWithObserver(client *mongo.Client, dbName string, obs Observer) Engine {
	store := persistence.NewMongoRunStore(client, dbName)
	return engine.NewEngineWithConfig(engine.Config{Store: store, Observer: obs})
}

func newStoreEngine(store persistence.RunStore, err error) (Engine, error) {
	if err != nil {
		return nil, err
	}
	return engine.NewEngineWithConfig(engine.Config{Store: store}), nil
}
