// Command eventcore runs the event ingestion and routing core: one IMAP
// poll loop per active account, the webhook/signed-URL HTTP surface, and
// the dispatcher consumer group that classifies, escalates, and routes
// each ingested event to a handler workflow.
//
// Multiple replicas sharing the same Redis instance form a cluster:
// per-account IMAP locking (see imapsource) keeps exactly one replica
// polling a given account at a time, and every replica publishes its
// workers' status to a shared *rmap.Map so operators see one consistent
// view regardless of which node they inspect.
//
// # Configuration
//
// Business configuration (IMAP accounts, the intent catalog) is loaded
// from a YAML file; infrastructure connection settings come from
// environment variables:
//
//	EVENTCORE_CONFIG_PATH       - path to the YAML config document (default: "config.yaml")
//	EVENTCORE_HTTP_ADDR         - webhook/healthz listen address (default: ":8080")
//	MONGO_URI                   - MongoDB connection string (default: "mongodb://localhost:27017")
//	MONGO_DATABASE              - database name (default: "eventcore")
//	REDIS_ADDR                  - Redis address (default: "localhost:6379")
//	REDIS_PASSWORD              - Redis password (optional)
//	WORKFLOW_ENGINE             - "temporal" or "inmem" (default: "inmem")
//	TEMPORAL_HOST_PORT          - Temporal frontend address (default: "localhost:7233")
//	TEMPORAL_NAMESPACE          - Temporal namespace (default: "default")
//	TEMPORAL_TASK_QUEUE         - Temporal task queue (default: "eventcore")
//	ANTHROPIC_API_KEY           - enables the Anthropic classifier port when set; the rule-based
//	                              classifier is used otherwise
//	APPROVAL_WEBHOOK_URL        - approval-notification webhook target (optional)
//	DISPATCHER_CONSUMERS        - number of dispatcher consumer goroutines (default: 4)
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	temporalclient "go.temporal.io/sdk/client"
	"goa.design/pulse/rmap"

	"github.com/relaywire/eventcore/approval"
	"github.com/relaywire/eventcore/classifier"
	"github.com/relaywire/eventcore/config"
	"github.com/relaywire/eventcore/dispatcher"
	"github.com/relaywire/eventcore/eventstream"
	"github.com/relaywire/eventcore/httpapi"
	"github.com/relaywire/eventcore/imapsource"
	"github.com/relaywire/eventcore/intent"
	"github.com/relaywire/eventcore/mail"
	"github.com/relaywire/eventcore/objectstore"
	"github.com/relaywire/eventcore/store"
	"github.com/relaywire/eventcore/suggestion"
	"github.com/relaywire/eventcore/supervisor"
	"github.com/relaywire/eventcore/telemetry"
	"github.com/relaywire/eventcore/workflowengine"
	"github.com/relaywire/eventcore/workflowengine/inmem"
	"github.com/relaywire/eventcore/workflowengine/temporal"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewClueLogger()

	configPath := envOr("EVENTCORE_CONFIG_PATH", "config.yaml")
	appConfig, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	mongoClient, err := mongodriver.Connect(options.Client().ApplyURI(envOr("MONGO_URI", "mongodb://localhost:27017")))
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Printf("disconnect mongo: %v", err)
		}
	}()

	db, err := store.New(ctx, store.Options{
		Client:   mongoClient,
		Database: envOr("MONGO_DATABASE", "eventcore"),
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := seedCatalog(ctx, db.Catalog, appConfig.Catalog); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	objectGateway, err := buildObjectStore(ctx, rdb, appConfig.Storage)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	stream := eventstream.New(rdb, eventstream.DefaultStreamName, logger)
	if err := stream.EnsureGroup(ctx, eventstream.DefaultGroupName); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	persistor := mail.NewPersistor(objectGateway, db.Mail, logger)

	engine, signaler, closeEngine, err := buildWorkflowEngine(ctx, logger)
	if err != nil {
		return fmt.Errorf("build workflow engine: %w", err)
	}
	defer closeEngine()

	suggestions := suggestion.New(db.Suggestions, signaler, map[suggestion.Kind]suggestion.Materializer{
		suggestion.KindNewIntent: catalogMaterializer{catalog: db.Catalog},
	}, logger)

	notifier := approval.NewWebhookNotifier(os.Getenv("APPROVAL_WEBHOOK_URL"), nil)
	recorder := approval.NewSuggestionRecorder(suggestions)
	if err := approval.RegisterWith(ctx, engine, notifier, recorder); err != nil {
		return fmt.Errorf("register approval workflow: %w", err)
	}

	classifierPort := buildClassifier(logger)

	disp := dispatcher.New(stream, db.Events, db.Catalog, classifierPort, suggestions, engine, logger, dispatcher.Options{
		Group:    eventstream.DefaultGroupName,
		Consumer: envOr("HOSTNAME", "eventcore-0"),
	})

	var workers []supervisor.Worker
	checkpoints := imapsource.NewRedisCheckpointStore(rdb)
	source := imapsource.New(rdb, checkpoints, stream, persistor, nil, logger)
	for _, account := range appConfig.Accounts {
		account := account
		workers = append(workers, supervisor.Worker{
			Name: "imapsource:" + account.Key(),
			Run:  pollLoop(source, account, logger),
		})
	}

	consumerCount := envIntOr("DISPATCHER_CONSUMERS", 4)
	for i := 0; i < consumerCount; i++ {
		workers = append(workers, supervisor.Worker{
			Name: fmt.Sprintf("dispatcher:%d", i),
			Run:  disp.Run,
		})
	}

	addr := envOr("EVENTCORE_HTTP_ADDR", ":8080")
	webhookHandler := httpapi.NewWebhookHandler(stream, logger)
	var downloadHandler *httpapi.DownloadHandler
	if appConfig.Storage.LocalStorageEnabled {
		localStore, err := objectstore.NewLocalStore(localBaseDir(appConfig.Storage), localDownloadURL(appConfig.Storage), rdb)
		if err != nil {
			return fmt.Errorf("build local store for download handler: %w", err)
		}
		downloadHandler = httpapi.NewDownloadHandler(localStore, objectGateway, logger)
	}
	router := httpapi.NewRouter(webhookHandler, downloadHandler)
	httpServer := &http.Server{Addr: addr, Handler: router}

	workers = append(workers, supervisor.Worker{
		Name: "httpapi",
		Run: func(ctx context.Context) error {
			errCh := make(chan error, 1)
			go func() { errCh <- httpServer.ListenAndServe() }()
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	})

	statusMap, err := rmap.Join(ctx, "eventcore:worker-status", rdb)
	if err != nil {
		return fmt.Errorf("join worker status map: %w", err)
	}

	sup := supervisor.New(supervisor.Options{
		Logger:    logger,
		StatusMap: statusMap,
		ReplicaID: envOr("HOSTNAME", "eventcore-0"),
	}, workers...)
	log.Printf("starting eventcore on %s (%d imap accounts, %d dispatcher consumers)",
		addr, len(appConfig.Accounts), consumerCount)
	return sup.Run(ctx)
}

// pollLoop wraps a single-tick imapsource.Source.PollAccount in its own
// ticker, since Source has no self-scheduling loop of its own.
func pollLoop(source *imapsource.Source, account imapsource.Account, logger telemetry.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(account.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := source.PollAccount(ctx, account); err != nil {
					logger.Error(ctx, "imapsource: poll tick failed", "account", account.Key(), "error", err.Error())
				}
			}
		}
	}
}

// seedCatalog upserts the config file's catalog entries into the
// Mongo-backed CatalogStore on startup, so the store (the Catalog source
// the dispatcher and classifier actually read from in this wiring) always
// reflects the declared config even across a fresh database.
func seedCatalog(ctx context.Context, catalog *store.CatalogStore, entries []intent.Entry) error {
	for _, entry := range entries {
		if err := catalog.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("upsert catalog entry %q: %w", entry.Name, err)
		}
	}
	return nil
}

func buildObjectStore(ctx context.Context, rdb *redis.Client, storageCfg config.StorageDocument) (*objectstore.Gateway, error) {
	remote, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Bucket:          storageCfg.Bucket,
		Region:          storageCfg.Region,
		Endpoint:        storageCfg.Endpoint,
		AccessKeyID:     storageCfg.AccessKeyID,
		SecretAccessKey: storageCfg.SecretAccessKey,
		UsePathStyle:    storageCfg.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("build s3 store: %w", err)
	}
	local, err := objectstore.NewLocalStore(localBaseDir(storageCfg), localDownloadURL(storageCfg), rdb)
	if err != nil {
		return nil, fmt.Errorf("build local store: %w", err)
	}
	return objectstore.NewGateway(remote, local, telemetry.NewClueLogger())
}

func localBaseDir(cfg config.StorageDocument) string {
	if cfg.LocalBaseDir != "" {
		return cfg.LocalBaseDir
	}
	return "./data/objects"
}

func localDownloadURL(cfg config.StorageDocument) string {
	if cfg.LocalDownloadURL != "" {
		return cfg.LocalDownloadURL
	}
	return "/storage/download"
}

// buildWorkflowEngine selects the Temporal adapter or the in-memory one per
// WORKFLOW_ENGINE. The in-memory adapter is not replay-safe and exists for
// local development and deployments with no Temporal cluster available
// rather than as a production substitute.
//
// It also returns the suggestion.WorkflowSignaler the two engines expose
// differently: the in-memory engine's SignalByID is already
// workflow-id-only (matching WorkflowSignaler directly), while Temporal's
// is qualified by an explicit run id and needs suggestion.NewTemporalSignaler
// to adapt it.
func buildWorkflowEngine(ctx context.Context, logger telemetry.Logger) (workflowengine.Engine, suggestion.WorkflowSignaler, func(), error) {
	if envOr("WORKFLOW_ENGINE", "inmem") != "temporal" {
		engine := inmem.New()
		return engine, engine, func() {}, nil
	}

	engine, err := temporal.New(temporal.Options{
		ClientOptions: &temporalclient.Options{
			HostPort:  envOr("TEMPORAL_HOST_PORT", "localhost:7233"),
			Namespace: envOr("TEMPORAL_NAMESPACE", "default"),
		},
		WorkerOptions: temporal.WorkerOptions{
			TaskQueue: envOr("TEMPORAL_TASK_QUEUE", "eventcore"),
		},
		Logger: logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build temporal engine: %w", err)
	}
	return engine, suggestion.NewTemporalSignaler(engine), func() {
		if err := engine.Close(); err != nil {
			log.Printf("close temporal engine: %v", err)
		}
	}, nil
}

// buildClassifier returns the Anthropic port when ANTHROPIC_API_KEY is
// set, falling back to the rule-based classifier otherwise so the core
// still runs end to end without a model API key configured.
func buildClassifier(logger telemetry.Logger) classifier.Port {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		logger.Info(context.Background(), "classifier: ANTHROPIC_API_KEY not set, using rule-based classifier")
		return classifier.NewRuleBased()
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	port, err := classifier.NewAnthropicPort(&ac.Messages, classifier.AnthropicOptions{})
	if err != nil {
		logger.Error(context.Background(), "classifier: failed to build anthropic port, falling back to rule-based", "error", err.Error())
		return classifier.NewRuleBased()
	}
	return port
}

// catalogMaterializer adapts a pending new-intent suggestion into a
// CatalogStore.Upsert call once approved.
type catalogMaterializer struct {
	catalog *store.CatalogStore
}

func (m catalogMaterializer) Materialize(ctx context.Context, record suggestion.Record) (string, error) {
	entry := intent.Entry{
		Name:        record.NaturalKey,
		Label:       record.Payload["label"],
		Description: record.Payload["description"],
		Active:      true,
		HandlerKind: handlerKindFromHint(record.Payload["handler_hint"]),
	}
	if err := m.catalog.Upsert(ctx, entry); err != nil {
		return "", fmt.Errorf("materialize catalog entry %q: %w", entry.Name, err)
	}
	return entry.Name, nil
}

func handlerKindFromHint(hint string) intent.HandlerKind {
	if hint == string(intent.HandlerWorkflow) {
		return intent.HandlerWorkflow
	}
	return intent.HandlerAgent
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
