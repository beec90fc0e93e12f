package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cedricziel/gluepoint/internal/config"
	"github.com/cedricziel/gluepoint/internal/httpapi"
	"github.com/cedricziel/gluepoint/pkg/api"
	"github.com/cedricziel/gluepoint/pkg/datastore"
	"github.com/cedricziel/gluepoint/pkg/expression"
	"github.com/cedricziel/gluepoint/pkg/healing"
	"github.com/cedricziel/gluepoint/pkg/httpcaller"
	"github.com/cedricziel/gluepoint/pkg/integrations"
	"github.com/cedricziel/gluepoint/pkg/oauth"
	"github.com/cedricziel/gluepoint/pkg/pagination"
	"github.com/cedricziel/gluepoint/pkg/pgcaller"
	"github.com/cedricziel/gluepoint/pkg/predicate"
	"github.com/cedricziel/gluepoint/pkg/scheduler"
	"github.com/cedricziel/gluepoint/pkg/secretmask"
	"github.com/cedricziel/gluepoint/pkg/stepexec"
	"github.com/cedricziel/gluepoint/pkg/workflow"

	openai "github.com/sashabaranov/go-openai"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gluepoint",
	Short: "gluepoint is a self-healing API orchestration engine",
	Long: `gluepoint turns a plain-language description of an API call into a
durable, self-repairing integration: it executes HTTP/Postgres calls with
pagination, repairs a broken call configuration through an LLM tool-call
loop, and chains calls into multi-step workflows.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP surface (webhooks, health, run inspection) and the workflow scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// buildEngine wires every package into one workflow.Engine, following
// the teacher's startServer: connect the datastore, then build the
// execution engine and the scheduler. It does not start the scheduler;
// runServe does that before serving HTTP.
func buildEngine(cfg config.Config) (*workflow.Engine, datastore.Store, *scheduler.Scheduler, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	masker := secretmask.New()
	httpCaller := httpcaller.New(masker)
	pgCaller := pgcaller.New(pgcaller.DefaultPoolConfig())
	predicates := predicate.New()
	pager := pagination.New(api.Defaults.MaxPaginationRequests, predicates)

	oauthManager := oauth.New(store, integrations.Catalog{})

	exec := stepexec.New(httpCaller, pgCaller, pager, oauthManager)

	client := openai.NewClient(cfg.LLMAPIKey)
	coordinator := healing.New(client, cfg.LLMModel, masker, exec, nil, healing.NewLLMEvaluator(client, cfg.LLMModel))

	exprs := expression.New(api.Defaults.ExpressionTimeout, expression.DefaultMaxInputSize)
	engine := workflow.New(exprs, coordinator, storeIntegrationLookup{store})

	sched := scheduler.New(store, engine, store)

	return engine, store, sched, nil
}

type storeIntegrationLookup struct {
	store datastore.Store
}

func (s storeIntegrationLookup) Get(ctx context.Context, orgID, integrationID string) (api.Integration, error) {
	return s.store.GetIntegration(ctx, orgID, integrationID)
}

func openStore(cfg config.Config) (datastore.Store, error) {
	var masterKey []byte
	if cfg.MasterEncryptionKey != "" {
		masterKey = []byte(cfg.MasterEncryptionKey)
	}

	switch cfg.DatastoreType {
	case "", "memory":
		return datastore.NewMemoryStore(), nil
	case "file":
		return datastore.NewFileStore(cfg.StorageDir, masterKey)
	case "postgres":
		return datastore.NewPostgresStore(cfg.PostgresDSN(), datastore.DefaultPoolConfig(), masterKey)
	default:
		log.Fatalf("unknown DATASTORE_TYPE %q", cfg.DatastoreType)
		return nil, nil
	}
}

func runServe() {
	cfg := config.Load()

	engine, store, sched, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()

	router := httpapi.New(store, engine, storePinger{store}, cfg.AuthToken)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.WebPort),
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("gluepoint listening on :%d", cfg.WebPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
}

// storePinger adapts datastore.Store to httpapi.Pinger without requiring
// every backend to implement a dedicated health check: a cheap
// ListOrgIDs call doubles as a liveness probe.
type storePinger struct {
	store datastore.Store
}

func (p storePinger) Ping(ctx context.Context) error {
	_, err := p.store.ListOrgIDs(ctx)
	return err
}
