// Package main runs the intent execution agent:
// - Intake (continuous): intent polling + websocket push, verification, policy gate
// - Execution (queued): one intent at a time through the execution state machine
// - Grace monitor (scheduled): reward harvests before grace expiry
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"clmm-agent/internal/activity"
	"clmm-agent/internal/aggregator"
	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
	"clmm-agent/internal/executor"
	"clmm-agent/internal/intent"
	"clmm-agent/internal/monitor"
	"clmm-agent/internal/observability"
	"clmm-agent/internal/service"
	"clmm-agent/internal/storage"
	chstore "clmm-agent/internal/storage/clickhouse"
	"clmm-agent/internal/storage/memory"
	"clmm-agent/internal/storage/migrations"
	pgstore "clmm-agent/internal/storage/postgres"
)

// Agent holds all components of the execution engine.
type Agent struct {
	svc      *service.Client
	verifier *intent.Verifier
	exec     *executor.Executor
	monitor  *monitor.Monitor
	activity *activity.Stream
	stores   *agentStores
	logger   *log.Logger

	pollInterval   time.Duration
	streamEndpoint string

	mu          sync.Mutex
	started     time.Time
	lastPoll    time.Time
	envelopes   int
	rejected    int
	policyDrops int
}

// agentStores holds the journal and history implementations.
type agentStores struct {
	receipts storage.ReceiptStore
	activity storage.ActivityStore
}

func main() {
	loadEnvFile()

	// Parse flags (env vars as defaults)
	serviceURL := flag.String("service-url", os.Getenv("SERVICE_URL"), "Remote decision service base URL")
	sessionToken := flag.String("session-token", os.Getenv("SERVICE_SESSION_TOKEN"), "Service session bearer token")
	refreshToken := flag.String("refresh-token", os.Getenv("SERVICE_REFRESH_TOKEN"), "Service refresh token")
	streamEndpoint := flag.String("stream-endpoint", os.Getenv("SERVICE_STREAM_ENDPOINT"), "Websocket intent push endpoint (optional)")
	rpcEndpoints := flag.String("rpc-endpoints", os.Getenv("CHAIN_RPC_ENDPOINTS"), "Comma-separated chain RPC endpoints, tried in order")
	signerEndpoint := flag.String("signer-endpoint", os.Getenv("SIGNER_ENDPOINT"), "Local wallet signer endpoint")
	aggregatorURL := flag.String("aggregator-url", os.Getenv("AGGREGATOR_URL"), "Swap aggregator base URL (optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for the receipt journal")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for activity history")
	useMemory := flag.Bool("use-memory", false, "Use in-memory journal/history instead of databases")

	poolAddress := flag.String("pool", os.Getenv("POOL_ADDRESS"), "Pool contract address")
	managerAddress := flag.String("manager", os.Getenv("MANAGER_ADDRESS"), "Position manager contract address")
	walletAddress := flag.String("wallet", os.Getenv("WALLET_ADDRESS"), "Wallet address")
	proxyAddress := flag.String("proxy", os.Getenv("PROXY_ADDRESS"), "Execution proxy address (optional)")
	token0 := flag.String("token0", os.Getenv("TOKEN0_ADDRESS"), "Pool token0 address")
	token1 := flag.String("token1", os.Getenv("TOKEN1_ADDRESS"), "Pool token1 address")
	token0Decimals := flag.Int("token0-decimals", 18, "token0 decimals")
	token1Decimals := flag.Int("token1-decimals", 6, "token1 decimals")
	poolFee := flag.Uint64("pool-fee", 3000, "Pool fee tier")
	tickSpacing := flag.Int("tick-spacing", 60, "Pool tick spacing")
	minPositionUSD := flag.Float64("min-position-usd", 10, "Minimum USD value to open a tier position")

	pollInterval := flag.Duration("poll-interval", 15*time.Second, "Intent poll interval")
	graceInterval := flag.Duration("grace-interval", monitor.DefaultInterval, "Grace monitor poll interval")
	graceThreshold := flag.Duration("grace-threshold", monitor.DefaultThreshold, "Grace harvest threshold before expiry")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	flag.Parse()

	logger := log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lshortfile)

	if *serviceURL == "" {
		logger.Fatal("--service-url is required")
	}
	if *rpcEndpoints == "" {
		logger.Fatal("--rpc-endpoints is required")
	}
	if *signerEndpoint == "" {
		logger.Fatal("--signer-endpoint is required")
	}
	if *poolAddress == "" || *managerAddress == "" || *walletAddress == "" || *token0 == "" || *token1 == "" {
		logger.Fatal("--pool, --manager, --wallet, --token0 and --token1 are required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	svc, err := service.NewClient(service.Config{
		BaseURL:      *serviceURL,
		SessionToken: *sessionToken,
		RefreshToken: *refreshToken,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create service client: %v", err)
	}

	chainClient, err := chain.NewClient(splitList(*rpcEndpoints))
	if err != nil {
		logger.Fatalf("Failed to create chain client: %v", err)
	}
	submitter := chain.NewSubmitter(chainClient, chain.NewHTTPSigner(*signerEndpoint), *proxyAddress, 0)

	var quoter executor.SwapQuoter
	if *aggregatorURL != "" {
		agg, err := aggregator.NewClient(*aggregatorURL, 0)
		if err != nil {
			logger.Fatalf("Failed to create aggregator client: %v", err)
		}
		quoter = agg
	}

	stream := activity.NewStream(logger, stores.activity)

	exec, err := executor.New(executor.Options{
		Config: executor.Config{
			PoolAddress:    *poolAddress,
			ManagerAddress: *managerAddress,
			WalletAddress:  *walletAddress,
			Token0:         *token0,
			Token1:         *token1,
			Token0Decimals: *token0Decimals,
			Token1Decimals: *token1Decimals,
			PoolFee:        *poolFee,
			TickSpacing:    int32(*tickSpacing),
			MinPositionUSD: *minPositionUSD,
		},
		Chain:    chainClient,
		Submit:   submitter,
		Service:  svc,
		Quoter:   quoter,
		Receipts: stores.receipts,
		Activity: stream,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create executor: %v", err)
	}

	agent := &Agent{
		svc:            svc,
		verifier:       intent.NewVerifier(intent.NewKeyCache(svc, 0)),
		exec:           exec,
		activity:       stream,
		stores:         stores,
		logger:         logger,
		pollInterval:   *pollInterval,
		streamEndpoint: *streamEndpoint,
		started:        time.Now(),
	}
	agent.monitor = monitor.New(monitor.Options{
		Service:   svc,
		Harvester: exec,
		Tracker:   exec.Tracker(),
		Activity:  stream,
		Interval:  *graceInterval,
		Threshold: *graceThreshold,
		Logger:    log.New(os.Stdout, "[monitor] ", log.LstdFlags|log.Lshortfile),
	})

	done := make(chan error, 1)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, draining in-flight intent...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(3 * time.Minute):
			logger.Println("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go agent.startHTTPServer(*metricsAddr)

	err = agent.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Agent error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// Run starts intake, execution and the grace monitor, and blocks until the
// context is cancelled or a component fails.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Println("Starting intent execution agent...")

	errCh := make(chan error, 3)

	go func() {
		if err := a.exec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("executor: %w", err)
		}
	}()
	go func() {
		if err := a.runIntake(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("intake: %w", err)
		}
	}()
	go func() {
		if err := a.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("grace monitor: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runIntake polls the service for signed envelopes and, when configured,
// consumes the websocket push stream. Both channels feed the same
// verify-gate-enqueue path.
func (a *Agent) runIntake(ctx context.Context) error {
	if a.streamEndpoint != "" {
		stream, err := service.NewIntentStream(ctx, a.streamEndpoint, nil, a.logger, func(envelope string) {
			a.handleEnvelope(ctx, envelope)
		})
		if err != nil {
			// The push stream is an accelerator; polling alone still
			// delivers every intent.
			a.logger.Printf("Intent stream unavailable, polling only: %v", err)
		} else {
			defer stream.Close()
		}
	}

	a.pollOnce(ctx)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *Agent) pollOnce(ctx context.Context) {
	envelopes, err := a.svc.PollIntents(ctx)
	if err != nil {
		observability.RecordServiceError("intents")
		a.logger.Printf("Intent poll failed: %v", err)
		return
	}
	a.mu.Lock()
	a.lastPoll = time.Now()
	a.mu.Unlock()

	for _, envelope := range envelopes {
		a.handleEnvelope(ctx, envelope)
	}
}

// handleEnvelope runs one envelope through verification and the policy gate,
// then enqueues it for execution.
func (a *Agent) handleEnvelope(ctx context.Context, envelope string) {
	observability.RecordIntentReceived()
	a.mu.Lock()
	a.envelopes++
	a.mu.Unlock()

	in, err := a.verifier.Verify(ctx, envelope)
	if err != nil {
		if errors.Is(err, intent.ErrKeyUnavailable) {
			// Verifier unreachable, not attacker activity: the envelope is
			// redelivered by the next poll.
			a.logger.Printf("Verification deferred: %v", err)
			return
		}
		a.recordRejection("", verificationKind(err), err.Error())
		return
	}

	// The policy snapshot is fetched per intent: a stale allow is worse
	// than one extra service round trip.
	policy, err := a.svc.Policy(ctx)
	if err != nil {
		observability.RecordServiceError("policy")
		a.logger.Printf("Policy fetch failed, intent %s deferred: %v", in.IntentID, err)
		return
	}
	decision := intent.ValidatePolicy(in, policy, time.Now())
	if !decision.Allowed {
		a.mu.Lock()
		a.policyDrops++
		a.mu.Unlock()
		a.recordRejection(in.IntentID, "policy", strings.Join(decision.Reasons, "; "))
		a.reportRejection(ctx, in, decision.Reason())
		return
	}

	if !a.exec.Queue().Push(in) {
		a.logger.Printf("Intent %s already pending, ignored", in.IntentID)
		return
	}
	observability.UpdateQueueDepth(a.exec.Queue().Len())
	a.logger.Printf("Enqueued %s %s", in.Action, in.IntentID)
}

// recordRejection logs and counts one discarded envelope.
func (a *Agent) recordRejection(intentID, kind, detail string) {
	a.mu.Lock()
	a.rejected++
	a.mu.Unlock()
	observability.RecordIntentRejected(kind)
	a.activity.Warn(domain.EventIntentRejected, intentID, 0, "intent rejected (%s): %s", kind, detail)
}

// reportRejection tells the service which policy rule fired. Best-effort:
// a reporting failure never resurrects the intent.
func (a *Agent) reportRejection(ctx context.Context, in *domain.SignedIntent, reason string) {
	result := &domain.ExecutionResult{
		IntentID:   in.IntentID,
		Action:     in.Action,
		Status:     domain.StatusSkipped,
		Reason:     reason,
		FinishedAt: time.Now().Unix(),
	}
	if err := a.svc.ReportResult(ctx, result); err != nil {
		observability.RecordServiceError("receipts")
		a.logger.Printf("Rejection report for %s failed: %v", in.IntentID, err)
	}
}

// verificationKind maps a verification error to its metric label.
func verificationKind(err error) string {
	switch {
	case errors.Is(err, intent.ErrIntentExpired):
		return "expired"
	case errors.Is(err, intent.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, intent.ErrMalformedEnvelope):
		return "malformed"
	default:
		return "verification"
	}
}

// createStores creates the receipt journal and activity history.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*agentStores, func(), error) {
	if useMemory {
		return &agentStores{
			receipts: memory.NewReceiptStore(),
			activity: memory.NewActivityStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &agentStores{receipts: pgstore.NewReceiptStore(pool)}
	cleanup := func() { pool.Close() }

	// Activity history is optional: without ClickHouse the stream still
	// logs and fans out, it just is not persisted.
	if clickhouseDSN != "" {
		chConn, err := chstore.NewConn(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, chConn); err != nil {
			chConn.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		stores.activity = chstore.NewActivityStore(chConn)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// startHTTPServer serves health, metrics, status and recent history.
func (a *Agent) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", a.handleStatus)
	mux.HandleFunc("/receipts/recent", a.handleRecentReceipts)
	mux.HandleFunc("/activity/recent", a.handleRecentActivity)

	a.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		a.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status          string    `json:"status"`
	Uptime          string    `json:"uptime"`
	LastPoll        time.Time `json:"last_poll,omitempty"`
	EnvelopesSeen   int       `json:"envelopes_seen"`
	Rejected        int       `json:"rejected"`
	PolicyDrops     int       `json:"policy_drops"`
	QueueDepth      int       `json:"queue_depth"`
	ActivePositions int       `json:"active_positions"`
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	resp := StatusResponse{
		Status:          "running",
		Uptime:          time.Since(a.started).String(),
		LastPoll:        a.lastPoll,
		EnvelopesSeen:   a.envelopes,
		Rejected:        a.rejected,
		PolicyDrops:     a.policyDrops,
		QueueDepth:      a.exec.Queue().Len(),
		ActivePositions: a.exec.Tracker().ActiveCount(),
	}
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (a *Agent) handleRecentReceipts(w http.ResponseWriter, r *http.Request) {
	results, err := a.stores.receipts.Recent(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (a *Agent) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	if a.stores.activity == nil {
		http.Error(w, "activity history not configured", http.StatusNotFound)
		return
	}
	events, err := a.stores.activity.Recent(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// splitList splits a comma-separated flag value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
