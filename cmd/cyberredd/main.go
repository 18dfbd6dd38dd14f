// Command cyberredd is the red-team engagement daemon: session manager,
// scope validator, kill switch, LLM gateway, and the Unix-socket control
// plane, wired together the way releaseparty-api wires its own
// config/store/server triad, extended with the pieces this daemon adds
// (hot-reload, kill switch, container pool, LLM gateway).
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cyberredd/internal/audit"
	"cyberredd/internal/bus"
	"cyberredd/internal/checkpoint"
	"cyberredd/internal/config"
	"cyberredd/internal/container"
	"cyberredd/internal/ipc"
	"cyberredd/internal/killswitch"
	"cyberredd/internal/llm"
	"cyberredd/internal/preflight"
	"cyberredd/internal/scope"
	"cyberredd/internal/session"
	"cyberredd/internal/telemetry"
)

func main() {
	logger := log.New(os.Stdout, "cyberredd ", log.LstdFlags|log.LUTC)

	boot, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	settingsMgr, err := config.NewManager(boot.SettingsPath, logger)
	if err != nil {
		logger.Fatalf("config: loading settings: %v", err)
	}

	ctx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := settingsMgr.Watch(ctx); err != nil {
		logger.Fatalf("config: starting watcher: %v", err)
	}
	defer settingsMgr.Stop()

	auditLog, err := audit.New(boot.AuditLogPath, nil)
	if err != nil {
		logger.Fatalf("audit: %v", err)
	}

	dockerExec, err := container.NewExecutor()
	if err != nil {
		logger.Printf("container: docker unavailable, engagement sandboxing disabled: %v", err)
	}
	var pool *container.Pool
	if dockerExec != nil {
		pool = container.NewPool(dockerExec, 8)
	}

	checkpointStore := checkpoint.NewStore(boot.BaseDir)

	scopeLoader := func(path string) error {
		_, err := loadScope(path, boot.ROEPath)
		return err
	}
	preflightRunner := preflight.NewRunner(dockerPinger{dockerExec}, scopeLoader, boot.BaseDir, boot.AuditLogPath)

	eventBus := bus.New()

	limits := settingsMgr.Current().Limits
	mgr := session.NewManager(limits, preflightRunner, checkpointStore, eventBus)

	signaler, err := killswitch.NewProcessGroupSignaler()
	if err != nil {
		logger.Printf("killswitch: process group signaler unavailable: %v", err)
	}
	var containerTerminator killswitch.ContainerTerminator
	if pool != nil {
		containerTerminator = pool
	}
	ks := killswitch.New(eventBus, signaler, containerTerminator)

	scopeHasher := func() string {
		hash, err := hashScopeFiles(boot.ScopeConfigPath, boot.ROEPath)
		if err != nil {
			logger.Printf("scope: hashing current scope failed: %v", err)
			return ""
		}
		return hash
	}

	var shutdownOnce sync.Once
	shutdownCh := make(chan struct{})
	shutdown := func() {
		shutdownOnce.Do(func() { close(shutdownCh) })
	}

	reload := func() error {
		return settingsMgr.Reload()
	}

	router := ipc.NewRouter(mgr, scopeHasher, shutdown, reload)
	ipcServer := ipc.NewServer(ipc.Config{
		SocketPath:     boot.SocketPath,
		MaxConnections: boot.MaxConnections,
		ReadTimeout:    boot.ReadTimeout,
	}, router, logger)

	if err := ipcServer.Listen(); err != nil {
		logger.Fatalf("ipc: %v", err)
	}
	go func() {
		if err := ipcServer.Serve(); err != nil {
			logger.Printf("ipc: serve exited: %v", err)
		}
	}()

	gateway := buildGateway(settingsMgr.Current().LLM, boot.NIMAPIKey, logger)
	gateway.Start(ctx)
	defer gateway.Shutdown()

	tracerProvider, err := telemetry.InitTracerProvider(ctx, telemetry.TracerConfig{ServiceName: "cyberredd"})
	if err != nil {
		logger.Fatalf("telemetry: %v", err)
	}
	metrics := telemetry.New(tracerProvider)
	telemetry.StartSampler(ctx, metrics, gateway, 15*time.Second)

	metricsSrv := &http.Server{
		Addr:              "127.0.0.1:9090",
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("telemetry listening on %s", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("telemetry: %v", err)
		}
	}()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				if err := settingsMgr.Reload(); err != nil {
					logger.Printf("config: reload on SIGHUP failed: %v", err)
				}
				continue
			}
		case <-shutdownCh:
		}
		break
	}

	// An interrupt arriving while the graceful sequence runs is the
	// operator's panic trigger: skip the rest of the sequence and race the
	// kill switch's three termination paths directly.
	go func() {
		for s := range sig {
			if s == syscall.SIGHUP {
				continue
			}
			logger.Printf("second interrupt received, triggering kill switch")
			result := ks.Trigger("operator panic trigger", "signal")
			logger.Printf("kill switch: triggered at %s, paths=%+v", result.Triggered, result.Paths)
			os.Exit(1)
		}
	}()

	logger.Printf("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result := mgr.GracefulShutdown(shutdownCtx, scopeHasher())
	for _, failure := range result.Failures {
		logger.Printf("shutdown: %v", failure)
	}
	eventBus.Close()
	_ = ipcServer.Close()
	_ = metricsSrv.Close()
	if dockerExec != nil {
		_ = dockerExec.Close()
	}
	if err := auditLog.Seal(); err != nil {
		logger.Printf("audit: final seal failed: %v", err)
	}
	if len(result.Failures) > 0 || result.TimedOut {
		os.Exit(1)
	}
}

// dockerPinger adapts *container.Executor (possibly nil when Docker is
// unreachable at startup) into preflight.DockerPinger.
type dockerPinger struct{ exec *container.Executor }

func (d dockerPinger) Ping(ctx context.Context) error {
	if d.exec == nil {
		return os.ErrInvalid
	}
	return d.exec.Ping(ctx)
}

func loadScope(configPath, roePath string) (*scope.Config, error) {
	cfg, err := scope.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return scope.LoadROE(cfg, roePath)
}

// hashScopeFiles hashes the raw bytes of the base scope config and (if
// present) the ROE overlay, the same content-addressing approach the
// checkpoint store uses for its own signature.
func hashScopeFiles(configPath, roePath string) (string, error) {
	h := sha256.New()
	base, err := os.ReadFile(configPath)
	if err != nil {
		return "", err
	}
	h.Write(base)
	if roePath != "" {
		if roe, err := os.ReadFile(roePath); err == nil {
			h.Write(roe)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func buildGateway(policy config.LLMPolicy, nimAPIKey string, logger *log.Logger) *llm.Gateway {
	breaker := policy.NewCircuitBreaker()
	router := llm.NewRouter(breaker)

	for _, tier := range []llm.Tier{llm.TierFast, llm.TierStandard, llm.TierComplex} {
		if nimAPIKey != "" {
			provider, err := llm.NIMProviderForTier(tier, nimAPIKey)
			if err != nil {
				logger.Printf("llm: NIM provider for tier %s unavailable: %v", tier, err)
			} else {
				router.Register(tier, provider)
				continue
			}
		}
		router.Register(tier, llm.NewMockProvider(string(tier)+"-dev", 60))
	}

	return llm.NewGateway(router, breaker, policy.NewRateLimiter(), llm.DefaultRetryPolicy(), 0)
}
