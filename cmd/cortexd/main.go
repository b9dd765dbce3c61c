// Command cortexd is the orchestrator daemon: it loads configuration,
// opens the project repository and operational store, wires the LLM
// gateway and the five periodic workers (§4.6), and serves the HTTP
// status/control surface (§6.4) until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/cortex/internal/agentloop"
	"github.com/antigravity-dev/cortex/internal/api"
	"github.com/antigravity-dev/cortex/internal/config"
	"github.com/antigravity-dev/cortex/internal/drake"
	"github.com/antigravity-dev/cortex/internal/health"
	"github.com/antigravity-dev/cortex/internal/kobold"
	"github.com/antigravity-dev/cortex/internal/layout"
	"github.com/antigravity-dev/cortex/internal/llm"
	"github.com/antigravity-dev/cortex/internal/periodic"
	"github.com/antigravity-dev/cortex/internal/planningctx"
	"github.com/antigravity-dev/cortex/internal/plans"
	"github.com/antigravity-dev/cortex/internal/projects"
	"github.com/antigravity-dev/cortex/internal/specversion"
	"github.com/antigravity-dev/cortex/internal/store"
	"github.com/antigravity-dev/cortex/internal/tasks"
	"github.com/antigravity-dev/cortex/internal/tools"
	"github.com/antigravity-dev/cortex/internal/verifier"
	"github.com/antigravity-dev/cortex/internal/wyrm"
	"github.com/antigravity-dev/cortex/internal/wyvern"
)

func main() {
	configPath := flag.String("config", "cortex.toml", "path to the orchestrator TOML configuration")
	dev := flag.Bool("dev", false, "use human-readable text logging instead of JSON")
	disableProviderKind := flag.String("disable-provider-kind", "", "remove every configured provider of this kind from the config file and exit")
	setPeriodicInterval := flag.String("set-periodic-interval", "", "key=value: set a [periodic] interval in the config file and exit")
	flag.Parse()

	if *disableProviderKind != "" {
		changed, err := disableProviderKindInConfigFile(*configPath, *disableProviderKind)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("provider kind %q removed: %v\n", *disableProviderKind, changed)
		return
	}
	if *setPeriodicInterval != "" {
		key, value, ok := strings.Cut(*setPeriodicInterval, "=")
		if !ok {
			fmt.Fprintln(os.Stderr, "-set-periodic-interval requires key=value")
			os.Exit(1)
		}
		changed, err := setPeriodicIntervalInConfigFile(*configPath, key, value)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%s set to %s: %v\n", key, value, changed)
		return
	}

	logger := configureLogger(*dev)

	manager, err := config.LoadManager(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}
	cfg := manager.Get()
	logger = configureLoggerLevel(*dev, cfg.General.LogLevel)

	lockPath := filepath.Join(filepath.Dir(config.ExpandHome(cfg.General.StateDB)), "cortexd.lock")
	lockFile, err := health.AcquireFlock(lockPath)
	if err != nil {
		logger.Error("acquiring instance lock", "error", err)
		os.Exit(1)
	}
	defer health.ReleaseFlock(lockFile)

	watcher, err := config.WatchForReload(manager, *configPath, logger)
	if err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	root := layout.NewRoot(cfg.General.ProjectsPath)
	repo, err := projects.Load(root, uuid.NewString)
	if err != nil {
		logger.Error("loading project repository", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(config.ExpandHome(cfg.General.StateDB))
	if err != nil {
		logger.Error("opening operational store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	specTracker := specversion.New(repo)
	plansStore := plans.NewStore(root, cfg.General.DebounceInterval.Duration)
	defer plansStore.Close()
	planning := planningctx.New(root, cfg.General.PlanningContextMax, cfg.General.InsightHistoryCap)

	orch := &orchestrator{
		logger:       logger,
		manager:      manager,
		root:         root,
		repo:         repo,
		store:        st,
		specTracker:  specTracker,
		plans:        plansStore,
		planning:     planning,
		koboldFactory: drake.NewKoboldFactory(),
		drakes:       make(map[string]*drake.Drake),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services := orch.buildPeriodicServices()
	for _, svc := range services {
		go svc.Run(ctx)
	}

	apiSrv, err := api.NewServer(cfg, repo, st, logger, func() []api.TickStatus {
		out := make([]api.TickStatus, len(services))
		for i, svc := range services {
			out[i] = api.TickStatus{Name: svc.Name, Running: svc.IsRunning(), Interval: svc.Interval}
		}
		return out
	})
	if err != nil {
		logger.Error("building api server", "error", err)
		os.Exit(1)
	}
	defer apiSrv.Close()

	apiErrCh := make(chan error, 1)
	go func() { apiErrCh <- apiSrv.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-apiErrCh:
		if err != nil {
			logger.Error("api server exited", "error", err)
		}
	}

	cancel()
	orch.closeDrakes()
	if err := planning.PersistAllContexts(); err != nil {
		logger.Warn("persisting planning contexts on shutdown", "error", err)
	}
}

func configureLogger(dev bool) *slog.Logger {
	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return slog.New(handler)
}

// configureLoggerLevel rebuilds the logger once the configured log
// level is known (general.log_level isn't available before Load runs).
func configureLoggerLevel(dev bool, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	return slog.New(handler)
}

// tierGateway adapts llm.TierGateway.SendForTier to the llm.Gateway
// interface, binding a fixed purpose tier — agentloop.New needs a
// Gateway, but the tier gateway's single entry point carries a per-call
// tier argument (§9 "Provider purpose tiers").
type tierGateway struct {
	tg   *llm.TierGateway
	tier llm.Tier
}

func (g tierGateway) SendMessage(ctx context.Context, messages []llm.Message, toolSpecs []llm.ToolSpec, systemPrompt string) llm.Response {
	return g.tg.SendForTier(ctx, g.tier, messages, toolSpecs, systemPrompt)
}

// orchestrator bundles everything the periodic workers' ListEligible/
// ProcessOne closures need, plus the mutex-guarded Drake registry keyed
// by task file path (§9 "factories that track live instances become
// indexed stores" — reused here one layer up, for Drakes themselves).
type orchestrator struct {
	logger  *slog.Logger
	manager *config.RWMutexManager

	root        layout.Root
	repo        *projects.Repository
	store       *store.Store
	specTracker *specversion.Tracker
	plans       *plans.Store
	planning    *planningctx.Context

	koboldFactory *drake.KoboldFactory

	drakesMu sync.Mutex
	drakes   map[string]*drake.Drake
}

func (o *orchestrator) tierGateway() *llm.TierGateway {
	cfg := o.manager.Get()
	backends, errs := llm.BuildBackends(cfg)
	for _, e := range errs {
		o.logger.Warn("provider configuration error", "error", e)
	}
	return llm.NewTierGateway(llm.TiersFromConfig(cfg.Tiers), backends, o.logger,
		llm.WithRetryPolicy(llm.RetryPolicy{
			MaxRetries:    cfg.General.RetryPolicy.MaxRetries,
			InitialDelay:  cfg.General.RetryPolicy.InitialDelay.Duration,
			BackoffFactor: cfg.General.RetryPolicy.BackoffFactor,
			MaxDelay:      cfg.General.RetryPolicy.MaxDelay.Duration,
		}))
}

func (o *orchestrator) newLoop(tier llm.Tier, toolset []tools.Tool, systemPrompt, workingDir string, maxIter int) *agentloop.Loop {
	gw := tierGateway{tg: o.tierGateway(), tier: tier}
	registry := tools.NewRegistry(toolset...)
	dispatcher := tools.NewDispatcher(registry)
	return agentloop.New(gw, dispatcher, tools.ToolSpecs(registry.All()), systemPrompt, workingDir, maxIter)
}

func (o *orchestrator) buildPeriodicServices() []*periodic.Service {
	cfg := o.manager.Get()

	wyrmSvc := &periodic.Service{
		Name:        "wyrm",
		Interval:    cfg.Periodic.WyrmInterval.Duration,
		Concurrency: cfg.Periodic.WyrmConcurrency,
		Stagger:     periodic.Staggers[0],
		Logger:      o.logger,
		ListEligible: periodic.ListByStatus(o.repo, projects.StatusNew),
		ProcessOne:   o.processWyrm,
	}
	wyvernSvc := &periodic.Service{
		Name:        "wyvern",
		Interval:    cfg.Periodic.WyvernInterval.Duration,
		Concurrency: cfg.Periodic.WyvernConcurrency,
		Stagger:     periodic.Staggers[1],
		Logger:      o.logger,
		ListEligible: periodic.ListByStatus(o.repo, projects.StatusWyrmAssigned),
		ProcessOne:   o.processWyvern,
	}
	drakeExecSvc := &periodic.Service{
		Name:        "drake-execution",
		Interval:    cfg.Periodic.DrakeExecutionInterval.Duration,
		Concurrency: cfg.Periodic.DrakeExecutionConcurrency,
		Stagger:     periodic.Staggers[2],
		Logger:      o.logger,
		ListEligible: o.listDrakeExecutionEligible,
		ProcessOne:   o.processDrakeExecution,
	}
	drakeMonSvc := &periodic.Service{
		Name:        "drake-monitoring",
		Interval:    cfg.Periodic.DrakeMonitoringInterval.Duration,
		Concurrency: cfg.Periodic.DrakeMonitoringConcurrency,
		Logger:      o.logger,
		ListEligible: periodic.ListByStatus(o.repo, projects.StatusInProgress),
		ProcessOne:   o.processDrakeMonitoring,
	}
	verifySvc := &periodic.Service{
		Name:        "verification",
		Interval:    cfg.Periodic.VerificationInterval.Duration,
		Concurrency: cfg.Periodic.VerificationConcurrency,
		Logger:      o.logger,
		ListEligible: periodic.ListByStatus(o.repo, projects.StatusAwaitingVerification),
		ProcessOne:   o.processVerification,
	}

	return []*periodic.Service{wyrmSvc, wyvernSvc, drakeExecSvc, drakeMonSvc, verifySvc}
}

// processWyrm runs the Wyrm pre-analysis agent loop for one project in
// StatusNew (§4.7).
func (o *orchestrator) processWyrm(ctx context.Context, projectID string) error {
	p, err := o.repo.Get(projectID)
	if err != nil {
		return err
	}
	cfg := o.manager.Get()

	specBytes, err := os.ReadFile(o.root.Project(p.Name).SpecificationMD())
	if err != nil {
		return fmt.Errorf("reading specification.md: %w", err)
	}
	if _, _, err := o.specTracker.RecordIfChanged(p.ID, specBytes); err != nil {
		return fmt.Errorf("recording spec version: %w", err)
	}

	sandbox := tools.Sandbox{Workspace: o.root.Project(p.Name).Workspace()}
	loop := o.newLoop(llm.TierFast,
		[]tools.Tool{tools.ReadFileTool{Sandbox: sandbox}, tools.ListDirTool{Sandbox: sandbox}},
		wyrmSystemPrompt, o.root.Project(p.Name).Workspace(), cfg.General.AgentLoopMaxIter)

	_, err = wyrm.Run(ctx, wyrm.RunContext{
		Loop:          loop,
		Specification: string(specBytes),
		Persist: func(raw []byte) error {
			return os.WriteFile(o.root.Project(p.Name).WyrmRecommendationJSON(), raw, 0o644)
		},
		MarkAssigned: func() error {
			return o.repo.SetStatus(p.ID, projects.StatusWyrmAssigned)
		},
	})
	return err
}

// processWyvern runs the Wyvern task-graph analysis for one project in
// StatusWyrmAssigned (§4.7).
func (o *orchestrator) processWyvern(ctx context.Context, projectID string) error {
	p, err := o.repo.Get(projectID)
	if err != nil {
		return err
	}
	cfg := o.manager.Get()
	proj := o.root.Project(p.Name)

	specBytes, err := os.ReadFile(proj.SpecificationMD())
	if err != nil {
		return fmt.Errorf("reading specification.md: %w", err)
	}
	wyrmRec, err := os.ReadFile(proj.WyrmRecommendationJSON())
	if err != nil {
		return fmt.Errorf("reading wyrm-recommendation.json: %w", err)
	}

	activeVersion, _ := p.ActiveSpecVersion()

	sandbox := tools.Sandbox{Workspace: proj.Workspace()}
	loop := o.newLoop(llm.TierBalanced,
		[]tools.Tool{tools.ReadFileTool{Sandbox: sandbox}, tools.ListDirTool{Sandbox: sandbox}},
		wyvernSystemPrompt, proj.Workspace(), cfg.General.AgentLoopMaxIter)

	_, err = wyvern.Run(ctx, wyvern.RunContext{
		Loop:               loop,
		Specification:      string(specBytes),
		WyrmRecommendation: string(wyrmRec),
		ProjectID:          p.ID,
		SpecVersionID:      activeVersion.ID,
		PersistAnalysisJSON: func(raw []byte) error {
			return os.WriteFile(proj.AnalysisJSON(), raw, 0o644)
		},
		PersistAnalysisMD: func(md string) error {
			return os.WriteFile(proj.AnalysisMD(), []byte(md), 0o644)
		},
		PersistTaskFile: func(area, content string) (string, error) {
			path := proj.TaskFile(layout.SanitizeSlug(area))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err
			}
			return path, os.WriteFile(path, []byte(content), 0o644)
		},
		RegisterTaskFile: func(path string) error {
			return o.repo.AddTaskFile(p.ID, path)
		},
	})
	if err != nil {
		return err
	}
	return o.repo.SetStatus(p.ID, projects.StatusAnalyzed)
}

// drakeFor returns the live Drake for a task file, constructing and
// registering one if this is the first time it's seen this cycle.
func (o *orchestrator) drakeFor(projectID, taskFilePath string) (*drake.Drake, error) {
	o.drakesMu.Lock()
	defer o.drakesMu.Unlock()

	if d, ok := o.drakes[taskFilePath]; ok {
		return d, nil
	}

	cfg := o.manager.Get()
	d, err := drake.New(drake.Config{
		Name:         filepath.Base(taskFilePath),
		ProjectID:    projectID,
		TaskFilePath: taskFilePath,
		Factory:      o.koboldFactory,
		Planning:     o.planning,
		Logger:       o.logger,
		Load: func() (string, error) {
			raw, err := os.ReadFile(taskFilePath)
			return string(raw), err
		},
		Save: func(content string) error {
			return os.WriteFile(taskFilePath, []byte(content), 0o644)
		},
		DebounceWindow: cfg.General.DebounceInterval.Duration,
	})
	if err != nil {
		return nil, err
	}
	o.drakes[taskFilePath] = d
	return d, nil
}

func (o *orchestrator) closeDrakes() {
	o.drakesMu.Lock()
	defer o.drakesMu.Unlock()
	for path, d := range o.drakes {
		if err := d.UpdateTasksFile(); err != nil {
			o.logger.Warn("flushing task file on shutdown", "path", path, "error", err)
		}
		d.Close()
	}
}

// listDrakeExecutionEligible returns every project with task files still
// to work: both Analyzed (not yet entered InProgress) and InProgress
// (fix tasks from a failed verification, §4.8 step 6, land here too —
// "Drake execution will pick it up on its next cycle").
func (o *orchestrator) listDrakeExecutionEligible(ctx context.Context) ([]string, error) {
	var ids []string
	for _, p := range o.repo.List(projects.StatusAnalyzed) {
		ids = append(ids, p.ID)
	}
	for _, p := range o.repo.List(projects.StatusInProgress) {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// processDrakeExecution transitions one project from Analyzed to
// InProgress on first sight, then summons and runs one Kobold per
// unassigned task row across the project's task files, bounded by
// cfg.Periodic.DrakeWorkersPerProject (§4.6, §4.4, §4.5).
func (o *orchestrator) processDrakeExecution(ctx context.Context, projectID string) error {
	p, err := o.repo.Get(projectID)
	if err != nil {
		return err
	}
	if p.Status == projects.StatusAnalyzed {
		if err := o.repo.SetStatus(p.ID, projects.StatusInProgress); err != nil {
			return err
		}
		p.Status = projects.StatusInProgress
	}
	cfg := o.manager.Get()
	proj := o.root.Project(p.Name)

	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.Periodic.DrakeWorkersPerProject)
	var firstErr error
	var mu sync.Mutex

	for _, taskFilePath := range p.Paths.TaskFiles {
		d, err := o.drakeFor(p.ID, taskFilePath)
		if err != nil {
			o.logger.Error("loading drake", "taskFile", taskFilePath, "error", err)
			continue
		}
		for _, t := range d.UnassignedTasks() {
			t := t
			d := d
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := o.runKobold(ctx, p, proj, d, t); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					o.logger.Error("kobold run failed", "project", p.ID, "task", t.ID, "error", err)
				}
			}()
		}
	}
	wg.Wait()
	return firstErr
}

func (o *orchestrator) runKobold(ctx context.Context, p *projects.Project, proj layout.Project, d *drake.Drake, t tasks.Task) error {
	cfg := o.manager.Get()
	koboldID := uuid.NewString()
	agentType := t.AssignedAgentType
	if agentType == "" {
		agentType = "general"
	}
	if err := d.SummonKobold(koboldID, t.ID, agentType); err != nil {
		return err
	}

	sandbox := tools.Sandbox{Workspace: proj.Workspace()}
	loop := o.newLoop(llm.TierBalanced,
		[]tools.Tool{
			tools.ReadFileTool{Sandbox: sandbox},
			tools.WriteFileTool{Sandbox: sandbox},
			tools.ListDirTool{Sandbox: sandbox},
		},
		koboldSystemPrompt, proj.Workspace(), cfg.General.KoboldLoopMaxIter)

	activeVersion, _ := p.ActiveSpecVersion()
	start := time.Now()

	err := d.StartKoboldWork(ctx, koboldID, func(ctx context.Context, k *kobold.Kobold) error {
		return k.StartWork(ctx, kobold.RunContext{
			ProjectID:         p.ID,
			TaskID:            t.ID,
			AgentType:         agentType,
			ActiveSpecVersion: activeVersion.ID,
			OpeningPrompt:     koboldOpeningPrompt(t),
			Loop:              loop,
			Plans:             o.plans,
			PlanningContext:   o.planning,
			NewPlanID:         uuid.NewString,
			DefaultSteps:      []plans.Step{{Index: 0, Title: t.Description, Status: plans.StepPending}},
			SimilarInsightsK:  5,
		})
	})

	if k, ok := o.koboldFactory.Get(koboldID); ok {
		record := store.KoboldRunRecord{
			ProjectID:       p.ID,
			TaskID:          t.ID,
			KoboldID:        koboldID,
			AgentType:       agentType,
			Success:         k.IsSuccess(),
			DurationSeconds: time.Since(start).Seconds(),
			CompletedAt:     time.Now(),
			ErrorMessage:    k.ErrorMessage(),
		}
		if rerr := o.store.RecordKoboldRun(record); rerr != nil {
			o.logger.Warn("recording kobold run", "error", rerr)
		}
	}
	return err
}

func koboldOpeningPrompt(t tasks.Task) func(remaining []plans.Step, insights []planningctx.PlanningInsight, filesInUse bool) string {
	return func(remaining []plans.Step, insights []planningctx.PlanningInsight, filesInUse bool) string {
		var b strings.Builder
		fmt.Fprintf(&b, "Task %s: %s\n", t.ID, t.Description)
		if filesInUse {
			b.WriteString("Note: one or more files this task touches are currently being modified by another agent.\n")
		}
		for _, s := range remaining {
			fmt.Fprintf(&b, "Step %d: %s\n", s.Index, s.Title)
		}
		for _, ins := range insights {
			fmt.Fprintf(&b, "Prior similar task by %s: success=%v\n", ins.AgentType, ins.Success)
		}
		return b.String()
	}
}

// processDrakeMonitoring syncs Kobold status into every task file the
// project owns and reaps stuck or completed Kobolds (§4.5, §4.6).
func (o *orchestrator) processDrakeMonitoring(ctx context.Context, projectID string) error {
	p, err := o.repo.Get(projectID)
	if err != nil {
		return err
	}
	cfg := o.manager.Get()
	timeout := cfg.General.StuckKoboldTimeout.Duration

	for _, taskFilePath := range p.Paths.TaskFiles {
		d, err := o.drakeFor(p.ID, taskFilePath)
		if err != nil {
			o.logger.Error("loading drake", "taskFile", taskFilePath, "error", err)
			continue
		}
		d.MonitorTasks()
		d.HandleStuckKobolds(timeout)
		d.UnsummonCompletedKobolds()
		if err := d.UpdateTasksFile(); err != nil {
			o.logger.Warn("updating task file", "taskFile", taskFilePath, "error", err)
		}
	}
	return nil
}

// processVerification runs the verification pipeline for one project in
// StatusAwaitingVerification (§4.8).
func (o *orchestrator) processVerification(ctx context.Context, projectID string) error {
	p, err := o.repo.Get(projectID)
	if err != nil {
		return err
	}
	cfg := o.manager.Get()
	proj := o.root.Project(p.Name)

	start := time.Now()
	state, err := verifier.Run(ctx, verifier.RunContext{
		Workspace: proj.Workspace(),
		Config: verifier.Config{
			Enabled:                 cfg.Verification.Enabled,
			TimeoutSeconds:          cfg.Verification.TimeoutSeconds,
			AutoCreateFixTasks:      cfg.Verification.AutoCreateFixTasks,
			RequireAllChecksPassing: cfg.Verification.RequireAllChecksPassing,
			SkipForImportedProjects: cfg.Verification.SkipForImportedProjects,
			UseContainer:            cfg.Verification.UseContainer,
			ContainerImage:          cfg.Verification.ContainerImage,
		},
		PersistReport: func(report string) error {
			return os.WriteFile(filepath.Join(proj.Workspace(), "verification-report.md"), []byte(report), 0o644)
		},
		PersistFixTasks: func(content string) (string, error) {
			path := proj.VerificationFixesTaskFile()
			return path, os.WriteFile(path, []byte(content), 0o644)
		},
		RegisterFixTasks: func(path string) error {
			return o.repo.AddTaskFile(p.ID, path)
		},
		SetVerification: func(v projects.VerificationState) error {
			return o.repo.SetVerification(p.ID, v)
		},
		TransitionTo: func(s projects.Status) error {
			return o.repo.SetStatus(p.ID, s)
		},
	})
	if err != nil {
		return err
	}

	passed, failed := 0, 0
	for _, c := range state.Checks {
		if c.Passed {
			passed++
		} else {
			failed++
		}
	}
	record := store.VerificationRunRecord{
		ProjectID:    p.ID,
		Status:       string(state.Status),
		ChecksPassed: passed,
		ChecksFailed: failed,
		StartedAt:    start,
		CompletedAt:  time.Now(),
	}
	if err := o.store.RecordVerificationRun(record); err != nil {
		o.logger.Warn("recording verification run", "error", err)
	}
	return nil
}

const wyrmSystemPrompt = `You are Wyrm, the pre-analysis agent. Read the project specification and ` +
	`emit a single JSON object with at least "detectedLanguages" and "suggestedAgentTypes". ` +
	`Optionally include "verificationSteps" with explicit build/test commands.`

const wyvernSystemPrompt = `You are Wyvern, the task-graph analysis agent. Read the specification and ` +
	`Wyrm's recommendation, then emit a single JSON object describing the project's areas and their tasks.`

const koboldSystemPrompt = `You are a Kobold, a single-task implementation agent. Complete exactly the ` +
	`task described below using the read_file/write_file/list_dir tools, then stop.`
