// missionctl runs the mission orchestrator: dispatcher, completion
// aggregator, monitoring supervisor, and a set of in-process worker agents
// driving a simulated elevator.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"missionctl/internal/supervisor"
	"missionctl/pkg/agent"
	"missionctl/pkg/completion"
	"missionctl/pkg/config"
	"missionctl/pkg/demo"
	"missionctl/pkg/dispatch"
	"missionctl/pkg/eventlog"
	"missionctl/pkg/logx"
	"missionctl/pkg/metrics"
	"missionctl/pkg/mission"
	"missionctl/pkg/monitor"
	"missionctl/pkg/notify"
	"missionctl/pkg/persistence"
	"missionctl/pkg/planfile"
	"missionctl/pkg/proto"
)

const shutdownGrace = 10 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON config file (defaults apply if empty)")
		planPath   = flag.String("plan", "", "mission plan YAML to submit at startup")
		demoMode   = flag.Bool("demo", false, "run a canned elevator mission and exit when it resolves")
		statsURL   = flag.String("stats", "", "query monitoring stats from a Prometheus server at this URL and exit")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *debug {
		logx.SetDebug(true)
	}

	if *statsURL != "" {
		if err := printStats(*statsURL); err != nil {
			fmt.Fprintf(os.Stderr, "missionctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath, *planPath, *demoMode); err != nil {
		fmt.Fprintf(os.Stderr, "missionctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, planPath string, demoMode bool) error {
	logger := logx.NewLogger("missionctl")

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := persistence.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var recorder metrics.Recorder = metrics.NopRecorder{}
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder()
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	var events *eventlog.Writer
	if cfg.EventLogDir != "" {
		events, err = eventlog.NewWriter(cfg.EventLogDir)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer events.Close()
	}

	results := make(chan *proto.Envelope, cfg.Dispatch.ResultsSize)
	publisher := notify.NewChannelPublisher(store, results, recorder)
	aggregator := completion.NewAggregator(store, publisher, recorder)
	dispatcher := dispatch.NewDispatcher(cfg.Dispatch, store, aggregator, events, recorder)

	elevator := demo.NewElevator(1)
	monitors := monitor.NewSupervisor(cfg.Monitor, store, elevator, publisher, aggregator, recorder)

	worker := agent.NewWorker("elevator-agent", dispatcher)
	worker.Register("call_elevator", demo.NewCallExecutor(elevator))
	worker.Register("await_arrival", agent.NewAwaitExecutor(monitors))
	worker.Start(ctx, dispatcher.Attach(worker.ID()))

	if err := dispatcher.Start(ctx); err != nil {
		return err
	}

	// Pick up monitoring loops a previous process left behind.
	recovery := supervisor.New(store, monitors, publisher, aggregator)
	if resumed, err := recovery.Recover(ctx); err != nil {
		logger.Warn("monitor recovery: %v", err)
	} else if resumed > 0 {
		logger.Info("resumed %d monitoring loop(s)", resumed)
	}

	resolved := make(chan string, 1)
	go drainResults(ctx, results, logger, resolved)

	var demoMission string
	switch {
	case planPath != "":
		demoMission, err = submitPlan(dispatcher, planPath)
		if err != nil {
			return err
		}
		logger.Info("submitted mission %s from %s", demoMission, planPath)
	case demoMode:
		demoMission, err = submitDemoMission(dispatcher)
		if err != nil {
			return err
		}
		logger.Info("submitted demo mission %s", demoMission)
	}

	if demoMode || planPath != "" {
		// Exit once the submitted mission resolves.
		for {
			select {
			case id := <-resolved:
				if id == demoMission {
					return shutdown(dispatcher, monitors, logger)
				}
			case <-ctx.Done():
				return shutdown(dispatcher, monitors, logger)
			}
		}
	}

	<-ctx.Done()
	return shutdown(dispatcher, monitors, logger)
}

func shutdown(dispatcher *dispatch.Dispatcher, monitors *monitor.Supervisor, logger *logx.Logger) error {
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := dispatcher.Stop(ctx); err != nil {
		logger.Warn("dispatcher stop: %v", err)
	}
	if err := monitors.Stop(ctx); err != nil {
		logger.Warn("monitor stop: %v", err)
	}
	return nil
}

// printStats reads aggregated monitoring metrics back from Prometheus.
func printStats(prometheusURL string) error {
	svc, err := metrics.NewQueryService(prometheusURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := svc.MonitorStats(ctx)
	if err != nil {
		return err
	}
	fmt.Println("polls by outcome:")
	for outcome, n := range stats.PollsByOutcome {
		fmt.Printf("  %-12s %d\n", outcome, n)
	}
	fmt.Println("loops by terminal state:")
	for state, n := range stats.LoopsByState {
		fmt.Printf("  %-12s %d\n", state, n)
	}
	fmt.Println("missions by verdict:")
	for verdict, n := range stats.MissionsByVerdict {
		fmt.Printf("  %-12s %d\n", verdict, n)
	}
	return nil
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server: %v", err)
	}
}

// drainResults logs outbound results and notifications, and reports
// resolved mission IDs so demo runs know when to exit.
func drainResults(ctx context.Context, results <-chan *proto.Envelope, logger *logx.Logger, resolved chan<- string) {
	for {
		select {
		case env := <-results:
			switch env.Kind {
			case proto.MsgKindMissionResult:
				p, err := env.DecodeMissionResult()
				if err != nil {
					logger.Error("malformed result %s: %v", env.ID, err)
					continue
				}
				logger.Info("mission %s for %s finished %s", p.MissionID, p.UserID, p.Status)
				select {
				case resolved <- p.MissionID:
				default:
				}
			case proto.MsgKindNotification:
				p, err := env.DecodeNotification()
				if err != nil {
					logger.Error("malformed notification %s: %v", env.ID, err)
					continue
				}
				logger.Info("notify %s [%s]: %s", p.UserID, p.NotificationType, p.Message)
			default:
				logger.Warn("unexpected %s on results channel", env.Kind)
			}
		case <-ctx.Done():
			return
		}
	}
}

func submitPlan(dispatcher *dispatch.Dispatcher, path string) (string, error) {
	plan, err := planfile.Load(path)
	if err != nil {
		return "", err
	}
	payload := plan.ToPayload()
	env, err := proto.NewEnvelope(proto.MsgKindMission, "planner", "dispatcher", payload)
	if err != nil {
		return "", err
	}
	return payload.MissionID, dispatcher.DispatchMessage(env)
}

// submitDemoMission sends the elevator to floor 5 and waits for arrival.
func submitDemoMission(dispatcher *dispatch.Dispatcher) (string, error) {
	payload := &proto.MissionPayload{
		MissionID: mission.GenerateMissionID(),
		UserID:    "demo-user",
		CreatedAt: time.Now().UTC(),
		Tasks: []mission.Task{
			{
				TaskID:     mission.GenerateTaskID(),
				Agent:      "elevator-agent",
				Action:     "call_elevator",
				Parameters: map[string]any{"target_value": 5},
				Status:     mission.StatusPending,
			},
			{
				TaskID:     mission.GenerateTaskID(),
				Agent:      "elevator-agent",
				Action:     "await_arrival",
				Parameters: map[string]any{"target_value": 5},
				Status:     mission.StatusPending,
			},
		},
	}
	env, err := proto.NewEnvelope(proto.MsgKindMission, "planner", "dispatcher", payload)
	if err != nil {
		return "", err
	}
	return payload.MissionID, dispatcher.DispatchMessage(env)
}
