package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// MonitorStats is an aggregated view of the orchestrator's monitoring
// activity, read back from a Prometheus server.
type MonitorStats struct {
	PollsByOutcome    map[string]int64 `json:"polls_by_outcome"`
	LoopsByState      map[string]int64 `json:"loops_by_state"`
	MissionsByVerdict map[string]int64 `json:"missions_by_verdict"`
}

// QueryService reads orchestrator metrics back from Prometheus. Used by
// the stats mode of the binary, not by the pipeline itself.
type QueryService struct {
	queryAPI v1.API
}

func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// MonitorStats aggregates poll outcomes, terminal loop states, and mission
// verdicts.
func (q *QueryService) MonitorStats(ctx context.Context) (*MonitorStats, error) {
	stats := &MonitorStats{
		PollsByOutcome:    make(map[string]int64),
		LoopsByState:      make(map[string]int64),
		MissionsByVerdict: make(map[string]int64),
	}

	if err := q.sumByLabel(ctx, `sum by (outcome) (monitor_polls_total)`, "outcome", stats.PollsByOutcome); err != nil {
		return nil, err
	}
	if err := q.sumByLabel(ctx, `sum by (state) (monitor_outcomes_total)`, "state", stats.LoopsByState); err != nil {
		return nil, err
	}
	if err := q.sumByLabel(ctx, `sum by (status) (missions_resolved_total)`, "status", stats.MissionsByVerdict); err != nil {
		return nil, err
	}
	return stats, nil
}

func (q *QueryService) sumByLabel(ctx context.Context, query, label string, out map[string]int64) error {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return fmt.Errorf("query %q: %w", query, err)
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return fmt.Errorf("query %q: unexpected result type %T", query, result)
	}
	for _, sample := range vector {
		out[string(sample.Metric[model.LabelName(label)])] = int64(sample.Value)
	}
	return nil
}
