package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"missionctl/pkg/logx"
	"missionctl/pkg/mission"
)

// PostgresStore implements Store on a postgres database via pgx.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logx.Logger
}

// NewPostgresStore connects to the given DSN and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logger := logx.NewLogger("persistence")
	logger.Info("postgres store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func jsonColumn(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil //nolint:nilnil // NULL column value
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	str := string(data)
	return &str, nil
}

func fromJSONColumn(s *string) (map[string]any, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(*s), &m); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) Put(ctx context.Context, m *mission.Mission) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin put transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO missions (mission_id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (mission_id) DO UPDATE SET
			user_id = excluded.user_id,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, m.MissionID, m.UserID, string(m.Status), m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert mission %s: %w", m.MissionID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM mission_tasks WHERE mission_id = $1`, m.MissionID); err != nil {
		return fmt.Errorf("clear tasks for mission %s: %w", m.MissionID, err)
	}

	for i := range m.Tasks {
		t := &m.Tasks[i]
		params, err := jsonColumn(t.Parameters)
		if err != nil {
			return err
		}
		result, err := jsonColumn(t.Result)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO mission_tasks (mission_id, task_id, position, agent, action, parameters, status, result, started_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, m.MissionID, t.TaskID, i, t.Agent, t.Action, params, string(t.Status), result, t.StartedAt, t.CompletedAt)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.TaskID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit put transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, missionID string) (*mission.Mission, error) {
	var m mission.Mission
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT mission_id, user_id, status, created_at, updated_at
		FROM missions WHERE mission_id = $1
	`, missionID).Scan(&m.MissionID, &m.UserID, &status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query mission %s: %w", missionID, err)
	}
	m.Status = mission.Status(status)

	rows, err := s.pool.Query(ctx, `
		SELECT task_id, agent, action, parameters::text, status, result::text, started_at, completed_at
		FROM mission_tasks WHERE mission_id = $1 ORDER BY position
	`, missionID)
	if err != nil {
		return nil, fmt.Errorf("query tasks for %s: %w", missionID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var t mission.Task
		var taskStatus string
		var params, result *string
		var startedAt, completedAt *time.Time
		if err := rows.Scan(&t.TaskID, &t.Agent, &t.Action, &params, &taskStatus, &result, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.Status = mission.Status(taskStatus)
		if t.Parameters, err = fromJSONColumn(params); err != nil {
			return nil, err
		}
		if t.Result, err = fromJSONColumn(result); err != nil {
			return nil, err
		}
		t.StartedAt = startedAt
		t.CompletedAt = completedAt
		m.Tasks = append(m.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, missionID, taskID string, status mission.Status, result map[string]any) error {
	resultJSON, err := jsonColumn(result)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var startedAt, completedAt *time.Time
	if status == mission.StatusInProgress {
		startedAt = &now
	}
	if status.IsTerminal() {
		completedAt = &now
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE mission_tasks SET
			status = $1,
			result = COALESCE($2::jsonb, result),
			started_at = COALESCE(started_at, $3),
			completed_at = COALESCE(completed_at, $4)
		WHERE mission_id = $5 AND task_id = $6
		  AND (status NOT IN ('completed', 'failed') OR status = $1)
	`, string(status), resultJSON, startedAt, completedAt, missionID, taskID)
	if err != nil {
		return fmt.Errorf("update task %s/%s: %w", missionID, taskID, err)
	}

	if tag.RowsAffected() == 0 {
		var existing string
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM mission_tasks WHERE mission_id = $1 AND task_id = $2`,
			missionID, taskID).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			if _, merr := s.Get(ctx, missionID); merr != nil {
				return ErrMissionNotFound
			}
			return ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("inspect task %s/%s: %w", missionID, taskID, err)
		}
		return ErrTerminalConflict
	}

	if _, err := s.pool.Exec(ctx, `UPDATE missions SET updated_at = $1 WHERE mission_id = $2`, now, missionID); err != nil {
		return fmt.Errorf("touch mission %s: %w", missionID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateMissionStatus(ctx context.Context, missionID string, status mission.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE missions SET status = $1, updated_at = $2 WHERE mission_id = $3`,
		string(status), time.Now().UTC(), missionID)
	if err != nil {
		return fmt.Errorf("update mission status %s: %w", missionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMissionNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteMission(ctx context.Context, missionID string, status mission.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE missions SET status = $1, updated_at = $2
		WHERE mission_id = $3 AND status NOT IN ('completed', 'failed')
	`, string(status), time.Now().UTC(), missionID)
	if err != nil {
		return false, fmt.Errorf("complete mission %s: %w", missionID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM missions WHERE mission_id = $1`, missionID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrMissionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("inspect mission %s: %w", missionID, err)
	}
	return false, nil
}

func (s *PostgresStore) PutRecord(ctx context.Context, rec *mission.MonitorRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitor_records (mission_id, task_id, target_value, state, last_observed_value, retry_count, start_time, expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (mission_id) DO UPDATE SET
			task_id = excluded.task_id,
			target_value = excluded.target_value,
			state = excluded.state,
			last_observed_value = excluded.last_observed_value,
			retry_count = excluded.retry_count,
			start_time = excluded.start_time,
			expiry = excluded.expiry
	`, rec.MissionID, rec.TaskID, rec.TargetValue, string(rec.State), rec.LastObservedValue, rec.RetryCount, rec.StartTime.UTC(), rec.Expiry.UTC())
	if err != nil {
		return fmt.Errorf("put monitor record %s: %w", rec.MissionID, err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, missionID string) (*mission.MonitorRecord, error) {
	var rec mission.MonitorRecord
	var state string
	err := s.pool.QueryRow(ctx, `
		SELECT mission_id, task_id, target_value, state, last_observed_value, retry_count, start_time, expiry
		FROM monitor_records WHERE mission_id = $1
	`, missionID).Scan(&rec.MissionID, &rec.TaskID, &rec.TargetValue, &state, &rec.LastObservedValue, &rec.RetryCount, &rec.StartTime, &rec.Expiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query monitor record %s: %w", missionID, err)
	}
	rec.State = mission.MonitorState(state)
	return &rec, nil
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, rec *mission.MonitorRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE monitor_records SET
			task_id = $1, target_value = $2, state = $3, last_observed_value = $4, retry_count = $5, start_time = $6, expiry = $7
		WHERE mission_id = $8
	`, rec.TaskID, rec.TargetValue, string(rec.State), rec.LastObservedValue, rec.RetryCount, rec.StartTime.UTC(), rec.Expiry.UTC(), rec.MissionID)
	if err != nil {
		return fmt.Errorf("update monitor record %s: %w", rec.MissionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, missionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM monitor_records WHERE mission_id = $1`, missionID); err != nil {
		return fmt.Errorf("delete monitor record %s: %w", missionID, err)
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context) ([]mission.MonitorRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT mission_id, task_id, target_value, state, last_observed_value, retry_count, start_time, expiry
		FROM monitor_records ORDER BY start_time
	`)
	if err != nil {
		return nil, fmt.Errorf("list monitor records: %w", err)
	}
	defer rows.Close()

	var records []mission.MonitorRecord
	for rows.Next() {
		var rec mission.MonitorRecord
		var state string
		if err := rows.Scan(&rec.MissionID, &rec.TaskID, &rec.TargetValue, &state, &rec.LastObservedValue, &rec.RetryCount, &rec.StartTime, &rec.Expiry); err != nil {
			return nil, fmt.Errorf("scan monitor record: %w", err)
		}
		rec.State = mission.MonitorState(state)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitor records: %w", err)
	}
	return records, nil
}
