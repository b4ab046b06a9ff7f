package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"missionctl/pkg/logx"
	"missionctl/pkg/mission"
)

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists. WAL mode and a busy timeout keep concurrent readers happy
// with sqlite's single writer.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	// sqlite supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("sqlite store ready: %s", dbPath)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite database: %w", err)
	}
	return nil
}

func marshalJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil //nolint:nilnil // NULL column value
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return m, nil
}

// Put upserts the mission row and replaces its task rows.
func (s *SQLiteStore) Put(ctx context.Context, m *mission.Mission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO missions (mission_id, user_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(mission_id) DO UPDATE SET
			user_id = excluded.user_id,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, m.MissionID, m.UserID, string(m.Status), m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert mission %s: %w", m.MissionID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM mission_tasks WHERE mission_id = ?`, m.MissionID); err != nil {
		return fmt.Errorf("clear tasks for mission %s: %w", m.MissionID, err)
	}

	for i := range m.Tasks {
		t := &m.Tasks[i]
		params, err := marshalJSON(t.Parameters)
		if err != nil {
			return err
		}
		result, err := marshalJSON(t.Result)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO mission_tasks (mission_id, task_id, position, agent, action, parameters, status, result, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.MissionID, t.TaskID, i, t.Agent, t.Action, params, string(t.Status), result, t.StartedAt, t.CompletedAt)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.TaskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put transaction: %w", err)
	}
	return nil
}

// Get loads a mission and its tasks in plan order.
func (s *SQLiteStore) Get(ctx context.Context, missionID string) (*mission.Mission, error) {
	var m mission.Mission
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT mission_id, user_id, status, created_at, updated_at
		FROM missions WHERE mission_id = ?
	`, missionID).Scan(&m.MissionID, &m.UserID, &status, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query mission %s: %w", missionID, err)
	}
	m.Status = mission.Status(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, agent, action, parameters, status, result, started_at, completed_at
		FROM mission_tasks WHERE mission_id = ? ORDER BY position
	`, missionID)
	if err != nil {
		return nil, fmt.Errorf("query tasks for %s: %w", missionID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var t mission.Task
		var taskStatus string
		var params, result sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&t.TaskID, &t.Agent, &t.Action, &params, &taskStatus, &result, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.Status = mission.Status(taskStatus)
		if t.Parameters, err = unmarshalJSON(params); err != nil {
			return nil, err
		}
		if t.Result, err = unmarshalJSON(result); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			ts := startedAt.Time
			t.StartedAt = &ts
		}
		if completedAt.Valid {
			ts := completedAt.Time
			t.CompletedAt = &ts
		}
		m.Tasks = append(m.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}

	return &m, nil
}

// UpdateTaskStatus applies the conditional, first-terminal-write-wins update
// described on the MissionStore interface.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, missionID, taskID string, status mission.Status, result map[string]any) error {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var startedAt, completedAt any
	if status == mission.StatusInProgress {
		startedAt = now
	}
	if status.IsTerminal() {
		completedAt = now
	}

	// The WHERE guard admits non-terminal rows plus the idempotent case of
	// rewriting the same terminal status.
	res, err := s.db.ExecContext(ctx, `
		UPDATE mission_tasks SET
			status = ?,
			result = COALESCE(?, result),
			started_at = COALESCE(started_at, ?),
			completed_at = COALESCE(completed_at, ?)
		WHERE mission_id = ? AND task_id = ?
		  AND (status NOT IN ('completed', 'failed') OR status = ?)
	`, string(status), resultJSON, startedAt, completedAt, missionID, taskID, string(status))
	if err != nil {
		return fmt.Errorf("update task %s/%s: %w", missionID, taskID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for task %s/%s: %w", missionID, taskID, err)
	}
	if affected == 0 {
		return s.classifyTaskUpdateFailure(ctx, missionID, taskID)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE missions SET updated_at = ? WHERE mission_id = ?`, now, missionID); err != nil {
		return fmt.Errorf("touch mission %s: %w", missionID, err)
	}
	return nil
}

// classifyTaskUpdateFailure distinguishes a missing row from a rejected
// terminal overwrite after a guarded update matched nothing.
func (s *SQLiteStore) classifyTaskUpdateFailure(ctx context.Context, missionID, taskID string) error {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM mission_tasks WHERE mission_id = ? AND task_id = ?`,
		missionID, taskID).Scan(&existing)
	if err == sql.ErrNoRows {
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

// UpdateMissionStatus sets the mission status and updated_at.
func (s *SQLiteStore) UpdateMissionStatus(ctx context.Context, missionID string, status mission.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET status = ?, updated_at = ? WHERE mission_id = ?`,
		string(status), time.Now().UTC(), missionID)
	if err != nil {
		return fmt.Errorf("update mission status %s: %w", missionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for mission %s: %w", missionID, err)
	}
	if affected == 0 {
		return ErrMissionNotFound
	}
	return nil
}

// CompleteMission performs the conditional non-terminal → terminal
// transition and reports whether this call won it.
func (s *SQLiteStore) CompleteMission(ctx context.Context, missionID string, status mission.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE missions SET status = ?, updated_at = ?
		WHERE mission_id = ? AND status NOT IN ('completed', 'failed')
	`, string(status), time.Now().UTC(), missionID)
	if err != nil {
		return false, fmt.Errorf("complete mission %s: %w", missionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected completing %s: %w", missionID, err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM missions WHERE mission_id = ?`, missionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, ErrMissionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("inspect mission %s: %w", missionID, err)
	}
	return false, nil
}

// PutRecord upserts a monitor record.
func (s *SQLiteStore) PutRecord(ctx context.Context, rec *mission.MonitorRecord) error {
	var observed any
	if rec.LastObservedValue != nil {
		observed = *rec.LastObservedValue
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_records (mission_id, task_id, target_value, state, last_observed_value, retry_count, start_time, expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mission_id) DO UPDATE SET
			task_id = excluded.task_id,
			target_value = excluded.target_value,
			state = excluded.state,
			last_observed_value = excluded.last_observed_value,
			retry_count = excluded.retry_count,
			start_time = excluded.start_time,
			expiry = excluded.expiry
	`, rec.MissionID, rec.TaskID, rec.TargetValue, string(rec.State), observed, rec.RetryCount, rec.StartTime.UTC(), rec.Expiry.UTC())
	if err != nil {
		return fmt.Errorf("put monitor record %s: %w", rec.MissionID, err)
	}
	return nil
}

// GetRecord returns the monitor record or ErrRecordNotFound.
func (s *SQLiteStore) GetRecord(ctx context.Context, missionID string) (*mission.MonitorRecord, error) {
	var rec mission.MonitorRecord
	var state string
	var observed sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT mission_id, task_id, target_value, state, last_observed_value, retry_count, start_time, expiry
		FROM monitor_records WHERE mission_id = ?
	`, missionID).Scan(&rec.MissionID, &rec.TaskID, &rec.TargetValue, &state, &observed, &rec.RetryCount, &rec.StartTime, &rec.Expiry)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query monitor record %s: %w", missionID, err)
	}
	rec.State = mission.MonitorState(state)
	if observed.Valid {
		v := int(observed.Int64)
		rec.LastObservedValue = &v
	}
	return &rec, nil
}

// UpdateRecord overwrites an existing monitor record.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, rec *mission.MonitorRecord) error {
	var observed any
	if rec.LastObservedValue != nil {
		observed = *rec.LastObservedValue
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE monitor_records SET
			task_id = ?, target_value = ?, state = ?, last_observed_value = ?, retry_count = ?, start_time = ?, expiry = ?
		WHERE mission_id = ?
	`, rec.TaskID, rec.TargetValue, string(rec.State), observed, rec.RetryCount, rec.StartTime.UTC(), rec.Expiry.UTC(), rec.MissionID)
	if err != nil {
		return fmt.Errorf("update monitor record %s: %w", rec.MissionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for record %s: %w", rec.MissionID, err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteRecord removes the record; deleting a missing record is not an error.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, missionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM monitor_records WHERE mission_id = ?`, missionID); err != nil {
		return fmt.Errorf("delete monitor record %s: %w", missionID, err)
	}
	return nil
}

// ListRecords returns all monitor records, oldest first.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]mission.MonitorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var observed sql.NullInt64
		if err := rows.Scan(&rec.MissionID, &rec.TaskID, &rec.TargetValue, &state, &observed, &rec.RetryCount, &rec.StartTime, &rec.Expiry); err != nil {
			return nil, fmt.Errorf("scan monitor record: %w", err)
		}
		rec.State = mission.MonitorState(state)
		if observed.Valid {
			v := int(observed.Int64)
			rec.LastObservedValue = &v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitor records: %w", err)
	}
	return records, nil
}
