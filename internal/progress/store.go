package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lessongate/lessongate/internal/database"
)

// Store persists progress in Postgres with the same ratchet as Reconciler, so
// writes that arrive out of order can never lower the stored percent.
type Store struct {
	db database.DBTX
}

func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

// Load returns the stored progress, or the zero State if none exists yet.
func (s *Store) Load(ctx context.Context, lessonID, learnerID string) (State, error) {
	var st State
	err := s.db.QueryRow(ctx,
		`SELECT watched_percent, last_position_ms, updated_at
		 FROM lesson_progress WHERE lesson_id = $1 AND learner_id = $2`,
		lessonID, learnerID,
	).Scan(&st.WatchedPercent, &st.LastPositionMs, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load progress: %w", err)
	}
	return st, nil
}

// Save applies percent and positionMs and reports the stored percent before
// and after the write.
func (s *Store) Save(ctx context.Context, lessonID, learnerID string, percent float64, positionMs int64) (prev, cur float64, err error) {
	err = s.db.QueryRow(ctx,
		`WITH prev AS (
		     SELECT watched_percent FROM lesson_progress WHERE lesson_id = $1 AND learner_id = $2
		 )
		 INSERT INTO lesson_progress (lesson_id, learner_id, watched_percent, last_position_ms, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (lesson_id, learner_id) DO UPDATE SET
		     watched_percent = GREATEST(lesson_progress.watched_percent, EXCLUDED.watched_percent),
		     last_position_ms = CASE WHEN EXCLUDED.watched_percent > lesson_progress.watched_percent
		                             THEN EXCLUDED.last_position_ms ELSE lesson_progress.last_position_ms END,
		     updated_at = now()
		 RETURNING COALESCE((SELECT watched_percent FROM prev), 0), watched_percent`,
		lessonID, learnerID, clamp(percent), max(positionMs, 0),
	).Scan(&prev, &cur)
	if err != nil {
		return 0, 0, fmt.Errorf("save progress: %w", err)
	}
	return prev, cur, nil
}

// RecordMilestone stores milestone once per (lesson, learner). It reports
// whether this call was the first to record it.
func (s *Store) RecordMilestone(ctx context.Context, lessonID, learnerID string, milestone int) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO lesson_milestones (lesson_id, learner_id, milestone) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		lessonID, learnerID, milestone,
	)
	if err != nil {
		return false, fmt.Errorf("record milestone: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
