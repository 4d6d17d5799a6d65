package lesson

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lessongate/lessongate/internal/database"
	"github.com/lessongate/lessongate/internal/gate"
)

// Video is what a lesson stores about its video. URL and StorageKey are
// mutually optional; a lesson with neither has no video.
type Video struct {
	URL             string
	ProviderHint    string
	StorageKey      string
	DurationSeconds float64
}

func (v Video) Present() bool {
	return v.URL != "" || v.StorageKey != ""
}

type Repository struct {
	db database.DBTX
}

func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Requirements builds the learner's snapshot for a lesson. A passed attempt
// counts even if a later attempt failed.
func (r *Repository) Requirements(ctx context.Context, lessonID, learnerID string) (gate.Requirements, error) {
	var (
		req                gate.Requirements
		tacticsTotal       int
		hasAssessment      bool
		assessmentRequired bool
		passingScore       int
		assessmentStatus   string
	)
	err := r.db.QueryRow(ctx,
		`SELECT
		     (l.video_url IS NOT NULL OR l.video_storage_key IS NOT NULL),
		     l.required_watch_percent,
		     (SELECT count(*) FROM lesson_tactics t WHERE t.lesson_id = l.id),
		     (SELECT count(*) FROM lesson_tactics t WHERE t.lesson_id = l.id AND t.required),
		     (SELECT count(*) FROM lesson_tactics t
		          JOIN learner_tactics lt ON lt.tactic_id = t.id AND lt.learner_id = $2
		          WHERE t.lesson_id = l.id AND t.required),
		     a.id IS NOT NULL,
		     COALESCE(a.required, false),
		     COALESCE(a.passing_score, 0),
		     CASE
		         WHEN EXISTS (SELECT 1 FROM assessment_attempts aa
		                      WHERE aa.assessment_id = a.id AND aa.learner_id = $2 AND aa.status = 'passed')
		         THEN 'passed'
		         ELSE COALESCE((SELECT aa.status FROM assessment_attempts aa
		                        WHERE aa.assessment_id = a.id AND aa.learner_id = $2
		                        ORDER BY aa.created_at DESC LIMIT 1), 'not_started')
		     END
		 FROM lessons l
		 LEFT JOIN assessments a ON a.lesson_id = l.id
		 WHERE l.id = $1`,
		lessonID, learnerID,
	).Scan(&req.HasVideo, &req.RequiredWatchPercent, &tacticsTotal, &req.TacticsRequiredCount,
		&req.TacticsCompletedCount, &hasAssessment, &assessmentRequired, &passingScore, &assessmentStatus)
	if err != nil {
		return gate.Requirements{}, fmt.Errorf("load requirements: %w", err)
	}

	req.HasTactics = tacticsTotal > 0
	req.HasAssessment = hasAssessment
	req.AssessmentRequired = assessmentRequired
	req.PassingScore = passingScore
	req.AssessmentStatus = gate.AssessmentStatus(assessmentStatus)
	if !req.AssessmentStatus.Valid() {
		req.AssessmentStatus = gate.AssessmentNotStarted
	}
	return req, nil
}

func (r *Repository) Video(ctx context.Context, lessonID string) (Video, error) {
	var url, hint, key *string
	var duration *float64
	err := r.db.QueryRow(ctx,
		`SELECT video_url, video_provider, video_storage_key, video_duration_seconds FROM lessons WHERE id = $1`,
		lessonID,
	).Scan(&url, &hint, &key, &duration)
	if err != nil {
		return Video{}, fmt.Errorf("load video: %w", err)
	}
	v := Video{}
	if url != nil {
		v.URL = *url
	}
	if hint != nil {
		v.ProviderHint = *hint
	}
	if key != nil {
		v.StorageKey = *key
	}
	if duration != nil {
		v.DurationSeconds = *duration
	}
	return v, nil
}

func (r *Repository) ProgramID(ctx context.Context, lessonID string) (string, error) {
	var programID string
	err := r.db.QueryRow(ctx,
		`SELECT p.program_id FROM lessons l JOIN phases p ON p.id = l.phase_id WHERE l.id = $1`,
		lessonID,
	).Scan(&programID)
	if err != nil {
		return "", fmt.Errorf("load program: %w", err)
	}
	return programID, nil
}

// MarkComplete records completion and reports whether this call recorded it.
func (r *Repository) MarkComplete(ctx context.Context, lessonID, learnerID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO lesson_completions (lesson_id, learner_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		lessonID, learnerID,
	)
	if err != nil {
		return false, fmt.Errorf("mark complete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) IsCompleted(ctx context.Context, lessonID, learnerID string) (bool, error) {
	var done bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lesson_completions WHERE lesson_id = $1 AND learner_id = $2)`,
		lessonID, learnerID,
	).Scan(&done)
	if err != nil {
		return false, fmt.Errorf("load completion: %w", err)
	}
	return done, nil
}

// NextLesson returns the lesson after lessonID in program order: by phase
// position, then lesson position. ok is false on the program's last lesson.
func (r *Repository) NextLesson(ctx context.Context, lessonID string) (string, bool, error) {
	var next string
	err := r.db.QueryRow(ctx,
		`SELECT n.id
		 FROM lessons cur
		 JOIN phases cp ON cp.id = cur.phase_id
		 JOIN phases np ON np.program_id = cp.program_id
		 JOIN lessons n ON n.phase_id = np.id
		 WHERE cur.id = $1 AND (np.position, n.position) > (cp.position, cur.position)
		 ORDER BY np.position, n.position
		 LIMIT 1`,
		lessonID,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("next lesson: %w", err)
	}
	return next, true, nil
}
