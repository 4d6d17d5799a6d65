package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

const (
	testLessonID  = "9b2f1c1e-3f4e-4a51-9e38-0f6a2d1c7b10"
	testLearnerID = "5d0c8e4a-7c1b-4b5e-a3c2-1e9f0b6d2a44"
)

func TestStoreLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT watched_percent, last_position_ms, updated_at`).
		WithArgs(testLessonID, testLearnerID).
		WillReturnRows(pgxmock.NewRows([]string{"watched_percent", "last_position_ms", "updated_at"}).
			AddRow(42.5, int64(51_000), updated))

	st, err := NewStore(mock).Load(context.Background(), testLessonID, testLearnerID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.WatchedPercent != 42.5 || st.LastPositionMs != 51_000 || !st.UpdatedAt.Equal(updated) {
		t.Errorf("state = %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT watched_percent, last_position_ms, updated_at`).
		WithArgs(testLessonID, testLearnerID).
		WillReturnError(pgx.ErrNoRows)

	st, err := NewStore(mock).Load(context.Background(), testLessonID, testLearnerID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st != (State{}) {
		t.Errorf("state = %+v, want zero", st)
	}
}

func TestStoreSave(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO lesson_progress`).
		WithArgs(testLessonID, testLearnerID, 100.0, int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{"prev", "watched_percent"}).AddRow(40.0, 100.0))

	prev, cur, err := NewStore(mock).Save(context.Background(), testLessonID, testLearnerID, 130, -5)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if prev != 40 || cur != 100 {
		t.Errorf("Save = (%v, %v), want (40, 100)", prev, cur)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestStoreSaveError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	dbErr := errors.New("connection reset")
	mock.ExpectQuery(`INSERT INTO lesson_progress`).
		WithArgs(testLessonID, testLearnerID, 50.0, int64(1000)).
		WillReturnError(dbErr)

	if _, _, err := NewStore(mock).Save(context.Background(), testLessonID, testLearnerID, 50, 1000); !errors.Is(err, dbErr) {
		t.Errorf("Save error = %v, want wrapped %v", err, dbErr)
	}
}

func TestStoreRecordMilestone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO lesson_milestones`).
		WithArgs(testLessonID, testLearnerID, 50).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO lesson_milestones`).
		WithArgs(testLessonID, testLearnerID, 50).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	store := NewStore(mock)
	first, err := store.RecordMilestone(context.Background(), testLessonID, testLearnerID, 50)
	if err != nil || !first {
		t.Fatalf("first RecordMilestone = (%v, %v), want (true, nil)", first, err)
	}
	again, err := store.RecordMilestone(context.Background(), testLessonID, testLearnerID, 50)
	if err != nil || again {
		t.Errorf("repeat RecordMilestone = (%v, %v), want (false, nil)", again, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}
