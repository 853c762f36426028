package store

import (
	"database/sql"
	"time"
)

// Recording is the log entry for one sample appended to a dataset file.
// The feature values themselves live only in the dataset file.
type Recording struct {
	ID         int64     `json:"id"`
	PoseID     string    `json:"pose_id"`
	UserID     int       `json:"user_id"`
	Dataset    string    `json:"dataset"`
	Degenerate bool      `json:"degenerate"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordingRepository provides access to the recording log.
type RecordingRepository struct {
	db *sql.DB
}

// Recordings returns the recording repository for this store.
func (s *Store) Recordings() *RecordingRepository {
	return &RecordingRepository{db: s.db}
}

// Create logs a recording and increments the pose's sample count in one transaction.
func (r *RecordingRepository) Create(rec *Recording) error {
	rec.RecordedAt = time.Now()

	return inTx(r.db, func(tx *sql.Tx) error {
		result, err := tx.Exec(
			`INSERT INTO recordings (pose_id, user_id, dataset, degenerate, recorded_at) VALUES (?, ?, ?, ?, ?)`,
			rec.PoseID, rec.UserID, rec.Dataset, rec.Degenerate, rec.RecordedAt,
		)
		if err != nil {
			return err
		}
		if rec.ID, err = result.LastInsertId(); err != nil {
			return err
		}
		return incrementSamples(tx, rec.PoseID, rec.RecordedAt)
	})
}

// ListByPose returns the recordings of a pose, newest first.
func (r *RecordingRepository) ListByPose(poseID string) ([]Recording, error) {
	rows, err := r.db.Query(
		`SELECT id, pose_id, user_id, dataset, degenerate, recorded_at
		 FROM recordings
		 WHERE pose_id = ?
		 ORDER BY id DESC`,
		poseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Recording
	for rows.Next() {
		var rec Recording
		var degenerate int
		if err := rows.Scan(&rec.ID, &rec.PoseID, &rec.UserID, &rec.Dataset, &degenerate, &rec.RecordedAt); err != nil {
			return nil, err
		}
		rec.Degenerate = degenerate != 0
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}
