package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned when a pose name is already taken.
	ErrDuplicateName = errors.New("pose name already exists")
)

// Pose is a label that samples can be recorded under.
type Pose struct {
	ID          string
	Name        string
	Description string
	Samples     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PoseRepository provides CRUD operations for poses.
type PoseRepository struct {
	db *sql.DB
}

// Poses returns the pose repository for this store.
func (s *Store) Poses() *PoseRepository {
	return &PoseRepository{db: s.db}
}

const poseColumns = `id, name, description, samples, created_at, updated_at`

// Create inserts a new pose. An empty ID is filled with a fresh UUID.
func (r *PoseRepository) Create(p *Pose) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO poses (`+poseColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Samples, p.CreatedAt, p.UpdatedAt,
	)
	return mapConstraintError(err)
}

// GetByID retrieves a pose by its ID.
func (r *PoseRepository) GetByID(id string) (*Pose, error) {
	return r.scanOne(r.db.QueryRow(`SELECT `+poseColumns+` FROM poses WHERE id = ?`, id))
}

// GetByName retrieves a pose by its name.
func (r *PoseRepository) GetByName(name string) (*Pose, error) {
	return r.scanOne(r.db.QueryRow(`SELECT `+poseColumns+` FROM poses WHERE name = ?`, name))
}

// EnsureByName returns the pose with the given name, creating it if needed.
func (r *PoseRepository) EnsureByName(name string) (*Pose, error) {
	p, err := r.GetByName(name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p = &Pose{Name: name}
	if err := r.Create(p); err != nil {
		return nil, err
	}
	return p, nil
}

// List retrieves all poses ordered by name.
func (r *PoseRepository) List() ([]*Pose, error) {
	rows, err := r.db.Query(`SELECT ` + poseColumns + ` FROM poses ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var poses []*Pose
	for rows.Next() {
		p := &Pose{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Samples, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		poses = append(poses, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return poses, nil
}

// Update updates the name and description of an existing pose.
func (r *PoseRepository) Update(p *Pose) error {
	p.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE poses SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return mapConstraintError(err)
	}
	return expectOneRow(result)
}

// Delete removes a pose and its recordings.
func (r *PoseRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM poses WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

func (r *PoseRepository) scanOne(row *sql.Row) (*Pose, error) {
	p := &Pose{}
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Samples, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// incrementSamples adds one to the recorded sample count of a pose.
func incrementSamples(tx *sql.Tx, id string, at time.Time) error {
	result, err := tx.Exec(`UPDATE poses SET samples = samples + 1, updated_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func mapConstraintError(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateName
	}
	return err
}
