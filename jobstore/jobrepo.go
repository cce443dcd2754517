package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/yeti47/clipintake/ccc/db"
)

// JobRepository persists job records
type JobRepository interface {
	// GetByID returns nil, nil when the job is unknown
	GetByID(ctx context.Context, id string) (*JobRecord, error)

	// List returns records newest first
	List(ctx context.Context, query JobQuery) ([]*JobRecord, error)

	Add(ctx context.Context, job *JobRecord) error

	// Update overwrites the mutable columns of an existing record
	Update(ctx context.Context, job *JobRecord) error

	Delete(ctx context.Context, id string) error
}

// SQLiteJobRepository implements JobRepository using SQLite
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite-based JobRepository
func NewSQLiteJobRepository(db *sql.DB) (*SQLiteJobRepository, error) {
	repo := &SQLiteJobRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

func (r *SQLiteJobRepository) createTables() error {
	createJobsTable := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		origin TEXT NOT NULL,
		source_kind TEXT NOT NULL,
		size INTEGER NOT NULL,
		tier TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		message TEXT NOT NULL,
		backend TEXT NOT NULL,
		output_path TEXT NOT NULL,
		compressed_size INTEGER NOT NULL,
		ratio REAL NOT NULL,
		compressed INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);`

	_, err := r.db.Exec(createJobsTable)
	return err
}

const selectColumns = `id, name, origin, source_kind, size, tier, status, stage, message, backend, output_path,
	compressed_size, ratio, compressed, checksum, created_at, updated_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*JobRecord, error) {
	job := &JobRecord{}
	var createdStr, updatedStr string
	var completed sql.NullString
	var compressedInt int

	err := row.Scan(
		&job.ID, &job.Name, &job.Origin, &job.SourceKind, &job.Size, &job.Tier, &job.Status, &job.Stage,
		&job.Message, &job.Backend, &job.OutputPath, &job.CompressedSize, &job.Ratio, &compressedInt,
		&job.Checksum, &createdStr, &updatedStr, &completed,
	)
	if err != nil {
		return nil, err
	}

	if job.CreatedAt, err = db.StringToTime(createdStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if job.UpdatedAt, err = db.StringToTime(updatedStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if job.CompletedAt, err = db.NullStringToTimePtr(completed); err != nil {
		return nil, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	job.Compressed = db.IntToBool(compressedInt)
	return job, nil
}

// GetByID retrieves a job record by its ID
func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job by ID: %w", err)
	}
	return job, nil
}

// List retrieves job records matching the query, newest first
func (r *SQLiteJobRepository) List(ctx context.Context, query JobQuery) ([]*JobRecord, error) {
	var sb strings.Builder
	var args []any

	sb.WriteString(`SELECT ` + selectColumns + ` FROM jobs`)
	if query.Status != "" {
		sb.WriteString(` WHERE status = ?`)
		args = append(args, query.Status)
	}
	sb.WriteString(` ORDER BY created_at DESC`)
	if query.Limit > 0 {
		sb.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, query.Limit, query.Offset)
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// Add stores a new job record
func (r *SQLiteJobRepository) Add(ctx context.Context, job *JobRecord) error {
	query := `
	INSERT INTO jobs (` + selectColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Name, job.Origin, job.SourceKind, job.Size, job.Tier, job.Status, job.Stage,
		job.Message, job.Backend, job.OutputPath, job.CompressedSize, job.Ratio, db.BoolToInt(job.Compressed),
		job.Checksum, db.TimeToString(job.CreatedAt), db.TimeToString(job.UpdatedAt), db.TimePtrToString(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}
	return nil
}

// Update overwrites the state columns of an existing job record
func (r *SQLiteJobRepository) Update(ctx context.Context, job *JobRecord) error {
	query := `
	UPDATE jobs SET size = ?, tier = ?, status = ?, stage = ?, message = ?, backend = ?, output_path = ?,
		compressed_size = ?, ratio = ?, compressed = ?, checksum = ?, updated_at = ?, completed_at = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		job.Size, job.Tier, job.Status, job.Stage, job.Message, job.Backend, job.OutputPath,
		job.CompressedSize, job.Ratio, db.BoolToInt(job.Compressed), job.Checksum,
		db.TimeToString(job.UpdatedAt), db.TimePtrToString(job.CompletedAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job with ID %s not found", job.ID)
	}
	return nil
}

// Delete removes a job record by its ID
func (r *SQLiteJobRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job with ID %s not found", id)
	}
	return nil
}
