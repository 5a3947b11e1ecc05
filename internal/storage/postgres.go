package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/paulcanta/vidlyx/internal/embeddings"
	"github.com/paulcanta/vidlyx/internal/models"
)

// PostgresStore implements every store interface on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	emb  *embeddings.Service
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string, emb *embeddings.Service) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, emb: emb}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateFrame persists a newly extracted frame with its initial embedding.
// A re-run conflicts on (video, timestamp) and keeps the original row;
// the canonical row ID is written back into frame so later per-frame
// updates land on it.
func (s *PostgresStore) CreateFrame(ctx context.Context, frame *models.Frame) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO frames
		(id, video_id, timestamp_seconds, frame_path, is_keyframe, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (video_id, timestamp_seconds) DO UPDATE
		SET frame_path = EXCLUDED.frame_path, is_keyframe = EXCLUDED.is_keyframe
		RETURNING id`,
		frame.ID, frame.VideoID, frame.TimestampSeconds, frame.Path,
		frame.IsKeyframe, pgvector.NewVector(s.emb.Embed("")), time.Now()).Scan(&frame.ID)
	if err != nil {
		return fmt.Errorf("failed to store frame: %w", err)
	}
	return nil
}

// ListFrames returns all frames for a video ordered by timestamp.
func (s *PostgresStore) ListFrames(ctx context.Context, videoID string) ([]models.Frame, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, video_id, timestamp_seconds, frame_path,
		COALESCE(on_screen_text, ''), COALESCE(ocr_confidence, 0),
		COALESCE(words, '{}'), COALESCE(scene_description, ''),
		COALESCE(visual_elements, '{}'), COALESCE(content_type, ''), is_keyframe
		FROM frames WHERE video_id = $1 ORDER BY timestamp_seconds`,
		videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	defer rows.Close()

	var frames []models.Frame
	for rows.Next() {
		var f models.Frame
		if err := rows.Scan(&f.ID, &f.VideoID, &f.TimestampSeconds, &f.Path,
			&f.OnScreenText, &f.OCRConfidence, &f.Words, &f.SceneDescription,
			&f.VisualElements, &f.ContentType, &f.IsKeyframe); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// UpsertFrameFields applies a partial update to one frame. Only non-nil
// fields are written, so OCR and vision updates never clobber each other.
func (s *PostgresStore) UpsertFrameFields(ctx context.Context, frameID string, fields models.FrameFields) error {
	sets := []string{}
	args := []any{}
	n := 1

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, n))
		args = append(args, value)
		n++
	}

	if fields.OnScreenText != nil {
		add("on_screen_text", *fields.OnScreenText)
	}
	if fields.OCRConfidence != nil {
		add("ocr_confidence", *fields.OCRConfidence)
	}
	if fields.Words != nil {
		add("words", fields.Words)
	}
	if fields.SceneDescription != nil {
		add("scene_description", *fields.SceneDescription)
	}
	if fields.VisualElements != nil {
		add("visual_elements", fields.VisualElements)
	}
	if fields.ContentType != nil {
		add("content_type", *fields.ContentType)
	}
	if fields.IsKeyframe != nil {
		add("is_keyframe", *fields.IsKeyframe)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, frameID)
	query := fmt.Sprintf("UPDATE frames SET %s WHERE id = $%d RETURNING COALESCE(scene_description, ''), COALESCE(on_screen_text, '')",
		strings.Join(sets, ", "), n)

	var scene, text string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&scene, &text); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update frame fields: %w", err)
	}

	// Refresh the search embedding whenever searchable text changed.
	if fields.SceneDescription != nil || fields.OnScreenText != nil {
		vec := pgvector.NewVector(s.emb.Embed(scene + " " + text))
		if _, err := s.pool.Exec(ctx,
			"UPDATE frames SET embedding = $1 WHERE id = $2", vec, frameID); err != nil {
			return fmt.Errorf("failed to update frame embedding: %w", err)
		}
	}
	return nil
}

// CountFrames returns the number of frames stored for a video.
func (s *PostgresStore) CountFrames(ctx context.Context, videoID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM frames WHERE video_id = $1", videoID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return count, nil
}

// SimilarFrames searches a video's frames by embedding distance to the query.
func (s *PostgresStore) SimilarFrames(ctx context.Context, videoID string, query string, limit int) ([]models.FrameSearchResult, error) {
	vec := pgvector.NewVector(s.emb.Embed(query))
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp_seconds, COALESCE(scene_description, ''),
		1 - (embedding <=> $1) AS similarity
		FROM frames WHERE video_id = $2
		ORDER BY embedding <=> $1 LIMIT $3`,
		vec, videoID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar frames: %w", err)
	}
	defer rows.Close()

	var results []models.FrameSearchResult
	for rows.Next() {
		var r models.FrameSearchResult
		if err := rows.Scan(&r.FrameID, &r.TimestampSeconds, &r.SceneDescription, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CreateJob persists a new job record.
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs
		(id, subject_id, kind, status, progress, payload, attempt, run_at, heartbeat_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.SubjectID, job.Kind, job.Status, job.Progress,
		payload, job.Attempt, job.RunAt, job.HeartbeatAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

const jobColumns = `id, subject_id, kind, status, progress, payload, result,
	COALESCE(error_message, ''), attempt, run_at, heartbeat_at, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	var payload, result []byte
	err := row.Scan(&job.ID, &job.SubjectID, &job.Kind, &job.Status, &job.Progress,
		&payload, &result, &job.ErrorMessage, &job.Attempt, &job.RunAt,
		&job.HeartbeatAt, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
		}
	}
	return &job, nil
}

// GetJob fetches one job by id.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// NextPendingJob claims the oldest due pending job. SKIP LOCKED keeps
// concurrent workers from claiming the same record.
func (s *PostgresStore) NextPendingJob(ctx context.Context) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'processing', started_at = now(), heartbeat_at = now(),
		attempt = attempt + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_at <= now()
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending job: %w", err)
	}
	return job, nil
}

// UpdateJobProgress writes progress and an optional partial result.
// GREATEST keeps progress monotone even across a requeued duplicate run.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, progress int, partial map[string]any) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d outside [0,100]", progress)
	}
	var result []byte
	if partial != nil {
		var err error
		result, err = json.Marshal(partial)
		if err != nil {
			return fmt.Errorf("failed to marshal partial result: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = GREATEST(progress, $1),
		result = COALESCE($2, result), heartbeat_at = now()
		WHERE id = $3 AND status = 'processing'`,
		progress, result, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob moves a processing job to completed with its final result.
func (s *PostgresStore) CompleteJob(ctx context.Context, id string, result map[string]any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', progress = 100, result = $1, completed_at = now()
		WHERE id = $2 AND status = 'processing'`,
		data, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob moves a job to failed with the triggering error message.
func (s *PostgresStore) FailJob(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $1, completed_at = now()
		WHERE id = $2 AND status IN ('pending', 'processing')`,
		errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueJob returns a processing job to pending for another attempt.
func (s *PostgresStore) RequeueJob(ctx context.Context, id string, runAt int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', run_at = to_timestamp($1), started_at = NULL
		WHERE id = $2 AND status = 'processing'`,
		runAt, id)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelJob marks a pending or processing job cancelled.
func (s *PostgresStore) CancelJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		id)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Heartbeat records liveness for a processing job.
func (s *PostgresStore) Heartbeat(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE jobs SET heartbeat_at = now() WHERE id = $1 AND status = 'processing'", id)
	if err != nil {
		return fmt.Errorf("failed to heartbeat job: %w", err)
	}
	return nil
}

// StalledJobs returns processing jobs whose heartbeat is older than maxAgeSeconds.
func (s *PostgresStore) StalledJobs(ctx context.Context, maxAgeSeconds int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		WHERE status = 'processing' AND heartbeat_at < now() - make_interval(secs => $1)`,
		maxAgeSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stalled job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus returns job counts keyed by status.
func (s *PostgresStore) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// CountDelayedJobs returns pending jobs scheduled in the future.
func (s *PostgresStore) CountDelayedJobs(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM jobs WHERE status = 'pending' AND run_at > now()").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count delayed jobs: %w", err)
	}
	return count, nil
}

// ReplaceCorrelations swaps a video's correlation set in one transaction.
func (s *PostgresStore) ReplaceCorrelations(ctx context.Context, videoID string, correlations []models.Correlation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM correlations WHERE video_id = $1", videoID); err != nil {
		return fmt.Errorf("failed to clear correlations: %w", err)
	}
	for _, c := range correlations {
		_, err := tx.Exec(ctx,
			`INSERT INTO correlations
			(video_id, frame_id, segment_start, segment_end, score, matching_elements, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (frame_id, segment_start, segment_end) DO NOTHING`,
			videoID, c.FrameID, c.SegmentStart, c.SegmentEnd, c.Score,
			c.MatchingElements, time.Now())
		if err != nil {
			return fmt.Errorf("failed to store correlation: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ListCorrelations returns the persisted correlation set for a video.
func (s *PostgresStore) ListCorrelations(ctx context.Context, videoID string) ([]models.Correlation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT video_id, frame_id, segment_start, segment_end, score, COALESCE(matching_elements, '{}')
		FROM correlations WHERE video_id = $1
		ORDER BY segment_start, score DESC`,
		videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list correlations: %w", err)
	}
	defer rows.Close()

	var correlations []models.Correlation
	for rows.Next() {
		var c models.Correlation
		if err := rows.Scan(&c.VideoID, &c.FrameID, &c.SegmentStart, &c.SegmentEnd,
			&c.Score, &c.MatchingElements); err != nil {
			return nil, fmt.Errorf("failed to scan correlation: %w", err)
		}
		correlations = append(correlations, c)
	}
	return correlations, rows.Err()
}

// UpsertSections writes a video's section set keyed by (video_id, order),
// dropping any stale tail left over from a previous run.
func (s *PostgresStore) UpsertSections(ctx context.Context, videoID string, sections []models.Section) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, sec := range sections {
		_, err := tx.Exec(ctx,
			`INSERT INTO sections
			(video_id, sort_order, title, start_time, end_time, summary, key_points, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (video_id, sort_order) DO UPDATE
			SET title = EXCLUDED.title, start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time, summary = EXCLUDED.summary,
			key_points = EXCLUDED.key_points`,
			videoID, sec.Order, sec.Title, sec.StartTime, sec.EndTime,
			sec.Summary, sec.KeyPoints, time.Now())
		if err != nil {
			return fmt.Errorf("failed to upsert section %d: %w", sec.Order, err)
		}
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM sections WHERE video_id = $1 AND sort_order >= $2",
		videoID, len(sections)); err != nil {
		return fmt.Errorf("failed to trim stale sections: %w", err)
	}
	return tx.Commit(ctx)
}

// ListSections returns a video's sections ordered by position.
func (s *PostgresStore) ListSections(ctx context.Context, videoID string) ([]models.Section, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT video_id, sort_order, title, start_time, end_time,
		COALESCE(summary, ''), COALESCE(key_points, '{}')
		FROM sections WHERE video_id = $1 ORDER BY sort_order`,
		videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var sections []models.Section
	for rows.Next() {
		var sec models.Section
		if err := rows.Scan(&sec.VideoID, &sec.Order, &sec.Title, &sec.StartTime,
			&sec.EndTime, &sec.Summary, &sec.KeyPoints); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// SetVideoStatus records the terminal pipeline outcome on the video row.
// The upsert makes repeated calls with the same status harmless.
func (s *PostgresStore) SetVideoStatus(ctx context.Context, videoID string, status string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO videos (id, status, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		videoID, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set video status: %w", err)
	}
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
func InitSchema(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS videos (
			id VARCHAR(64) PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS frames (
			id VARCHAR(64) PRIMARY KEY,
			video_id VARCHAR(64) NOT NULL,
			timestamp_seconds DOUBLE PRECISION NOT NULL,
			frame_path VARCHAR(512) NOT NULL,
			on_screen_text TEXT,
			ocr_confidence DOUBLE PRECISION,
			words TEXT[],
			scene_description TEXT,
			visual_elements TEXT[],
			content_type VARCHAR(64),
			is_keyframe BOOLEAN NOT NULL DEFAULT FALSE,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE(video_id, timestamp_seconds)
		);

		CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR(64) PRIMARY KEY,
			subject_id VARCHAR(64) NOT NULL,
			kind VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			payload JSONB,
			result JSONB,
			error_message TEXT,
			attempt INTEGER NOT NULL DEFAULT 0,
			run_at TIMESTAMPTZ NOT NULL,
			heartbeat_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS correlations (
			id SERIAL PRIMARY KEY,
			video_id VARCHAR(64) NOT NULL,
			frame_id VARCHAR(64) NOT NULL,
			segment_start DOUBLE PRECISION NOT NULL,
			segment_end DOUBLE PRECISION NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			matching_elements TEXT[],
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE(frame_id, segment_start, segment_end)
		);

		CREATE TABLE IF NOT EXISTS sections (
			id SERIAL PRIMARY KEY,
			video_id VARCHAR(64) NOT NULL,
			sort_order INTEGER NOT NULL,
			title VARCHAR(255) NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			summary TEXT,
			key_points TEXT[],
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE(video_id, sort_order)
		);
	`, embeddings.Dim))
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_frames_video_id ON frames(video_id);
		CREATE INDEX IF NOT EXISTS idx_jobs_status_run_at ON jobs(status, run_at);
		CREATE INDEX IF NOT EXISTS idx_correlations_video_id ON correlations(video_id);
		CREATE INDEX IF NOT EXISTS idx_sections_video_id ON sections(video_id);
		CREATE INDEX IF NOT EXISTS idx_frames_embedding ON frames USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}
	return nil
}
