package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
)

var _ repository.OutputRepository = (*outputRepo)(nil)

// outputTables maps each kind to its table. Table and column names are
// only ever taken from these whitelists, never from input.
var outputTables = map[model.MediaKind]string{
	model.KindAudio:              "audio_outputs",
	model.KindVideo:              "video_outputs",
	model.KindPodcast:            "podcast_outputs",
	model.KindQuiz:               "quiz_outputs",
	model.KindInteractivePodcast: "interactive_podcast_outputs",
}

var correlationColumns = map[model.CorrelationField]string{
	model.CorrelationRender:  "render_job_id",
	model.CorrelationCaption: "caption_job_id",
}

const outputColumns = `id, submission_id, organization_id, article_id, language,
  status, stage, error, render_job_id, caption_job_id, customization,
  script, transcript, words, segments, questions, media_url, duration_seconds, tags,
  created_at, updated_at, version`

type outputRepo struct {
	pool *pgxpool.Pool
}

func NewOutputRepo(pool *pgxpool.Pool) *outputRepo {
	return &outputRepo{pool: pool}
}

func tableFor(kind model.MediaKind) (string, error) {
	t, ok := outputTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown media kind %q", domain.ErrInvalidArgument, kind)
	}
	return t, nil
}

// outputDocs holds the JSONB columns encoded for a write.
type outputDocs struct {
	customization, words, segments, questions string
}

func encodeDocs(o *model.Output) (outputDocs, error) {
	var d outputDocs
	enc := func(v interface{}, empty string) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if string(b) == "null" {
			return empty, nil
		}
		return string(b), nil
	}
	var err error
	if d.customization, err = enc(o.Customization, "{}"); err != nil {
		return d, fmt.Errorf("encode customization: %w", err)
	}
	if d.words, err = enc(o.Words, "[]"); err != nil {
		return d, fmt.Errorf("encode words: %w", err)
	}
	if d.segments, err = enc(o.Segments, "[]"); err != nil {
		return d, fmt.Errorf("encode segments: %w", err)
	}
	if d.questions, err = enc(o.Questions, "[]"); err != nil {
		return d, fmt.Errorf("encode questions: %w", err)
	}
	return d, nil
}

func (r *outputRepo) Create(ctx context.Context, tx repository.Tx, o *model.Output) error {
	table, err := tableFor(o.Kind)
	if err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Version = 0
	docs, err := encodeDocs(o)
	if err != nil {
		return err
	}
	if o.Tags == nil {
		o.Tags = []string{}
	}

	q := `INSERT INTO ` + table + ` (` + outputColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12,$13,$14::jsonb,$15::jsonb,$16::jsonb,$17,$18,$19,$20,$21,$22)`
	_, err = execSQL(ctx, r.pool, tx, q,
		o.ID, o.SubmissionID, o.OrganizationID, o.ArticleID, o.Language,
		string(o.Status), string(o.Stage), o.Error, o.RenderJobID, o.CaptionJobID, docs.customization,
		o.Script, o.Transcript, docs.words, docs.segments, docs.questions, o.MediaURL, o.DurationSeconds, o.Tags,
		o.CreatedAt, o.UpdatedAt, o.Version)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, translate(err))
	}
	return nil
}

func (r *outputRepo) FindByID(ctx context.Context, tx repository.Tx, kind model.MediaKind, id string) (*model.Output, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+outputColumns+` FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	o, err := scanOutput(row, kind)
	if err != nil {
		return nil, translate(err)
	}
	return o, nil
}

// Update writes every mutable column while the stored status still equals
// expect and the stored version equals o.Version. A missing row is
// ErrNotFound; a moved row is ErrStaleState.
func (r *outputRepo) Update(ctx context.Context, tx repository.Tx, o *model.Output, expect model.OutputStatus) error {
	table, err := tableFor(o.Kind)
	if err != nil {
		return err
	}
	docs, err := encodeDocs(o)
	if err != nil {
		return err
	}
	if o.Tags == nil {
		o.Tags = []string{}
	}
	updatedAt := time.Now().UTC().Truncate(time.Microsecond)

	q := `UPDATE ` + table + ` SET
  status = $2, stage = $3, error = $4, render_job_id = $5, caption_job_id = $6,
  customization = $7::jsonb, script = $8, transcript = $9, words = $10::jsonb,
  segments = $11::jsonb, questions = $12::jsonb, media_url = $13, duration_seconds = $14,
  tags = $15, updated_at = $16, version = version + 1
WHERE id = $1 AND status = $17 AND version = $18`
	tag, err := execSQL(ctx, r.pool, tx, q,
		o.ID, string(o.Status), string(o.Stage), o.Error, o.RenderJobID, o.CaptionJobID,
		docs.customization, o.Script, o.Transcript, docs.words,
		docs.segments, docs.questions, o.MediaURL, o.DurationSeconds,
		o.Tags, updatedAt, string(expect), o.Version)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, translate(err))
	}
	if tag.RowsAffected() > 0 {
		o.UpdatedAt = updatedAt
		o.Version++
		return nil
	}

	row, err := pickRow(ctx, r.pool, tx, `SELECT status, version FROM `+table+` WHERE id = $1`, o.ID)
	if err != nil {
		return err
	}
	var (
		current string
		version int64
	)
	if err := row.Scan(&current, &version); err != nil {
		return translate(err)
	}
	return fmt.Errorf("%w: %s %s is %s v%d, expected %s v%d", domain.ErrStaleState, o.Kind, o.ID, current, version, expect, o.Version)
}

func (r *outputRepo) FindProcessingByCorrelation(ctx context.Context, tx repository.Tx, kind model.MediaKind, field model.CorrelationField, id string) (*model.Output, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	col, ok := correlationColumns[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown correlation field %q", domain.ErrInvalidArgument, field)
	}
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + outputColumns + ` FROM ` + table + ` WHERE ` + col + ` = $1 AND status = $2`
	row, err := pickRow(ctx, r.pool, tx, q, id, string(model.OutputProcessing))
	if err != nil {
		return nil, err
	}
	o, err := scanOutput(row, kind)
	if err != nil {
		return nil, translate(err)
	}
	return o, nil
}

func (r *outputRepo) ListStale(ctx context.Context, tx repository.Tx, kind model.MediaKind, cutoff time.Time, limit int) ([]*model.Output, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	q := `SELECT ` + outputColumns + ` FROM ` + table + `
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at
LIMIT $3`
	rows, err := queryRows(ctx, r.pool, tx, q, string(model.OutputProcessing), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Output
	for rows.Next() {
		o, err := scanOutput(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *outputRepo) ListStatusesBySubmission(ctx context.Context, tx repository.Tx, submissionID string) ([]model.OutputStatus, error) {
	parts := make([]string, 0, len(model.AllKinds))
	for _, k := range model.AllKinds {
		parts = append(parts, `SELECT status FROM `+outputTables[k]+` WHERE submission_id = $1`)
	}
	rows, err := queryRows(ctx, r.pool, tx, strings.Join(parts, "\nUNION ALL\n"), submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OutputStatus
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, model.OutputStatus(s))
	}
	return out, rows.Err()
}

func (r *outputRepo) ListBySubmission(ctx context.Context, tx repository.Tx, submissionID string) ([]*model.Output, error) {
	var out []*model.Output
	for _, k := range model.AllKinds {
		q := `SELECT ` + outputColumns + ` FROM ` + outputTables[k] + ` WHERE submission_id = $1 ORDER BY created_at`
		rows, err := queryRows(ctx, r.pool, tx, q, submissionID)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			o, err := scanOutput(rows, k)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
			}
			out = append(out, o)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOutput(row scanner, kind model.MediaKind) (*model.Output, error) {
	var (
		o                                  model.Output
		status, stage                      string
		custom, words, segments, questions []byte
	)
	err := row.Scan(
		&o.ID, &o.SubmissionID, &o.OrganizationID, &o.ArticleID, &o.Language,
		&status, &stage, &o.Error, &o.RenderJobID, &o.CaptionJobID, &custom,
		&o.Script, &o.Transcript, &words, &segments, &questions, &o.MediaURL, &o.DurationSeconds, &o.Tags,
		&o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if err != nil {
		return nil, err
	}
	o.Kind = kind
	o.Status = model.OutputStatus(status)
	o.Stage = model.Stage(stage)

	docs := []struct {
		name string
		raw  []byte
		dst  interface{}
	}{
		{"customization", custom, &o.Customization},
		{"words", words, &o.Words},
		{"segments", segments, &o.Segments},
		{"questions", questions, &o.Questions},
	}
	for _, d := range docs {
		if len(d.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.name, err)
		}
	}
	return &o, nil
}
