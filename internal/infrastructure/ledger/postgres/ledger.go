package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
)

// Ledger is the durable document-state store. One *sql.DB is opened per
// process; the single-writer discipline is enforced above, by handing the
// writing side to exactly one component per stage.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (l *Ledger) EnsureSchema(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent CLI invocations.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026052801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	remote_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	remote_path TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	status TEXT NOT NULL,
	title TEXT,
	authors JSONB NOT NULL DEFAULT '[]'::jsonb,
	summary TEXT,
	abstract TEXT,
	target_folders JSONB NOT NULL DEFAULT '[]'::jsonb,
	last_error TEXT,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_target_folders ON documents USING GIN (target_folders);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const recordColumns = `remote_id, name, remote_path, fingerprint, status, title, authors, summary, abstract, target_folders, last_error, updated_at`

// Upsert inserts a newly sighted id at pending, or resets an existing row to
// pending when its fingerprint changed. Rows with an unchanged fingerprint
// are not touched, so re-scanning an unchanged remote is a no-op.
func (l *Ledger) Upsert(ctx context.Context, entry domain.RemoteEntry) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
INSERT INTO documents (remote_id, name, remote_path, fingerprint, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (remote_id) DO UPDATE SET
	name = EXCLUDED.name,
	remote_path = EXCLUDED.remote_path,
	fingerprint = EXCLUDED.fingerprint,
	status = EXCLUDED.status,
	last_error = NULL,
	updated_at = EXCLUDED.updated_at
WHERE documents.fingerprint IS DISTINCT FROM EXCLUDED.fingerprint
`,
		string(entry.ID), entry.Name, string(entry.Path), string(entry.Fingerprint),
		string(domain.StatusPending), time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert document: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert rows affected: %w", err)
	}
	return rows > 0, nil
}

func (l *Ledger) ListByStatus(ctx context.Context, limit int, statuses ...domain.Status) ([]domain.DocumentRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(status)
	}
	query := fmt.Sprintf(`
SELECT %s
FROM documents
WHERE status IN (%s)
ORDER BY updated_at DESC
`, recordColumns, strings.Join(placeholders, ", "))
	if limit > 0 {
		query += fmt.Sprintf("LIMIT %d\n", limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (l *Ledger) GetByID(ctx context.Context, id domain.RemoteID) (*domain.DocumentRecord, error) {
	row := l.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM documents
WHERE remote_id = $1
`, recordColumns), string(id))

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRecordNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &rec, nil
}

func (l *Ledger) UpdateStatus(ctx context.Context, id domain.RemoteID, status domain.Status, lastError string) error {
	res, err := l.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, last_error = NULLIF($3, ''), updated_at = $4
WHERE remote_id = $1
`, string(id), string(status), lastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireRow(res, id, "update status")
}

func (l *Ledger) SaveMetadata(ctx context.Context, id domain.RemoteID, meta domain.ArticleMetadata, targetFolders []domain.RemotePath) error {
	authorsJSON, err := json.Marshal(meta.Authors)
	if err != nil {
		return fmt.Errorf("marshal authors: %w", err)
	}
	foldersJSON, err := marshalFolders(targetFolders)
	if err != nil {
		return err
	}

	res, err := l.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, title = $3, authors = $4, summary = $5, abstract = $6,
	target_folders = $7, last_error = NULL, updated_at = $8
WHERE remote_id = $1
`,
		string(id), string(domain.StatusProcessed), meta.Title, authorsJSON,
		string(meta.Summary), meta.Abstract, foldersJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return requireRow(res, id, "save metadata")
}

func (l *Ledger) ListArchivedInFolder(ctx context.Context, folder domain.RemotePath) ([]domain.DocumentRecord, error) {
	folderJSON, err := marshalFolders([]domain.RemotePath{folder})
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM documents
WHERE status = $1 AND target_folders @> $2::jsonb
ORDER BY title ASC, remote_id ASC
`, recordColumns), string(domain.StatusArchived), folderJSON)
	if err != nil {
		return nil, fmt.Errorf("list archived in folder: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (l *Ledger) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT status, COUNT(*)
FROM documents
GROUP BY status
`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func requireRow(res sql.Result, id domain.RemoteID, operation string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrRecordNotFound, operation, fmt.Errorf("id %s", id))
	}
	return nil
}

func marshalFolders(folders []domain.RemotePath) ([]byte, error) {
	out := make([]string, len(folders))
	for i, folder := range folders {
		out[i] = string(folder)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal target folders: %w", err)
	}
	return data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.DocumentRecord, error) {
	var rec domain.DocumentRecord
	var (
		status      string
		title       sql.NullString
		authorsRaw  []byte
		summary     sql.NullString
		abstract    sql.NullString
		foldersRaw  []byte
		lastError   sql.NullString
	)

	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Path, &rec.Fingerprint, &status,
		&title, &authorsRaw, &summary, &abstract, &foldersRaw, &lastError, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.DocumentRecord{}, err
	}

	rec.Status = domain.Status(status)
	rec.Title = title.String
	rec.Summary = domain.Summary(summary.String)
	rec.Abstract = abstract.String
	rec.LastError = lastError.String

	if err := json.Unmarshal(authorsRaw, &rec.Authors); err != nil {
		return domain.DocumentRecord{}, fmt.Errorf("unmarshal authors: %w", err)
	}
	var folders []string
	if err := json.Unmarshal(foldersRaw, &folders); err != nil {
		return domain.DocumentRecord{}, fmt.Errorf("unmarshal target folders: %w", err)
	}
	rec.TargetFolders = make([]domain.RemotePath, 0, len(folders))
	for _, folder := range folders {
		rec.TargetFolders = append(rec.TargetFolders, domain.RemotePath(folder))
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]domain.DocumentRecord, error) {
	var out []domain.DocumentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
