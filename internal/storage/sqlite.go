// Package storage persists completed pipeline output: documents, regions,
// extraction results, and the conflict audit trail.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/veridoc/veridoc/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not
// exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		mode TEXT NOT NULL,
		pages TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_fingerprint ON documents(fingerprint);

	CREATE TABLE IF NOT EXISTS extraction_results (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		region_id TEXT NOT NULL,
		modality TEXT NOT NULL,
		method TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence REAL NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_results_document ON extraction_results(document_id);
	CREATE INDEX IF NOT EXISTS idx_results_region ON extraction_results(region_id, modality);

	CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		region_id TEXT NOT NULL,
		region_type TEXT NOT NULL,
		text_value TEXT NOT NULL,
		vision_value TEXT NOT NULL,
		text_confidence REAL NOT NULL,
		vision_confidence REAL NOT NULL,
		discrepancy REAL NOT NULL,
		impact REAL NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_conflicts_document ON conflicts(document_id);
	CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);

	CREATE TABLE IF NOT EXISTS resolutions (
		id TEXT PRIMARY KEY,
		conflict_id TEXT NOT NULL UNIQUE,
		chosen_value TEXT NOT NULL,
		method TEXT NOT NULL,
		actor TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (conflict_id) REFERENCES conflicts(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// PersistState writes a completed pipeline state in one transaction. Every
// insert uses INSERT OR IGNORE so re-persisting after a resume is a no-op
// for rows already written.
func (s *SQLiteStore) PersistState(ctx context.Context, state *models.PipelineState) error {
	doc := state.Document
	pagesJSON, err := json.Marshal(doc.Pages)
	if err != nil {
		return fmt.Errorf("failed to marshal pages: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (id, path, fingerprint, size_bytes, mode, pages, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Path, doc.Fingerprint, doc.SizeBytes, state.Mode.String(), string(pagesJSON), doc.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, r := range state.Results {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO extraction_results (id, document_id, region_id, modality, method, value, confidence, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, doc.ID, r.RegionID, string(r.Modality), r.Method, r.Value, r.Confidence, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}

	for _, c := range state.Conflicts {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO conflicts (id, document_id, region_id, region_type, text_value, vision_value,
				text_confidence, vision_confidence, discrepancy, impact, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, doc.ID, c.RegionID, string(c.RegionType), c.TextValue, c.VisionValue,
			c.TextConfidence, c.VisionConfidence, c.Discrepancy, c.Impact, string(c.Status), c.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert conflict: %w", err)
		}
		// Status changes on resume must land even when the row exists.
		if _, err := tx.ExecContext(ctx,
			`UPDATE conflicts SET status = ? WHERE id = ?`, string(c.Status), c.ID,
		); err != nil {
			return fmt.Errorf("update conflict status: %w", err)
		}
	}

	for _, r := range state.Resolutions {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO resolutions (id, conflict_id, chosen_value, method, actor, reason, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ConflictID, r.ChosenValue, string(r.Method), r.Actor, r.Reason, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert resolution: %w", err)
		}
	}

	return tx.Commit()
}

// GetDocument returns a stored document by id.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var pagesJSON, mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, fingerprint, size_bytes, mode, pages, created_at FROM documents WHERE id = ?`,
		id,
	).Scan(&doc.ID, &doc.Path, &doc.Fingerprint, &doc.SizeBytes, &mode, &pagesJSON, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pagesJSON), &doc.Pages); err != nil {
		return nil, fmt.Errorf("unmarshal pages: %w", err)
	}
	return &doc, nil
}

// DocumentByFingerprint returns the most recent stored document with the
// given content fingerprint, or nil.
func (s *SQLiteStore) DocumentByFingerprint(ctx context.Context, fingerprint string) (*models.Document, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE fingerprint = ? ORDER BY created_at DESC LIMIT 1`,
		fingerprint,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetDocument(ctx, id)
}

// ResultsForDocument returns all extraction results for a document.
func (s *SQLiteStore) ResultsForDocument(ctx context.Context, docID string) ([]models.ExtractionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, region_id, modality, method, value, confidence, created_at
		 FROM extraction_results WHERE document_id = ? ORDER BY created_at`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ExtractionResult
	for rows.Next() {
		var r models.ExtractionResult
		var modality string
		if err := rows.Scan(&r.ID, &r.RegionID, &modality, &r.Method, &r.Value, &r.Confidence, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Modality = models.Modality(modality)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ConflictsByStatus returns conflicts in the given status across all
// documents, newest first.
func (s *SQLiteStore) ConflictsByStatus(ctx context.Context, status models.ConflictStatus) ([]*models.Conflict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, region_id, region_type, text_value, vision_value, text_confidence,
			vision_confidence, discrepancy, impact, status, created_at
		 FROM conflicts WHERE status = ? ORDER BY impact DESC, created_at`,
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConflicts(rows)
}

// ConflictByID returns one conflict and the ID of the document it belongs to.
func (s *SQLiteStore) ConflictByID(ctx context.Context, id string) (*models.Conflict, string, error) {
	var c models.Conflict
	var docID, regionType, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, region_id, region_type, text_value, vision_value,
			text_confidence, vision_confidence, discrepancy, impact, status, created_at
		 FROM conflicts WHERE id = ?`,
		id,
	).Scan(&c.ID, &docID, &c.RegionID, &regionType, &c.TextValue, &c.VisionValue,
		&c.TextConfidence, &c.VisionConfidence, &c.Discrepancy, &c.Impact, &status, &c.CreatedAt)
	if err != nil {
		return nil, "", err
	}
	c.RegionType = models.RegionType(regionType)
	c.Status = models.ConflictStatus(status)
	return &c, docID, nil
}

// ConflictsForDocument returns every conflict recorded for a document.
func (s *SQLiteStore) ConflictsForDocument(ctx context.Context, docID string) ([]*models.Conflict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, region_id, region_type, text_value, vision_value, text_confidence,
			vision_confidence, discrepancy, impact, status, created_at
		 FROM conflicts WHERE document_id = ? ORDER BY created_at`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConflicts(rows)
}

func scanConflicts(rows *sql.Rows) ([]*models.Conflict, error) {
	var conflicts []*models.Conflict
	for rows.Next() {
		var c models.Conflict
		var regionType, status string
		if err := rows.Scan(&c.ID, &c.RegionID, &regionType, &c.TextValue, &c.VisionValue,
			&c.TextConfidence, &c.VisionConfidence, &c.Discrepancy, &c.Impact, &status, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.RegionType = models.RegionType(regionType)
		c.Status = models.ConflictStatus(status)
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}

// SaveResolution records a resolution and flips the conflict's status in
// one transaction.
func (s *SQLiteStore) SaveResolution(ctx context.Context, r models.Resolution, status models.ConflictStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO resolutions (id, conflict_id, chosen_value, method, actor, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConflictID, r.ChosenValue, string(r.Method), r.Actor, r.Reason, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert resolution: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conflicts SET status = ? WHERE id = ?`, string(status), r.ConflictID,
	); err != nil {
		return fmt.Errorf("update conflict: %w", err)
	}
	return tx.Commit()
}

// ResolutionForConflict returns the resolution for a conflict, or nil.
func (s *SQLiteStore) ResolutionForConflict(ctx context.Context, conflictID string) (*models.Resolution, error) {
	var r models.Resolution
	var method string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conflict_id, chosen_value, method, actor, reason, created_at
		 FROM resolutions WHERE conflict_id = ?`,
		conflictID,
	).Scan(&r.ID, &r.ConflictID, &r.ChosenValue, &method, &r.Actor, &r.Reason, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Method = models.ResolutionMethod(method)
	return &r, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
