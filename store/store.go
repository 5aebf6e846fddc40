package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"auto_doc_writer/engine"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAnswerRequired = errors.New("an answer to the pending question is required")
)

// Document 是调用方保存的一篇文档：原始指令、续传状态（engine 的 Memory）与标题。
type Document struct {
	ID             string          `json:"id"`
	Instruction    string          `json:"instruction"`
	Title          string          `json:"title"`
	Memory         json.RawMessage `json:"memory,omitempty"`
	IterationCount int             `json:"iterationCount"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Store persists documents, their sections and continuation state in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	instruction TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	memory TEXT,
	iteration_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sections (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sections_document ON sections(document_id, position);
`

// Open opens (creating if needed) the database at path with foreign keys on.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (s *Store) CreateDocument(ctx context.Context, instruction string) (Document, error) {
	ts := now()
	doc := Document{ID: uuid.NewString(), Instruction: instruction}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, instruction, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		doc.ID, instruction, ts, ts)
	if err != nil {
		return Document{}, err
	}
	return s.GetDocument(ctx, doc.ID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc              Document
		memory           sql.NullString
		created, updated string
	)
	if err := row.Scan(&doc.ID, &doc.Instruction, &doc.Title, &memory, &doc.IterationCount, &created, &updated); err != nil {
		return Document{}, err
	}
	if memory.Valid && memory.String != "" {
		doc.Memory = json.RawMessage(memory.String)
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return doc, nil
}

const documentColumns = `id, instruction, title, memory, iteration_count, created_at, updated_at`

func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Sections returns a document's sections in position order.
func (s *Store) Sections(ctx context.Context, documentID string) ([]engine.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content FROM sections WHERE document_id = ? ORDER BY position`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []engine.Section
	for rows.Next() {
		var sec engine.Section
		if err := rows.Scan(&sec.ID, &sec.Title, &sec.Content); err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// ApplyResult applies the result's actions and stores its continuation state in one
// transaction. Updates address sections by id, creates append a section by title.
func (s *Store) ApplyResult(ctx context.Context, documentID string, res engine.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	for _, a := range res.Actions {
		if a.Type == engine.ActionUpdate {
			out, err := tx.ExecContext(ctx,
				`UPDATE sections SET content = ?, updated_at = ? WHERE id = ? AND document_id = ?`,
				a.Content, ts, a.SectionID, documentID)
			if err != nil {
				return err
			}
			if n, _ := out.RowsAffected(); n > 0 {
				continue
			}
		}
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM sections WHERE document_id = ?`, documentID).Scan(&next); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sections (id, document_id, title, content, position, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), documentID, a.SectionID, a.Content, next, ts); err != nil {
			return err
		}
	}

	out, err := tx.ExecContext(ctx,
		`UPDATE documents SET memory = ?, iteration_count = ?, title = CASE WHEN ? != '' THEN ? ELSE title END, updated_at = ? WHERE id = ?`,
		string(res.Memory), res.IterationCount, res.SuggestedTitle, res.SuggestedTitle, ts, documentID)
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return tx.Commit()
}

// NextRequest builds the engine request for the document's next step. While a question
// is pending the answer is required and travels as the instruction.
func (s *Store) NextRequest(ctx context.Context, documentID, answer string) (engine.Request, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return engine.Request{}, err
	}
	sections, err := s.Sections(ctx, documentID)
	if err != nil {
		return engine.Request{}, err
	}
	instruction := doc.Instruction
	if engine.CurrentPhase(doc.Memory) == engine.PhaseAwaitingAnswers {
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return engine.Request{}, ErrAnswerRequired
		}
		instruction = answer
	}
	return engine.Request{
		Instruction:    instruction,
		Sections:       sections,
		Memory:         doc.Memory,
		IterationCount: doc.IterationCount,
	}, nil
}
