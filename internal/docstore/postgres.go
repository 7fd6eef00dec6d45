package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"threadboard/internal/util"
)

// PostgresStore keeps each document as one JSONB row and set-field members as
// rows of a companion table, so membership mutations are single atomic
// statements. Subscriptions poll a change revision instead of LISTEN/NOTIFY,
// which keeps everything on the one database/sql pool.
type PostgresStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func NewPostgresStore(ctx context.Context, db *sql.DB, pollInterval time.Duration) (*PostgresStore, error) {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	s := &PostgresStore{db: db, pollInterval: pollInterval}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS document_changes`,
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			revision BIGINT NOT NULL DEFAULT nextval('document_changes'),
			PRIMARY KEY (collection, id)
		)`,
		`CREATE TABLE IF NOT EXISTS document_set_members (
			collection TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			field TEXT NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (collection, doc_id, field, member)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, collection string, doc Document) (string, error) {
	id := util.NewID("c")
	body, err := json.Marshal(doc.Data)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	// One transaction so a failed set-member insert never leaves a
	// half-created document behind.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
	`, collection, id, body); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	for field, members := range doc.Sets {
		for _, member := range members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO document_set_members (collection, doc_id, field, member)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT DO NOTHING
			`, collection, id, field, member); err != nil {
				return "", fmt.Errorf("insert set member: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ReadOne(ctx context.Context, collection, id string) (Document, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE collection=$1 AND id=$2
	`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}

	doc := Document{ID: id}
	if err := json.Unmarshal(body, &doc.Data); err != nil {
		return Document{}, fmt.Errorf("unmarshal document: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT field, member FROM document_set_members
		WHERE collection=$1 AND doc_id=$2
		ORDER BY field, member
	`, collection, id)
	if err != nil {
		return Document{}, fmt.Errorf("read set members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var field, member string
		if err := rows.Scan(&field, &member); err != nil {
			return Document{}, fmt.Errorf("scan set member: %w", err)
		}
		if doc.Sets == nil {
			doc.Sets = make(map[string][]string)
		}
		doc.Sets[field] = append(doc.Sets[field], member)
	}
	if err := rows.Err(); err != nil {
		return Document{}, fmt.Errorf("iterate set members: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) Read(ctx context.Context, q Query) ([]Document, error) {
	direction := "ASC"
	if q.Direction == Descending {
		direction = "DESC"
	}
	// jsonb comparison orders numbers numerically and strings
	// lexicographically; id breaks ties so rescans never reshuffle.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id FROM documents
		WHERE collection=$1 AND data ? $2
		ORDER BY data->$2 %s, id ASC
	`, direction), q.Collection, q.OrderBy)
	if err != nil {
		return nil, fmt.Errorf("ordered query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.ReadOne(ctx, q.Collection, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *PostgresStore) UpdateSetField(ctx context.Context, collection, id, field string, op SetOp, member string) error {
	switch op {
	case SetAdd:
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO document_set_members (collection, doc_id, field, member)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, collection, id, field, member); err != nil {
			return fmt.Errorf("set add: %w", err)
		}
	case SetRemove:
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM document_set_members
			WHERE collection=$1 AND doc_id=$2 AND field=$3 AND member=$4
		`, collection, id, field, member); err != nil {
			return fmt.Errorf("set remove: %w", err)
		}
	default:
		return fmt.Errorf("unknown set op %q", op)
	}
	return s.bumpRevision(ctx, collection, id)
}

func (s *PostgresStore) UpdateField(ctx context.Context, collection, id, field string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal field: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET data = jsonb_set(data, ARRAY[$3], $4::jsonb, true),
		    revision = nextval('document_changes')
		WHERE collection=$1 AND id=$2
	`, collection, id, field, encoded)
	if err != nil {
		return fmt.Errorf("update field: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update field rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendToArray(ctx context.Context, collection, id, field string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET data = jsonb_set(data, ARRAY[$3], COALESCE(data->$3, '[]'::jsonb) || jsonb_build_array($4::jsonb), true),
		    revision = nextval('document_changes')
		WHERE collection=$1 AND id=$2
	`, collection, id, field, encoded)
	if err != nil {
		return fmt.Errorf("append to array: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append to array rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) bumpRevision(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET revision = nextval('document_changes')
		WHERE collection=$1 AND id=$2
	`, collection, id)
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump revision rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	sub := &postgresSub{
		ch:   make(chan []Document, 1),
		done: make(chan struct{}),
	}

	go func() {
		defer close(sub.ch)
		var lastRev int64 = -1
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			var rev int64
			err := s.db.QueryRowContext(ctx, `
				SELECT COALESCE(MAX(revision), 0) FROM documents WHERE collection=$1
			`, q.Collection).Scan(&rev)
			if err != nil {
				log.Printf("docstore: poll revision: %v", err)
			} else if rev != lastRev {
				snap, err := s.Read(ctx, q)
				if err != nil {
					log.Printf("docstore: snapshot query: %v", err)
				} else {
					lastRev = rev
					pushLatest(sub.ch, snap)
				}
			}
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return sub, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type postgresSub struct {
	ch   chan []Document
	done chan struct{}
	once sync.Once
}

func (s *postgresSub) Snapshots() <-chan []Document { return s.ch }

func (s *postgresSub) Unsubscribe() {
	s.once.Do(func() { close(s.done) })
}
