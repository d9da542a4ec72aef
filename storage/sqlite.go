package storage

import (
	"database/sql"
	"fmt"
	"regexp"

	// registers the "sqlite3" database/sql driver
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	Register("sqlite3", func(opts Options) (Writer, error) {
		return NewSQLiteWriter(opts)
	})
}

// SQLiteConfig is the sqlite3 plugin's storage_config.
type SQLiteConfig struct {
	Write struct {
		Pragmas []string `yaml:"pragmas"`
	} `yaml:"write"`
}

// Pragmas applied when the config does not name any.
var defaultPragmas = []string{"journal_mode=MEMORY", "synchronous=OFF"}

var pragmaPattern = regexp.MustCompile(`^[A-Za-z_]+\s*=\s*[A-Za-z0-9_\-.]+$`)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS topics(
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	serialization_format TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages(
	id INTEGER PRIMARY KEY,
	topic_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	data BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS timestamp_idx ON messages (timestamp ASC);
`

// SQLiteWriter stores messages in a single SQLite database file with one
// transaction per batch.
type SQLiteWriter struct {
	db     *sql.DB
	path   string
	topics map[string]int64
}

// NewSQLiteWriter creates <uri>.db3 and applies the configured pragmas.
func NewSQLiteWriter(opts Options) (*SQLiteWriter, error) {
	var cfg SQLiteConfig
	if err := loadConfig(opts.StorageConfigURI, &cfg); err != nil {
		return nil, err
	}
	pragmas := cfg.Write.Pragmas
	if len(pragmas) == 0 {
		pragmas = defaultPragmas
	}

	path := opts.URI + ".db3"
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// pragmas such as journal_mode are per connection
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if !pragmaPattern.MatchString(p) {
			db.Close()
			return nil, fmt.Errorf("invalid pragma %q", p)
		}
		if _, err := db.Exec("PRAGMA " + p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteWriter{
		db:     db,
		path:   path,
		topics: make(map[string]int64),
	}, nil
}

// Path returns the database file name.
func (s *SQLiteWriter) Path() string {
	return s.path
}

// CreateTopic inserts a row into the topics table.
func (s *SQLiteWriter) CreateTopic(topic TopicMetadata) error {
	if _, ok := s.topics[topic.Name]; ok {
		return nil
	}

	res, err := s.db.Exec(
		"INSERT INTO topics (name, type, serialization_format) VALUES (?, ?, ?)",
		topic.Name, topic.Type, topic.SerializationFormat,
	)
	if err != nil {
		return &WriterError{StorageID: "sqlite3", Op: "create_topic", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return &WriterError{StorageID: "sqlite3", Op: "create_topic", Err: err}
	}

	s.topics[topic.Name] = id
	return nil
}

// Write inserts the batch in one transaction.
func (s *SQLiteWriter) Write(batch Batch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &WriterError{StorageID: "sqlite3", Op: "write", Err: err}
	}

	stmt, err := tx.Prepare("INSERT INTO messages (topic_id, timestamp, data) VALUES (?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return &WriterError{StorageID: "sqlite3", Op: "write", Err: err}
	}
	defer stmt.Close()

	for _, m := range batch {
		id, ok := s.topics[m.Topic]
		if !ok {
			_ = tx.Rollback()
			return &WriterError{StorageID: "sqlite3", Op: "write", Err: fmt.Errorf("unknown topic %q", m.Topic)}
		}
		if _, err := stmt.Exec(id, m.Timestamp, m.Data); err != nil {
			_ = tx.Rollback()
			return &WriterError{StorageID: "sqlite3", Op: "write", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriterError{StorageID: "sqlite3", Op: "commit", Err: err}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteWriter) Close() error {
	if err := s.db.Close(); err != nil {
		return &WriterError{StorageID: "sqlite3", Op: "close", Err: err}
	}
	return nil
}
