// Copyright 2021-2022 The adstudio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/alwitt/adstudio/common"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

// validFieldName restricts filter keys, since they are placed into JSON paths
var validFieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sqliteDocumentStore DocumentStore backed by SQLite
type sqliteDocumentStore struct {
	goutils.Component
	db *sql.DB
}

// GetSQLiteDocumentStore define a SQLite backed DocumentStore
func GetSQLiteDocumentStore(config common.StorageConfig) (DocumentStore, error) {
	logTags := log.Fields{
		"module": "storage", "component": "sqlite-store", "instance": config.SQLitePath,
	}
	if strings.TrimSpace(config.SQLitePath) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", config.SQLitePath)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to open database")
		return nil, err
	}
	// One connection serializes writers, and keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Tuning only. The store still works with the SQLite defaults.
	_ = applyPragmas(db, config.BusyTimeout, logTags)

	if _, err := db.Exec(migrations); err != nil {
		log.WithError(err).WithFields(logTags).Error("Schema migration failed")
		_ = db.Close()
		return nil, err
	}

	log.WithFields(logTags).Info("Opened document store")
	return &sqliteDocumentStore{
		Component: goutils.Component{LogTags: logTags}, db: db,
	}, nil
}

// applyPragmas set the connection tuning pragmas, returning the ones which failed
func applyPragmas(db *sql.DB, busyTimeout int, logTags log.Fields) []string {
	pragmas := []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"}
	if busyTimeout > 0 {
		pragmas = append([]string{fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout)}, pragmas...)
	}
	failed := []string{}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.WithError(err).WithFields(logTags).Warnf("Unable to apply '%s'", pragma)
			failed = append(failed, pragma)
		}
	}
	return failed
}

// stripReserved remove the store managed fields before persisting the body
func stripReserved(doc Document) Document {
	body := Document{}
	for k, v := range doc {
		if k == FieldID || k == FieldCreatedAt || k == FieldUpdatedAt {
			continue
		}
		body[k] = v
	}
	return body
}

// assemble combine a stored body with the store managed fields
func assemble(id string, body Document, createdAt, updatedAt string) Document {
	if body == nil {
		body = Document{}
	}
	body[FieldID] = id
	body[FieldCreatedAt] = createdAt
	body[FieldUpdatedAt] = updatedAt
	return body
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Create store a new document
func (s *sqliteDocumentStore) Create(
	ctxt context.Context, collection string, doc Document,
) (Document, error) {
	id := uuid.NewString()
	now := timestamp()
	body := stripReserved(doc)
	if _, err := s.db.ExecContext(
		ctxt,
		`INSERT INTO documents(collection, id, body, created_at, updated_at) VALUES(?,?,?,?,?)`,
		collection, id, body, now, now,
	); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to CREATE in %s", collection)
		return nil, err
	}
	log.WithFields(s.LogTags).Debugf("CREATE %s/%s", collection, id)
	return assemble(id, body, now, now), nil
}

// Get fetch a document by ID
func (s *sqliteDocumentStore) Get(
	ctxt context.Context, collection, id string,
) (Document, error) {
	return s.FindOne(ctxt, collection, Equals(FieldID, id))
}

// buildWhere convert a filter into a WHERE clause plus arguments
func buildWhere(collection string, filter Filter) (string, []interface{}, error) {
	clauses := []string{"collection = ?"}
	args := []interface{}{collection}
	// Sorted so the same filter always renders the same statement
	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if !validFieldName.MatchString(field) {
			return "", nil, fmt.Errorf("invalid filter field '%s'", field)
		}
		value := filter[field]
		column := fmt.Sprintf("json_extract(body, '$.%s')", field)
		if field == FieldID {
			column = "id"
		}
		if value == nil {
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", column))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s = ?", column))
			args = append(args, *value)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// List fetch documents matching the filter
func (s *sqliteDocumentStore) List(
	ctxt context.Context, collection string, filter Filter, limit int,
) ([]Document, error) {
	where, args, err := buildWhere(collection, filter)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT id, body, created_at, updated_at FROM documents WHERE %s ORDER BY seq", where,
	)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctxt, query, args...)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to LIST %s", collection)
		return nil, err
	}
	defer rows.Close()

	result := []Document{}
	for rows.Next() {
		var id, createdAt, updatedAt string
		var body Document
		if err := rows.Scan(&id, &body, &createdAt, &updatedAt); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf("Failed to parse row in %s", collection)
			return nil, err
		}
		result = append(result, assemble(id, body, createdAt, updatedAt))
	}
	return result, rows.Err()
}

// FindOne fetch the first document matching the filter
func (s *sqliteDocumentStore) FindOne(
	ctxt context.Context, collection string, filter Filter,
) (Document, error) {
	docs, err := s.List(ctxt, collection, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Update merge fields into an existing document
func (s *sqliteDocumentStore) Update(
	ctxt context.Context, collection, id string, fields Document,
) (Document, error) {
	tx, err := s.db.BeginTx(ctxt, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var body Document
	var createdAt string
	err = tx.QueryRowContext(
		ctxt,
		`SELECT body, created_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to READ %s/%s", collection, id)
		return nil, err
	}
	if body == nil {
		body = Document{}
	}
	for k, v := range stripReserved(fields) {
		body[k] = v
	}
	now := timestamp()
	if _, err := tx.ExecContext(
		ctxt,
		`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		body, now, collection, id,
	); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to UPDATE %s/%s", collection, id)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.WithFields(s.LogTags).Debugf("UPDATE %s/%s", collection, id)
	return assemble(id, body, createdAt, now), nil
}

// Delete remove a document
func (s *sqliteDocumentStore) Delete(
	ctxt context.Context, collection, id string,
) (bool, error) {
	resp, err := s.db.ExecContext(
		ctxt, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id,
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Failed to DELETE %s/%s", collection, id)
		return false, err
	}
	count, err := resp.RowsAffected()
	if err != nil {
		return false, err
	}
	log.WithFields(s.LogTags).Debugf("DELETE %s/%s removed %d", collection, id, count)
	return count > 0, nil
}

// Ping check the store is reachable
func (s *sqliteDocumentStore) Ping(ctxt context.Context) error {
	return s.db.PingContext(ctxt)
}

// Close release the store
func (s *sqliteDocumentStore) Close() error {
	return s.db.Close()
}
