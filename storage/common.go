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
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Collections used by the application
const (
	CollectionCampaign = "campaign"
	CollectionAccount  = "accounttoken"
	CollectionLog      = "log"
	CollectionComment  = "comment"
	CollectionChat     = "chat"
	CollectionTopPost  = "toppost"
)

// Reserved document fields managed by the store
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// ErrNotFound no document matched the request
var ErrNotFound = errors.New("document not found")

// Document is one schemaless stored record
type Document map[string]interface{}

// Scan implements the sql.Scanner interface
func (d *Document) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("src is not []byte or string")
	}
	return json.Unmarshal(raw, d)
}

// Value implements the sql/driver.Valuer interface
func (d Document) Value() (driver.Value, error) {
	serialized, err := json.Marshal(map[string]interface{}(d))
	if err != nil {
		return nil, err
	}
	return string(serialized), nil
}

// ID helper to read the document ID
func (d Document) ID() string {
	if id, ok := d[FieldID].(string); ok {
		return id
	}
	return ""
}

// EncodeDocument convert a typed record into a Document
func EncodeDocument(record interface{}) (Document, error) {
	serialized, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(serialized, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeDocument convert a Document into a typed record
func DecodeDocument(doc Document, record interface{}) error {
	serialized, err := json.Marshal(map[string]interface{}(doc))
	if err != nil {
		return err
	}
	return json.Unmarshal(serialized, record)
}

// Filter selects documents by equality on top level fields
//
// A nil value matches documents where the field is absent or null.
type Filter map[string]*string

// Equals helper to build a single field filter
func Equals(field, value string) Filter {
	return Filter{field: &value}
}

// DocumentStore generic document storage keyed by collection and generated ID
type DocumentStore interface {
	// Create store a new document, returning it with its ID and timestamps
	Create(ctxt context.Context, collection string, doc Document) (Document, error)
	// Get fetch a document by ID. Returns ErrNotFound if it does not exist.
	Get(ctxt context.Context, collection, id string) (Document, error)
	// List fetch documents matching the filter in insertion order
	List(ctxt context.Context, collection string, filter Filter, limit int) ([]Document, error)
	// FindOne fetch the first document matching the filter. Returns ErrNotFound if none.
	FindOne(ctxt context.Context, collection string, filter Filter) (Document, error)
	// Update merge fields into an existing document. Returns ErrNotFound if it does not exist.
	Update(ctxt context.Context, collection, id string, fields Document) (Document, error)
	// Delete remove a document, returning whether it existed
	Delete(ctxt context.Context, collection, id string) (bool, error)
	// Ping check the store is reachable
	Ping(ctxt context.Context) error
	// Close release the store
	Close() error
}
