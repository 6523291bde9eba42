package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alwitt/adstudio/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func getTestStore(t *testing.T) DocumentStore {
	uut, err := GetSQLiteDocumentStore(common.StorageConfig{SQLitePath: ":memory:"})
	assert.Nil(t, err)
	t.Cleanup(func() {
		_ = uut.Close()
	})
	return uut
}

func TestSQLiteDocumentStoreBasic(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut := getTestStore(t)
	utCtxt, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	assert.Nil(uut.Ping(utCtxt))

	// Case 0: fetch unknown
	_, err := uut.Get(utCtxt, CollectionCampaign, uuid.New().String())
	assert.ErrorIs(err, ErrNotFound)

	// Case 1: create
	doc1, err := uut.Create(utCtxt, CollectionCampaign, Document{
		"name": "spring", "id": "ignored", "daily_budget": 5,
	})
	assert.Nil(err)
	assert.NotEqual("ignored", doc1.ID())
	assert.NotEmpty(doc1[FieldCreatedAt])
	{
		fetched, err := uut.Get(utCtxt, CollectionCampaign, doc1.ID())
		assert.Nil(err)
		assert.Equal("spring", fetched["name"])
		assert.EqualValues(5, fetched["daily_budget"])
		assert.Equal(doc1[FieldCreatedAt], fetched[FieldCreatedAt])
	}

	// Case 2: same ID space is per collection
	_, err = uut.Get(utCtxt, CollectionLog, doc1.ID())
	assert.ErrorIs(err, ErrNotFound)

	// Case 3: update merges fields
	doc2, err := uut.Update(utCtxt, CollectionCampaign, doc1.ID(), Document{"status": "draft"})
	assert.Nil(err)
	assert.Equal("spring", doc2["name"])
	assert.Equal("draft", doc2["status"])
	_, err = uut.Update(utCtxt, CollectionCampaign, uuid.New().String(), Document{"a": "b"})
	assert.ErrorIs(err, ErrNotFound)

	// Case 4: delete
	deleted, err := uut.Delete(utCtxt, CollectionCampaign, doc1.ID())
	assert.Nil(err)
	assert.True(deleted)
	deleted, err = uut.Delete(utCtxt, CollectionCampaign, doc1.ID())
	assert.Nil(err)
	assert.False(deleted)
}

func TestSQLiteDocumentStoreFilter(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut := getTestStore(t)
	utCtxt, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	docs := []Document{
		{"platform": "facebook", "page_id": "p1", "access_token": "t1"},
		{"platform": "facebook", "access_token": "t2"},
		{"platform": "instagram", "page_id": "p1", "access_token": "t3"},
	}
	for _, doc := range docs {
		_, err := uut.Create(utCtxt, CollectionAccount, doc)
		assert.Nil(err)
	}

	// Case 0: list in insertion order
	all, err := uut.List(utCtxt, CollectionAccount, nil, 0)
	assert.Nil(err)
	assert.Len(all, 3)
	assert.Equal("t1", all[0]["access_token"])
	assert.Equal("t3", all[2]["access_token"])

	// Case 1: limit
	limited, err := uut.List(utCtxt, CollectionAccount, nil, 2)
	assert.Nil(err)
	assert.Len(limited, 2)

	// Case 2: multi field match
	filter := Equals("platform", "instagram")
	pageID := "p1"
	filter["page_id"] = &pageID
	match, err := uut.FindOne(utCtxt, CollectionAccount, filter)
	assert.Nil(err)
	assert.Equal("t3", match["access_token"])

	// Case 3: nil value matches absent field
	filter = Equals("platform", "facebook")
	filter["page_id"] = nil
	match, err = uut.FindOne(utCtxt, CollectionAccount, filter)
	assert.Nil(err)
	assert.Equal("t2", match["access_token"])

	// Case 4: no match
	_, err = uut.FindOne(utCtxt, CollectionAccount, Equals("platform", "tiktok"))
	assert.ErrorIs(err, ErrNotFound)

	// Case 5: invalid field names are rejected
	_, err = uut.List(utCtxt, CollectionAccount, Equals("a') OR 1=1 --", "x"), 0)
	assert.NotNil(err)
}

func TestSQLitePragmas(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	logTags := log.Fields{"module": "storage", "component": "ut-pragmas"}
	db, err := sql.Open("sqlite", ":memory:")
	assert.Nil(err)

	// Case 0: all applied
	assert.Empty(applyPragmas(db, 500, logTags))

	// Case 1: failures are reported, not hidden
	assert.Nil(db.Close())
	failed := applyPragmas(db, 500, logTags)
	assert.Len(failed, 3)
	assert.Equal("PRAGMA busy_timeout = 500", failed[0])
}
