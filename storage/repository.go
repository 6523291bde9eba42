package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/adstudio/common"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// Repository typed access to the application collections
type Repository struct {
	goutils.Component
	store     DocumentStore
	listLimit int
}

// GetRepository define a Repository on top of a DocumentStore
func GetRepository(store DocumentStore, listLimit int) *Repository {
	logTags := log.Fields{"module": "storage", "component": "repository"}
	if listLimit < 1 {
		listLimit = 100
	}
	return &Repository{
		Component: goutils.Component{LogTags: logTags}, store: store, listLimit: listLimit,
	}
}

// Store the underlying document store
func (r *Repository) Store() DocumentStore {
	return r.store
}

// ListLimit the max number of documents returned by list calls
func (r *Repository) ListLimit() int {
	return r.listLimit
}

// =========================================================================
// Credentials

// FindCredential exact match lookup by platform, and optionally page ID or page name
//
// Returns nil with no error when nothing matches.
func (r *Repository) FindCredential(
	ctxt context.Context, platform string, pageID, pageName *string,
) (*common.AccountCredential, error) {
	filter := Equals("platform", platform)
	if pageID != nil {
		filter["page_id"] = pageID
	}
	if pageName != nil {
		filter["page_name"] = pageName
	}
	doc, err := r.store.FindOne(ctxt, CollectionAccount, filter)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cred common.AccountCredential
	if err := DecodeDocument(doc, &cred); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Unable to parse credential %s", doc.ID())
		return nil, err
	}
	return &cred, nil
}

// UpsertCredential store a credential, replacing the one with the same key
//
// The key is (platform, page_id), or the platform alone when no page ID is given.
func (r *Repository) UpsertCredential(
	ctxt context.Context, cred common.AccountCredential,
) (common.AccountCredential, error) {
	filter := Equals("platform", cred.Platform)
	if cred.PageID != nil && *cred.PageID == "" {
		cred.PageID = nil
	}
	// A page-less credential only ever replaces another page-less one
	filter["page_id"] = cred.PageID

	cred.ID = ""
	doc, err := EncodeDocument(cred)
	if err != nil {
		return common.AccountCredential{}, err
	}

	existing, err := r.store.FindOne(ctxt, CollectionAccount, filter)
	var stored Document
	switch {
	case errors.Is(err, ErrNotFound):
		stored, err = r.store.Create(ctxt, CollectionAccount, doc)
	case err == nil:
		stored, err = r.store.Update(ctxt, CollectionAccount, existing.ID(), doc)
	}
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Failed to upsert credential %s", cred.Platform)
		return common.AccountCredential{}, err
	}

	var result common.AccountCredential
	if err := DecodeDocument(stored, &result); err != nil {
		return common.AccountCredential{}, err
	}
	return result, nil
}

// ListCredentials fetch stored credentials
//
// limit is capped at the repository list limit. 0 means the list limit.
func (r *Repository) ListCredentials(
	ctxt context.Context, limit int,
) ([]common.AccountCredential, error) {
	docs, err := r.store.List(ctxt, CollectionAccount, nil, r.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	result := make([]common.AccountCredential, 0, len(docs))
	for _, doc := range docs {
		var cred common.AccountCredential
		if err := DecodeDocument(doc, &cred); err != nil {
			return nil, fmt.Errorf("credential %s: %w", doc.ID(), err)
		}
		result = append(result, cred)
	}
	return result, nil
}

// DeleteCredential remove a credential
func (r *Repository) DeleteCredential(ctxt context.Context, id string) (bool, error) {
	return r.store.Delete(ctxt, CollectionAccount, id)
}

// =========================================================================
// Campaigns

// CreateCampaign store a new draft campaign
func (r *Repository) CreateCampaign(
	ctxt context.Context, payload common.CampaignPayload,
) (common.CampaignRecord, error) {
	doc, err := EncodeDocument(payload)
	if err != nil {
		return common.CampaignRecord{}, err
	}
	doc["status"] = common.CampaignStatusDraft
	stored, err := r.store.Create(ctxt, CollectionCampaign, doc)
	if err != nil {
		return common.CampaignRecord{}, err
	}
	var record common.CampaignRecord
	if err := DecodeDocument(stored, &record); err != nil {
		return common.CampaignRecord{}, err
	}
	return record, nil
}

// LoadCampaign fetch a stored campaign
//
// Returns nil with no error when the campaign does not exist.
func (r *Repository) LoadCampaign(
	ctxt context.Context, id string,
) (*common.CampaignRecord, error) {
	doc, err := r.store.Get(ctxt, CollectionCampaign, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record common.CampaignRecord
	if err := DecodeDocument(doc, &record); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Unable to parse campaign %s", id)
		return nil, err
	}
	return &record, nil
}

// ListCampaigns fetch stored campaigns
func (r *Repository) ListCampaigns(
	ctxt context.Context, limit int,
) ([]common.CampaignRecord, error) {
	docs, err := r.store.List(ctxt, CollectionCampaign, nil, r.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	result := make([]common.CampaignRecord, 0, len(docs))
	for _, doc := range docs {
		var record common.CampaignRecord
		if err := DecodeDocument(doc, &record); err != nil {
			return nil, fmt.Errorf("campaign %s: %w", doc.ID(), err)
		}
		if record.Status == "" {
			record.Status = common.CampaignStatusDraft
		}
		result = append(result, record)
	}
	return result, nil
}

// =========================================================================
// Logs

// AppendLog store a publish log record
func (r *Repository) AppendLog(ctxt context.Context, record common.PublishLogRecord) error {
	doc, err := EncodeDocument(record)
	if err != nil {
		return err
	}
	_, err = r.store.Create(ctxt, CollectionLog, doc)
	return err
}

// =========================================================================
// Posts

// CreateTopPost store a new top post
func (r *Repository) CreateTopPost(
	ctxt context.Context, payload common.TopPostPayload,
) (common.TopPost, error) {
	var post common.TopPost
	err := r.createTyped(ctxt, CollectionTopPost, payload, &post)
	return post, err
}

// ListTopPosts fetch stored top posts
func (r *Repository) ListTopPosts(ctxt context.Context, limit int) ([]common.TopPost, error) {
	docs, err := r.store.List(ctxt, CollectionTopPost, nil, r.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	result := make([]common.TopPost, len(docs))
	for idx, doc := range docs {
		if err := DecodeDocument(doc, &result[idx]); err != nil {
			return nil, fmt.Errorf("top post %s: %w", doc.ID(), err)
		}
	}
	return result, nil
}

// CreatePostMessage store a new comment or chat message on a post
//
// collection is either CollectionComment or CollectionChat.
func (r *Repository) CreatePostMessage(
	ctxt context.Context, collection, postID string, payload common.PostMessagePayload,
) (common.PostMessage, error) {
	doc, err := EncodeDocument(payload)
	if err != nil {
		return common.PostMessage{}, err
	}
	doc["post_id"] = postID
	var msg common.PostMessage
	err = r.createTyped(ctxt, collection, doc, &msg)
	return msg, err
}

// UpdatePostMessage change the text of a comment or chat message
//
// Returns storage.ErrNotFound if the message is not on that post.
func (r *Repository) UpdatePostMessage(
	ctxt context.Context, collection, postID, id string, update common.PostMessageUpdate,
) (common.PostMessage, error) {
	if _, err := r.getPostMessage(ctxt, collection, postID, id); err != nil {
		return common.PostMessage{}, err
	}
	stored, err := r.store.Update(ctxt, collection, id, Document{"text": update.Text})
	if err != nil {
		return common.PostMessage{}, err
	}
	var msg common.PostMessage
	if err := DecodeDocument(stored, &msg); err != nil {
		return common.PostMessage{}, err
	}
	return msg, nil
}

// DeletePostMessage remove a comment or chat message
//
// Returns storage.ErrNotFound if the message is not on that post.
func (r *Repository) DeletePostMessage(
	ctxt context.Context, collection, postID, id string,
) error {
	if _, err := r.getPostMessage(ctxt, collection, postID, id); err != nil {
		return err
	}
	deleted, err := r.store.Delete(ctxt, collection, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// ListPostMessages fetch the comments or chat messages of a post, oldest first
func (r *Repository) ListPostMessages(
	ctxt context.Context, collection, postID string, limit int,
) ([]common.PostMessage, error) {
	docs, err := r.store.List(ctxt, collection, Equals("post_id", postID), r.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	result := make([]common.PostMessage, len(docs))
	for idx, doc := range docs {
		if err := DecodeDocument(doc, &result[idx]); err != nil {
			return nil, fmt.Errorf("%s %s: %w", collection, doc.ID(), err)
		}
	}
	return result, nil
}

func (r *Repository) getPostMessage(
	ctxt context.Context, collection, postID, id string,
) (Document, error) {
	doc, err := r.store.Get(ctxt, collection, id)
	if err != nil {
		return nil, err
	}
	if owner, _ := doc["post_id"].(string); owner != postID {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (r *Repository) createTyped(
	ctxt context.Context, collection string, payload interface{}, result interface{},
) error {
	doc, ok := payload.(Document)
	if !ok {
		var err error
		if doc, err = EncodeDocument(payload); err != nil {
			return err
		}
	}
	stored, err := r.store.Create(ctxt, collection, doc)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Failed to store into %s", collection)
		return err
	}
	return DecodeDocument(stored, result)
}

func (r *Repository) clampLimit(limit int) int {
	if limit < 1 || limit > r.listLimit {
		return r.listLimit
	}
	return limit
}
