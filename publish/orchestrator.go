package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alwitt/adstudio/common"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// ErrBadRequest the publish request can not be acted on
var ErrBadRequest = errors.New("bad publish request")

// ErrNotFound the referenced campaign does not exist
var ErrNotFound = errors.New("campaign not found")

// MaxTargets max number of targets processed per publish request
const MaxTargets = 5

// Per target result messages
const (
	MessageMissingToken = "Missing access token for this page"
	MessageQueued       = "Queued for publish"
)

// CampaignLoader stored campaign lookup
type CampaignLoader interface {
	// LoadCampaign returns nil with no error when the campaign does not exist
	LoadCampaign(ctxt context.Context, id string) (*common.CampaignRecord, error)
}

// LogAppender durable log writer
type LogAppender interface {
	AppendLog(ctxt context.Context, record common.PublishLogRecord) error
}

// ResultObserver receives each publish result
type ResultObserver interface {
	IncPublishResult(platform, status string)
}

// Request publish request
type Request struct {
	// CampaignID is the stored campaign to publish
	CampaignID *string `json:"campaign_id,omitempty"`
	// Campaign is an inline campaign to publish
	Campaign *common.CampaignPayload `json:"campaign,omitempty"`
	// SocialAccounts overrides the campaign's target list
	SocialAccounts []common.SocialAccount `json:"social_accounts,omitempty"`
}

// Response publish outcome
type Response struct {
	CampaignID *string                `json:"campaign_id"`
	Results    []common.PublishResult `json:"results"`
	Summary    string                 `json:"summary"`
	// Truncated is set when targets beyond MaxTargets were dropped
	Truncated bool `json:"truncated,omitempty"`
}

// Orchestrator runs the publish pipeline
type Orchestrator struct {
	goutils.Component
	resolver  *AccountResolver
	campaigns CampaignLoader
	logs      LogAppender
	observer  ResultObserver
	validate  *validator.Validate
}

// GetOrchestrator define an Orchestrator
//
// observer may be nil.
func GetOrchestrator(
	finder CredentialFinder, campaigns CampaignLoader, logs LogAppender, observer ResultObserver,
) *Orchestrator {
	return &Orchestrator{
		Component: goutils.Component{
			LogTags: log.Fields{"module": "publish", "component": "orchestrator"},
		},
		resolver:  GetAccountResolver(finder),
		campaigns: campaigns,
		logs:      logs,
		observer:  observer,
		validate:  validator.New(),
	}
}

// Publish simulate publishing a campaign to its targets
//
// An inline campaign takes precedence over campaign_id. Returns ErrBadRequest or ErrNotFound
// (possibly wrapped) for unusable requests. Per target failures are reported in the results.
func (o *Orchestrator) Publish(ctxt context.Context, req Request) (Response, error) {
	campaign, err := o.resolveCampaign(ctxt, req)
	if err != nil {
		return Response{}, err
	}

	targets := req.SocialAccounts
	if len(targets) == 0 {
		targets = campaign.SocialAccounts
	}
	if len(targets) == 0 {
		return Response{}, fmt.Errorf("%w: no social accounts provided", ErrBadRequest)
	}

	truncated := false
	if len(targets) > MaxTargets {
		log.WithFields(o.LogTags).Debugf("Dropping %d targets over the cap", len(targets)-MaxTargets)
		targets = targets[:MaxTargets]
		truncated = true
	}

	for idx, target := range targets {
		if err := o.validate.Struct(&target); err != nil {
			return Response{}, fmt.Errorf("%w: social account %d: %s", ErrBadRequest, idx, err)
		}
	}

	results := make([]common.PublishResult, 0, len(targets))
	successCount := 0
	for _, target := range targets {
		if !target.HasToken() {
			if target, err = o.enrich(ctxt, target); err != nil {
				return Response{}, err
			}
		}
		result := common.PublishResult{
			Platform: target.Platform, PageName: target.PageName, PageID: target.PageID,
		}
		if target.HasToken() {
			result.Status = common.PublishStatusSuccess
			result.Message = MessageQueued
			successCount++
		} else {
			result.Status = common.PublishStatusError
			result.Message = MessageMissingToken
		}
		if o.observer != nil {
			o.observer.IncPublishResult(result.Platform, result.Status)
		}
		results = append(results, result)
	}

	// Best effort
	if err := o.logs.AppendLog(ctxt, common.PublishLogRecord{
		Type:       "publish",
		CampaignID: req.CampaignID,
		Results:    results,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.WithError(err).WithFields(o.LogTags).Error("Failed to store publish log")
	}

	return Response{
		CampaignID: req.CampaignID,
		Results:    results,
		Summary:    fmt.Sprintf("Prepared %d/%d posts for publishing", successCount, len(results)),
		Truncated:  truncated,
	}, nil
}

// resolveCampaign fetch the campaign the request refers to
func (o *Orchestrator) resolveCampaign(
	ctxt context.Context, req Request,
) (*common.CampaignPayload, error) {
	if req.Campaign != nil {
		campaign := *req.Campaign
		campaign.ApplyDefaults()
		if err := o.validate.Struct(&campaign); err != nil {
			return nil, fmt.Errorf("%w: invalid campaign: %s", ErrBadRequest, err)
		}
		return &campaign, nil
	}
	if req.CampaignID != nil && strings.TrimSpace(*req.CampaignID) != "" {
		record, err := o.campaigns.LoadCampaign(ctxt, *req.CampaignID)
		if err != nil {
			log.WithError(err).WithFields(o.LogTags).Errorf(
				"Failed to load campaign %s", *req.CampaignID,
			)
			return nil, err
		}
		if record == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, *req.CampaignID)
		}
		return &record.CampaignPayload, nil
	}
	return nil, fmt.Errorf("%w: provide campaign or campaign_id", ErrBadRequest)
}

// enrich fill in a target's credential from the stored credentials
func (o *Orchestrator) enrich(
	ctxt context.Context, target common.SocialAccount,
) (common.SocialAccount, error) {
	cred, err := o.resolver.Resolve(ctxt, target)
	if err != nil {
		return target, err
	}
	if cred == nil {
		return target, nil
	}
	enriched := cred.AsSocialAccount()
	if enriched.PageName == nil {
		enriched.PageName = target.PageName
	}
	if enriched.PageID == nil {
		enriched.PageID = target.PageID
	}
	return enriched, nil
}
