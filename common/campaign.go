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

package common

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SocialAccount is one publish target of a campaign
type SocialAccount struct {
	// Platform is the social platform
	Platform string `json:"platform" validate:"required,oneof=facebook instagram twitter linkedin tiktok"`
	// PageName is the display name of the page
	PageName *string `json:"page_name,omitempty" validate:"omitempty"`
	// PageID is the platform's identifier for the page
	PageID *string `json:"page_id,omitempty" validate:"omitempty"`
	// AccessToken is the token to publish with. Resolved from stored credentials if absent.
	AccessToken *string `json:"access_token,omitempty" validate:"omitempty"`
}

// UnmarshalJSON accepts either the object form, or the compact "platform:page_id" string form
func (a *SocialAccount) UnmarshalJSON(data []byte) error {
	var compact string
	if err := json.Unmarshal(data, &compact); err == nil {
		parsed, err := ParseCompactSocialAccount(compact)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	type plain SocialAccount
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*a = SocialAccount(decoded)
	return nil
}

// ParseCompactSocialAccount parse "platform" or "platform:page_id"
func ParseCompactSocialAccount(compact string) (SocialAccount, error) {
	parts := strings.SplitN(strings.TrimSpace(compact), ":", 2)
	if parts[0] == "" {
		return SocialAccount{}, fmt.Errorf("social account '%s' has no platform", compact)
	}
	result := SocialAccount{Platform: parts[0]}
	if len(parts) == 2 && parts[1] != "" {
		pageID := parts[1]
		result.PageID = &pageID
	}
	return result, nil
}

// PageHint the page identifier to use when searching for a stored credential
func (a SocialAccount) PageHint() *string {
	if a.PageID != nil && *a.PageID != "" {
		return a.PageID
	}
	if a.PageName != nil && *a.PageName != "" {
		return a.PageName
	}
	return nil
}

// HasToken whether the account carries a usable access token
func (a SocialAccount) HasToken() bool {
	return a.AccessToken != nil && *a.AccessToken != ""
}

// String toString function. Never includes the token.
func (a SocialAccount) String() string {
	if hint := a.PageHint(); hint != nil {
		return fmt.Sprintf("%s:%s", a.Platform, *hint)
	}
	return a.Platform
}

// CampaignPayload is the user editable part of a campaign
type CampaignPayload struct {
	// Name is the campaign name
	Name string `json:"name" validate:"required"`
	// Objective is the campaign objective
	Objective string `json:"objective" validate:"required,oneof=traffic conversions engagement lead_generation reach"`
	// Headline is the ad headline
	Headline string `json:"headline" validate:"required"`
	// PrimaryText is the ad body
	PrimaryText string `json:"primary_text" validate:"required"`
	// MediaURL is an image or video URL
	MediaURL *string `json:"media_url,omitempty" validate:"omitempty,url"`
	// CallToAction is the ad button
	CallToAction string `json:"call_to_action" validate:"required,oneof=shop_now learn_more sign_up contact_us download"`
	// DestinationURL is where the ad leads to
	DestinationURL *string `json:"destination_url,omitempty" validate:"omitempty,url"`
	// DailyBudget is the daily spend
	DailyBudget float64 `json:"daily_budget" validate:"gte=1"`
	// TotalBudget is the lifetime spend
	TotalBudget *float64 `json:"total_budget,omitempty" validate:"omitempty,gte=1"`
	// StartDate is when the campaign starts
	StartDate *time.Time `json:"start_date,omitempty"`
	// EndDate is when the campaign ends
	EndDate *time.Time `json:"end_date,omitempty"`
	// AudienceLocation is the target location
	AudienceLocation *string `json:"audience_location,omitempty"`
	// AudienceAgeMin is the youngest targeted age
	AudienceAgeMin int `json:"audience_age_min" validate:"gte=13,lte=65"`
	// AudienceAgeMax is the oldest targeted age
	AudienceAgeMax int `json:"audience_age_max" validate:"gte=13,lte=100,gtefield=AudienceAgeMin"`
	// AudienceInterests are the targeted interests
	AudienceInterests []string `json:"audience_interests"`
	// Platforms are the platforms the campaign runs on
	Platforms []string `json:"platforms" validate:"required,min=1,dive,oneof=facebook instagram twitter linkedin tiktok"`
	// SocialAccounts are the pages to publish to
	SocialAccounts []SocialAccount `json:"social_accounts" validate:"dive"`
}

// ApplyDefaults fill in the optional fields which have defaults
func (c *CampaignPayload) ApplyDefaults() {
	if c.Objective == "" {
		c.Objective = "traffic"
	}
	if c.CallToAction == "" {
		c.CallToAction = "learn_more"
	}
	if c.AudienceAgeMin == 0 {
		c.AudienceAgeMin = 18
	}
	if c.AudienceAgeMax == 0 {
		c.AudienceAgeMax = 45
	}
	if c.AudienceInterests == nil {
		c.AudienceInterests = []string{}
	}
	if c.SocialAccounts == nil {
		c.SocialAccounts = []SocialAccount{}
	}
}

// Campaign status values
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusPublished = "published"
	CampaignStatusFailed    = "failed"
)

// CampaignRecord is a stored campaign
type CampaignRecord struct {
	CampaignPayload
	// ID is the campaign ID
	ID string `json:"id"`
	// Status is the campaign status
	Status string `json:"status"`
	// CreatedAt is when the campaign was stored
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the campaign was last changed
	UpdatedAt time.Time `json:"updated_at"`
}
