package common

import "time"

// AccountCredential is a stored social platform access token
type AccountCredential struct {
	// ID is the credential ID
	ID string `json:"id,omitempty"`
	// Platform is the social platform
	Platform string `json:"platform" validate:"required"`
	// PageID is the platform's identifier for the page
	PageID *string `json:"page_id,omitempty"`
	// PageName is the display name of the page
	PageName *string `json:"page_name,omitempty"`
	// AccessToken is the token
	AccessToken string `json:"access_token" validate:"required"`
	// ExpiresAt is when the token expires, if known
	ExpiresAt *string `json:"expires_at,omitempty"`
	// OwnerID is the user owning the token
	OwnerID *string `json:"owner_id,omitempty"`
	// CreatedAt is when the credential was first stored
	CreatedAt time.Time `json:"created_at,omitempty"`
	// UpdatedAt is when the credential was last changed
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// AsSocialAccount convert into a publish target
func (c AccountCredential) AsSocialAccount() SocialAccount {
	token := c.AccessToken
	return SocialAccount{
		Platform:    c.Platform,
		PageName:    c.PageName,
		PageID:      c.PageID,
		AccessToken: &token,
	}
}
