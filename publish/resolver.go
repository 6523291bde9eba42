package publish

import (
	"context"

	"github.com/alwitt/adstudio/common"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// CredentialFinder exact match credential lookup
type CredentialFinder interface {
	// FindCredential find a credential by platform, and optionally page ID or page name.
	// Returns nil with no error when nothing matches.
	FindCredential(
		ctxt context.Context, platform string, pageID, pageName *string,
	) (*common.AccountCredential, error)
}

// AccountResolver finds the stored credential for a publish target
type AccountResolver struct {
	goutils.Component
	finder CredentialFinder
}

// GetAccountResolver define an AccountResolver
func GetAccountResolver(finder CredentialFinder) *AccountResolver {
	return &AccountResolver{
		Component: goutils.Component{
			LogTags: log.Fields{"module": "publish", "component": "account-resolver"},
		},
		finder: finder,
	}
}

// Resolve find the credential for a target
//
// Lookup order is the exact (platform, page_id) using the page hint, then (platform, page_name),
// then the first credential of the platform. Returns nil with no error when nothing matches.
func (r *AccountResolver) Resolve(
	ctxt context.Context, target common.SocialAccount,
) (*common.AccountCredential, error) {
	if hint := target.PageHint(); hint != nil {
		cred, err := r.finder.FindCredential(ctxt, target.Platform, hint, nil)
		if err != nil || cred != nil {
			return cred, err
		}
	}
	if target.PageName != nil && *target.PageName != "" {
		cred, err := r.finder.FindCredential(ctxt, target.Platform, nil, target.PageName)
		if err != nil || cred != nil {
			return cred, err
		}
	}
	cred, err := r.finder.FindCredential(ctxt, target.Platform, nil, nil)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Credential lookup failed for %s", target)
		return nil, err
	}
	if cred == nil {
		log.WithFields(r.LogTags).Debugf("No credential for %s", target)
	}
	return cred, nil
}
