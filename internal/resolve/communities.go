package resolve

import (
	"context"
	"errors"

	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/repository"
)

// CommunityUUIDs are the resolved communities of a row. Default is the
// community the record is submitted to.
type CommunityUUIDs struct {
	Default string   `json:"default,omitempty"`
	IDs     []string `json:"ids"`
}

// Empty reports whether no community was resolved.
func (c CommunityUUIDs) Empty() bool {
	return len(c.IDs) == 0
}

// Contains reports whether id is one of the resolved communities.
func (c CommunityUUIDs) Contains(id string) bool {
	for _, v := range c.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// CommunityResolver turns community slugs or ids into community ids.
type CommunityResolver struct {
	communities repository.CommunityService
}

// NewCommunityResolver creates a community resolver.
func NewCommunityResolver(communities repository.CommunityService) *CommunityResolver {
	return &CommunityResolver{communities: communities}
}

// Resolve resolves every slug in turn. The first resolvable one becomes the
// default. When required is set and no slug is given, a single
// community_not_provided error is returned.
func (r *CommunityResolver) Resolve(ctx context.Context, slugs []string, required bool) (CommunityUUIDs, importerr.List) {
	out := CommunityUUIDs{IDs: []string{}}
	var errs importerr.List

	if len(slugs) == 0 {
		if required {
			errs.Add(importerr.TypeCommunityNotProvided, "communities", "At least one community is required to publish the record.")
		}
		return out, errs
	}

	for _, slug := range slugs {
		c, err := r.communities.ReadCommunity(ctx, slug)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				errs.Addf(importerr.TypeCommunityNotFound, "communities", "Community '%s' not found.", slug)
			} else {
				errs.Addf(importerr.TypeCommunityNotFound, "communities", "Community '%s' could not be resolved: %v", slug, err)
			}
			continue
		}
		if out.Contains(c.ID) {
			continue
		}
		if out.Default == "" {
			out.Default = c.ID
		}
		out.IDs = append(out.IDs, c.ID)
	}
	return out, errs
}
