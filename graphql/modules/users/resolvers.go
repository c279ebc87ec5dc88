package users

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ortelius/community-site/model"
	"github.com/ortelius/community-site/restapi/modules/auth"
)

// ResolveMe returns the caller's profile
func ResolveMe(ctx context.Context, svc *auth.Service) (map[string]interface{}, error) {
	profile, err := svc.Me(ctx)
	if err != nil {
		return nil, clientError(err)
	}
	return profileToMap(*profile), nil
}

// ResolveUsers lists all members, optionally only those with role
func ResolveUsers(ctx context.Context, svc *auth.Service, role string) ([]map[string]interface{}, error) {
	profiles, err := svc.ListUsers(ctx)
	if err != nil {
		return nil, clientError(err)
	}

	results := make([]map[string]interface{}, 0, len(profiles))
	for _, p := range profiles {
		if role != "" && string(p.Role) != role {
			continue
		}
		results = append(results, profileToMap(p))
	}
	return results, nil
}

func profileToMap(p model.Profile) map[string]interface{} {
	names := make([]string, 0, len(p.SocialLinks))
	for name := range p.SocialLinks {
		names = append(names, name)
	}
	sort.Strings(names)

	links := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		links = append(links, map[string]interface{}{"name": name, "url": p.SocialLinks[name]})
	}

	return map[string]interface{}{
		"id":            p.ID,
		"email":         p.Email,
		"first_name":    p.FirstName,
		"last_name":     p.LastName,
		"display_name":  p.DisplayName(),
		"bio":           p.Bio,
		"social_links":  links,
		"role":          string(p.Role),
		"auth_provider": string(p.AuthProvider),
		"created_at":    p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// clientError hides internal causes behind the client-facing message
func clientError(err error) error {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return errors.New(authErr.Message)
	}
	return errors.New("Internal server error")
}
