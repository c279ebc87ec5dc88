// Package users defines the GraphQL queries for community members.
package users

import (
	"github.com/graphql-go/graphql"
	"github.com/ortelius/community-site/restapi/modules/auth"
)

// GetQueryFields returns the user queries to be mounted in the root schema
func GetQueryFields(svc *auth.Service) graphql.Fields {
	return graphql.Fields{
		// Signed-in caller
		"me": &graphql.Field{
			Type: ProfileType,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveMe(p.Context, svc)
			},
		},
		// Admin only
		"users": &graphql.Field{
			Type: graphql.NewList(ProfileType),
			Args: graphql.FieldConfigArgument{
				"role": &graphql.ArgumentConfig{Type: RoleEnum},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				role, _ := p.Args["role"].(string)
				return ResolveUsers(p.Context, svc, role)
			},
		},
	}
}
