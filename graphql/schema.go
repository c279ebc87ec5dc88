// Package graphql assembles the root GraphQL schema.
package graphql

import (
	"github.com/graphql-go/graphql"
	"github.com/ortelius/community-site/graphql/modules/users"
	"github.com/ortelius/community-site/restapi/modules/auth"
)

// CreateSchema builds the root query from every module
func CreateSchema(svc *auth.Service) (graphql.Schema, error) {
	fields := graphql.Fields{}
	for name, field := range users.GetQueryFields(svc) {
		fields[name] = field
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: fields,
		}),
	})
}
