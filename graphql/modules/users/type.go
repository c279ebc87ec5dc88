// Package users defines the GraphQL types for community members.
package users

import (
	"github.com/graphql-go/graphql"
)

// SocialLinkType is one named profile link
var SocialLinkType = graphql.NewObject(graphql.ObjectConfig{
	Name: "SocialLink",
	Fields: graphql.Fields{
		"name": &graphql.Field{Type: graphql.String},
		"url":  &graphql.Field{Type: graphql.String},
	},
})

// RoleEnum lists the access levels
var RoleEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "Role",
	Values: graphql.EnumValueConfigMap{
		"viewer": &graphql.EnumValueConfig{Value: "viewer"},
		"editor": &graphql.EnumValueConfig{Value: "editor"},
		"admin":  &graphql.EnumValueConfig{Value: "admin"},
	},
})

// ProfileType is the public view of a user
var ProfileType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Profile",
	Fields: graphql.Fields{
		"id":            &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"email":         &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"first_name":    &graphql.Field{Type: graphql.String},
		"last_name":     &graphql.Field{Type: graphql.String},
		"display_name":  &graphql.Field{Type: graphql.String},
		"bio":           &graphql.Field{Type: graphql.String},
		"social_links":  &graphql.Field{Type: graphql.NewList(SocialLinkType)},
		"role":          &graphql.Field{Type: RoleEnum},
		"auth_provider": &graphql.Field{Type: graphql.String},
		"created_at":    &graphql.Field{Type: graphql.String},
	},
})
