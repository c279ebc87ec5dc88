package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"
	"github.com/google/uuid"
	"github.com/ortelius/community-site/model"
)

// Store errors
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// UserStore is the credential store. Every method touches at most one user
// record, except ListUsers.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByKey(ctx context.Context, key string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateProfile(ctx context.Context, key string, upd model.ProfileUpdate, now time.Time) (*model.User, error)
	UpdateRole(ctx context.Context, key string, role model.Role, now time.Time) (*model.User, error)
	SetResetToken(ctx context.Context, key, token string, expires time.Time) error
	FindByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	// ConsumeResetToken sets passwordHash and clears the reset fields on the user
	// holding token, only if it has not expired at now. It returns
	// ErrUserNotFound when nothing matched.
	ConsumeResetToken(ctx context.Context, token string, now time.Time, passwordHash string) (*model.User, error)
	ClearResetToken(ctx context.Context, token string) error
}

var _ UserStore = (*ArangoUserStore)(nil)

// ArangoUserStore keeps users in the ArangoDB users collection
type ArangoUserStore struct {
	db DBConnection
}

// NewArangoUserStore wraps an initialized connection
func NewArangoUserStore(db DBConnection) *ArangoUserStore {
	return &ArangoUserStore{db: db}
}

// CreateUser inserts a new user, assigning a key when none is set
func (s *ArangoUserStore) CreateUser(ctx context.Context, user *model.User) error {
	if user.Key == "" {
		user.Key = uuid.NewString()
	}
	user.Email = model.NormalizeEmail(user.Email)

	col, ok := s.db.Collections[UsersCollection]
	if !ok {
		return fmt.Errorf("collection %s not initialized", UsersCollection)
	}

	if _, err := col.CreateDocument(ctx, user); err != nil {
		if shared.IsConflict(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByKey returns the user with the given _key
func (s *ArangoUserStore) GetUserByKey(ctx context.Context, key string) (*model.User, error) {
	query := `
		FOR u IN users
			FILTER u._key == @key
			LIMIT 1
			RETURN u
	`
	return s.queryOne(ctx, query, map[string]interface{}{"key": key})
}

// GetUserByEmail looks a user up by normalized email
func (s *ArangoUserStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
		FOR u IN users
			FILTER u.email == @email
			LIMIT 1
			RETURN u
	`
	return s.queryOne(ctx, query, map[string]interface{}{"email": model.NormalizeEmail(email)})
}

// ListUsers returns every user ordered by creation time
func (s *ArangoUserStore) ListUsers(ctx context.Context) ([]model.User, error) {
	query := `
		FOR u IN users
			SORT u.created_at ASC
			RETURN u
	`
	cursor, err := s.db.Database.Query(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close()

	users := []model.User{}
	for cursor.HasMore() {
		var user model.User
		if _, err := cursor.ReadDocument(ctx, &user); err != nil {
			return nil, fmt.Errorf("read user: %w", err)
		}
		users = append(users, user)
	}
	return users, nil
}

// UpdateProfile writes the set display fields
func (s *ArangoUserStore) UpdateProfile(ctx context.Context, key string, upd model.ProfileUpdate, now time.Time) (*model.User, error) {
	patch := map[string]interface{}{"updated_at": now}
	if upd.FirstName != nil {
		patch["first_name"] = *upd.FirstName
	}
	if upd.LastName != nil {
		patch["last_name"] = *upd.LastName
	}
	if upd.Bio != nil {
		patch["bio"] = *upd.Bio
	}
	if upd.SocialLinks != nil {
		patch["social_links"] = upd.SocialLinks
	}

	query := `
		FOR u IN users
			FILTER u._key == @key
			UPDATE u WITH @patch IN users OPTIONS { mergeObjects: false }
			RETURN NEW
	`
	return s.queryOne(ctx, query, map[string]interface{}{"key": key, "patch": patch})
}

// UpdateRole sets the role of a user
func (s *ArangoUserStore) UpdateRole(ctx context.Context, key string, role model.Role, now time.Time) (*model.User, error) {
	query := `
		FOR u IN users
			FILTER u._key == @key
			UPDATE u WITH { role: @role, updated_at: @now } IN users
			RETURN NEW
	`
	return s.queryOne(ctx, query, map[string]interface{}{"key": key, "role": string(role), "now": now})
}

// SetResetToken stores a reset token and its expiry on a user
func (s *ArangoUserStore) SetResetToken(ctx context.Context, key, token string, expires time.Time) error {
	query := `
		FOR u IN users
			FILTER u._key == @key
			UPDATE u WITH { reset_token: @token, reset_expires: @expires } IN users
			RETURN NEW._key
	`
	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"key": key, "token": token, "expires": expires},
	})
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return ErrUserNotFound
	}
	return nil
}

// FindByResetToken returns the user holding an unexpired reset token
func (s *ArangoUserStore) FindByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	query := `
		FOR u IN users
			FILTER u.reset_token == @token AND DATE_TIMESTAMP(u.reset_expires) > @now
			LIMIT 1
			RETURN u
	`
	return s.queryOne(ctx, query, map[string]interface{}{"token": token, "now": now.UnixMilli()})
}

// ConsumeResetToken matches and clears the token in a single update so two
// concurrent resets cannot both succeed
func (s *ArangoUserStore) ConsumeResetToken(ctx context.Context, token string, now time.Time, passwordHash string) (*model.User, error) {
	query := `
		FOR u IN users
			FILTER u.reset_token == @token AND DATE_TIMESTAMP(u.reset_expires) > @now
			LIMIT 1
			UPDATE u WITH {
				password_hash: @hash,
				reset_token: null,
				reset_expires: null,
				updated_at: @updated
			} IN users
			RETURN NEW
	`
	user, err := s.queryOne(ctx, query, map[string]interface{}{
		"token":   token,
		"now":     now.UnixMilli(),
		"hash":    passwordHash,
		"updated": now,
	})
	if isWriteConflict(err) {
		// a concurrent reset updated the document first and cleared the token
		return nil, ErrUserNotFound
	}
	return user, err
}

func isWriteConflict(err error) bool {
	return err != nil && (shared.IsConflict(err) || shared.IsArangoErrorWithErrorNum(err, shared.ErrArangoConflict))
}

// ClearResetToken removes a reset token regardless of its expiry
func (s *ArangoUserStore) ClearResetToken(ctx context.Context, token string) error {
	query := `
		FOR u IN users
			FILTER u.reset_token == @token
			UPDATE u WITH { reset_token: null, reset_expires: null } IN users
	`
	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"token": token},
	})
	if err != nil {
		return fmt.Errorf("clear reset token: %w", err)
	}
	return cursor.Close()
}

func (s *ArangoUserStore) queryOne(ctx context.Context, query string, bindVars map[string]interface{}) (*model.User, error) {
	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return nil, ErrUserNotFound
	}

	var user model.User
	if _, err := cursor.ReadDocument(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
