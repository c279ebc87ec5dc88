package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "viewer", want: RoleViewer},
		{in: "Editor", want: RoleEditor},
		{in: " ADMIN ", want: RoleAdmin},
		{in: "owner", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleViewer.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("superuser").Valid())
	assert.False(t, Role("Admin").Valid())
}

func TestRoleIn(t *testing.T) {
	staff := []Role{RoleEditor, RoleAdmin}

	assert.True(t, RoleAdmin.In(staff...))
	assert.True(t, RoleEditor.In(staff...))
	assert.False(t, RoleViewer.In(staff...))
	assert.False(t, Role("").In(staff...))
	assert.False(t, RoleAdmin.In(), "no allowed roles admits nobody")
}

func TestNewUserDefaults(t *testing.T) {
	u := NewUser("  Alice@Example.COM ", " Alice ", "Smith")

	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "Alice", u.FirstName)
	assert.Equal(t, RoleViewer, u.Role)
	assert.Equal(t, ProviderLocal, u.AuthProvider)
	assert.True(t, u.IsLocal())
	assert.Nil(t, u.ResetToken)
	assert.False(t, u.CreatedAt.IsZero())
}

func TestHasResetToken(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	token := "abc"
	expires := now.Add(time.Hour)
	u := &User{ResetToken: &token, ResetExpires: &expires}

	assert.True(t, u.HasResetToken("abc", now))
	assert.False(t, u.HasResetToken("abd", now))
	assert.False(t, u.HasResetToken("", now))
	assert.False(t, u.HasResetToken("abc", expires), "expiry instant is exclusive")
	assert.False(t, u.HasResetToken("abc", now.Add(2*time.Hour)))
	assert.False(t, (&User{}).HasResetToken("abc", now))
}

func TestProfileOmitsCredentials(t *testing.T) {
	token := "secret-reset"
	u := &User{
		Key:          "k1",
		Email:        "a@x.com",
		PasswordHash: "$2a$10$hash",
		ResetToken:   &token,
		Role:         RoleEditor,
		SocialLinks:  map[string]string{"github": "https://github.com/a"},
	}

	p := u.Profile()
	assert.Equal(t, "k1", p.ID)
	assert.Equal(t, RoleEditor, p.Role)

	p.SocialLinks["github"] = "changed"
	assert.Equal(t, "https://github.com/a", u.SocialLinks["github"], "profile must not alias user maps")
}

func TestProfileUpdateApply(t *testing.T) {
	u := NewUser("a@x.com", "A", "B")
	first := " Ada "
	bio := "builder"

	upd := ProfileUpdate{FirstName: &first, Bio: &bio}
	require.False(t, upd.Empty())
	upd.Apply(u)

	assert.Equal(t, "Ada", u.FirstName)
	assert.Equal(t, "B", u.LastName)
	assert.Equal(t, "builder", u.Bio)
	assert.Equal(t, "a@x.com", u.Email)
	assert.True(t, ProfileUpdate{}.Empty())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", Profile{FirstName: "Ada", LastName: "Lovelace"}.DisplayName())
	assert.Equal(t, "a@x.com", Profile{Email: "a@x.com"}.DisplayName())
}
