package users

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"loghold/internal/config"
	pkgerrors "loghold/pkg/errors"
)

func validUser() *User {
	return &User{
		Kind:           KindLocal,
		Username:       "jane",
		Email:          "jane@example.org",
		FullName:       "Jane Doe",
		HashedPassword: "$2a$10$abcdefghijklmnopqrstuv",
		Permissions:    []string{"indices:read"},
	}
}

func TestUserValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*User)
		wantErr bool
	}{
		{name: "valid", mutate: func(u *User) {}},
		{name: "empty username", mutate: func(u *User) { u.Username = "" }, wantErr: true},
		{name: "username too long", mutate: func(u *User) { u.Username = strings.Repeat("a", 101) }, wantErr: true},
		{name: "username at limit", mutate: func(u *User) { u.Username = strings.Repeat("a", 100) }},
		{name: "empty email", mutate: func(u *User) { u.Email = "" }, wantErr: true},
		{name: "email too long", mutate: func(u *User) { u.Email = strings.Repeat("a", 255) }, wantErr: true},
		{name: "empty full name is fine", mutate: func(u *User) { u.FullName = "" }},
		{name: "full name too long", mutate: func(u *User) { u.FullName = strings.Repeat("a", 201) }, wantErr: true},
		{name: "missing password hash", mutate: func(u *User) { u.HashedPassword = "" }, wantErr: true},
		{name: "nil permissions", mutate: func(u *User) { u.Permissions = nil }, wantErr: true},
		{name: "empty permissions list is fine", mutate: func(u *User) { u.Permissions = []string{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := validUser()
			tt.mutate(u)

			err := u.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, pkgerrors.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewAdmin(t *testing.T) {
	admin := NewAdmin(config.RootAccountConfig{Username: "root", Email: "root@example.org"})

	assert.Equal(t, KindAdmin, admin.Kind)
	assert.Equal(t, "root", admin.Username)
	assert.True(t, admin.IsReadOnly())
	assert.Equal(t, []string{PermissionAll}, admin.Permissions)
}

func TestNewAdminDefaultUsername(t *testing.T) {
	admin := NewAdmin(config.RootAccountConfig{})
	assert.Equal(t, "admin", admin.Username)
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	assert.NoError(t, err)
	assert.NotEmpty(t, hash)

	assert.True(t, CheckPassword(hash, "correct horse battery staple"))
	assert.False(t, CheckPassword(hash, "wrong password"))
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := HashPassword("")
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)
}

func TestHasPermission(t *testing.T) {
	u := validUser()
	assert.True(t, u.HasPermission("indices:read"))
	assert.False(t, u.HasPermission("indices:write"))

	admin := NewAdmin(config.RootAccountConfig{})
	assert.True(t, admin.HasPermission("indices:write"))
	assert.True(t, admin.HasPermission("anything:at:all"))
}
