package users

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"loghold/internal/config"
	pkgerrors "loghold/pkg/errors"
)

// Kind separates persisted accounts from the built-in admin, which exists
// only in memory and never reaches storage.
type Kind string

const (
	KindLocal Kind = "local"
	KindAdmin Kind = "admin"
)

const (
	maxUsernameLength = 100
	maxEmailLength    = 254
	maxFullNameLength = 200
)

// PermissionAll grants every permission. Only the built-in admin carries it.
const PermissionAll = "*"

type User struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Kind           Kind               `bson:"kind"`
	Username       string             `bson:"username"`
	Email          string             `bson:"email"`
	FullName       string             `bson:"full_name"`
	HashedPassword string             `bson:"password"`
	Permissions    []string           `bson:"permissions"`
	Timezone       string             `bson:"timezone,omitempty"`
	SessionTimeout time.Duration      `bson:"session_timeout,omitempty"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

// NewAdmin builds the built-in root account from static configuration. It is
// read-only: the repository rejects any attempt to persist or modify it.
func NewAdmin(cfg config.RootAccountConfig) *User {
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	return &User{
		Kind:        KindAdmin,
		Username:    username,
		Email:       cfg.Email,
		FullName:    "Administrator",
		Permissions: []string{PermissionAll},
	}
}

func (u *User) IsReadOnly() bool {
	return u.Kind == KindAdmin
}

func (u *User) HasPermission(permission string) bool {
	for _, p := range u.Permissions {
		if p == PermissionAll || p == permission {
			return true
		}
	}
	return false
}

// Validate checks the field constraints of a persisted account. The built-in
// admin is never validated because it is never stored.
func (u *User) Validate() error {
	if u.Username == "" || len(u.Username) > maxUsernameLength {
		return validationError("username", fmt.Sprintf("must be between 1 and %d characters", maxUsernameLength))
	}
	if u.Email == "" || len(u.Email) > maxEmailLength {
		return validationError("email", fmt.Sprintf("must be between 1 and %d characters", maxEmailLength))
	}
	if len(u.FullName) > maxFullNameLength {
		return validationError("full_name", fmt.Sprintf("must be at most %d characters", maxFullNameLength))
	}
	if u.HashedPassword == "" {
		return validationError("password", "password hash must be set")
	}
	if u.Permissions == nil {
		return validationError("permissions", "permission list must be set")
	}
	return nil
}

func validationError(field, message string) error {
	return pkgerrors.ErrValidation.
		WithDetail("field", field).
		WithDetail("message", message)
}
