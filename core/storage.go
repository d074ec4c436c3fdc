package core

import (
	"context"

	"github.com/pkg/errors"
)

// Durable storage keys. Each key is written by exactly one store.
const (
	KeyOTPEmail = "otpEmail"           // session.Store
	KeyTeacher  = "teacher_data"       // teacher.Store
	KeyTheme    = "mykelas-theme"      // theme.Store
	KeySession  = "mykelas-auth-token" // identity provider
)

// ErrKeyNotFound is returned by Storage.Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// Storage is a durable string key/value store, the client-side equivalent of browser local storage.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
