package domain

import (
	"context"
	"errors"
)

// Service is the narrow settings lookup consumed by billing components.
type Service interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetInt64(ctx context.Context, key string, def int64) (int64, error)
	Set(ctx context.Context, key, value string) error
	Unset(ctx context.Context, key string) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidKey          = errors.New("invalid_setting_key")
)
