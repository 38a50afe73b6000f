package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	apperrors "github.com/kbukum/blockflow/errors"
)

// IsConnectionError checks if a database error is a connection error
// that might be resolved by retrying.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"connection closed",
		"driver: bad connection",
		"database is locked",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// IsNotFoundError checks if the error is a GORM record-not-found error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// FromDatabase converts a database error to an AppError. Connection
// failures map to a retryable storage error.
func FromDatabase(err error, resource string) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if IsNotFoundError(err) {
		return apperrors.NotFound(resource, "")
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.InvalidInput(resource, "already exists").WithCause(err)
	}
	appErr := apperrors.StorageError(resource, err)
	appErr.Retryable = IsConnectionError(err)
	return appErr
}
