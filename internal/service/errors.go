package service

import (
	"errors"

	"github.com/tunevault/platform/internal/domain"
)

// storageErr passes domain errors through and wraps everything else as a
// retryable storage failure.
func storageErr(msg string, err error) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return domain.ErrStorage(msg, err)
}

// codeOf returns the AppError code for metrics labels.
func codeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return domain.CodeInternal
}
