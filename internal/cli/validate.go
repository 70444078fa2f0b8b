package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/erasebg-relay/internal/auth"
)

// ResolveDirectory checks that the path exists and is a directory, then
// returns the absolute path.
func ResolveDirectory(dirPath string) (string, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory not found: %s", dirPath)
		}
		return "", fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", dirPath)
	}

	if absPath, err := filepath.Abs(dirPath); err == nil {
		dirPath = absPath
	}
	return dirPath, nil
}

// DescribeValidationError turns a token verification failure into a
// message for the terminal.
func DescribeValidationError(err error) string {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		return "unexpected error during token verification: " + err.Error()
	}
	switch validationErr.Type {
	case auth.ErrTypeNoKey:
		return "No token given. Create one at the Pixelbin console and run `erasebg token set`"
	case auth.ErrTypeInvalidKey:
		return "Invalid token. Please check your token and try again"
	case auth.ErrTypeNetworkError:
		return "Network error. Please check your internet connection"
	case auth.ErrTypeQuotaExceeded:
		return "API quota exceeded. Please try again later or check your plan"
	default:
		return "Token verification failed: " + validationErr.Message
	}
}
