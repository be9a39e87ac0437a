package pipeline

import (
	"fmt"
	"math"

	"github.com/kurobon/imagepro/internal/catalog"
)

// The catalog has already merged defaults and checked constraints, so a
// missing key here is a catalog bug, reported as invalid settings.

func intSetting(s map[string]any, key string) (int, error) {
	switch v := s[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", catalog.ErrInvalidSettings, key)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: %s must be a number", catalog.ErrInvalidSettings, key)
}

func floatSetting(s map[string]any, key string) (float64, error) {
	switch v := s[key].(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s must be a number", catalog.ErrInvalidSettings, key)
}

func boolSetting(s map[string]any, key string) (bool, error) {
	switch v := s[key].(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("%w: %s must be true or false", catalog.ErrInvalidSettings, key)
}

func stringSetting(s map[string]any, key string) (string, error) {
	switch v := s[key].(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("%w: %s must be a string", catalog.ErrInvalidSettings, key)
}
