package client

import "fmt"

func requireKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	return nil
}

func malformed(provider, detail string) error {
	return fmt.Errorf("%s: %w: %s", provider, ErrMalformed, detail)
}
