package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMalformedHeader is returned for an Authorization header that is not valid Basic auth
	ErrMalformedHeader = errors.New("malformed Authorization header")
)

const basicPrefix = "Basic "

// ParsePassword extracts the password of a Basic Authorization header.
// An empty header yields no password.
func ParsePassword(header string) (*string, error) {
	if header == "" {
		return nil, nil
	}

	if !strings.HasPrefix(header, basicPrefix) {
		return nil, fmt.Errorf("%w: only Basic authorization is supported", ErrMalformedHeader)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, basicPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: credentials are not valid base64", ErrMalformedHeader)
	}

	if !utf8.Valid(decoded) {
		return nil, fmt.Errorf("%w: credentials are not valid UTF-8", ErrMalformedHeader)
	}

	_, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, fmt.Errorf("%w: credentials must be in the form username:password", ErrMalformedHeader)
	}

	return &password, nil
}
