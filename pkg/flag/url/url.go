// Package url wraps net/url.URL as a flag.Value, validating that the input is
// an absolute http or https URL before accepting it.
package url

import (
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

type URL struct{ *url.URL }

func (u *URL) String() string {
	if u == nil || u.URL == nil {
		return ""
	}
	return u.URL.String()
}

func (u *URL) Set(s string) error {
	if u == nil || u.URL == nil {
		return fmt.Errorf("URL is nil")
	}
	if s == "" {
		return nil
	}
	v := validator.New()
	if err := v.Var(s, "http_url"); err != nil {
		return fmt.Errorf("invalid URL: %q", s)
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %q", s)
	}
	*u.URL = *parsed
	return nil
}

func (u *URL) Reset() error {
	if u == nil || u.URL == nil {
		return fmt.Errorf("URL is nil")
	}
	*u.URL = url.URL{}
	return nil
}

func (u *URL) Type() string { return "url" }
