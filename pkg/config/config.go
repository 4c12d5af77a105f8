// Package config defines the declarative connector configuration the
// extraction engine consumes: the shared API surface (base URL, headers,
// pagination style, auth method) and the ordered set of stream definitions.
//
// A configuration is loaded once at startup, validated fail-fast (including
// compilation of every JSONPath expression), and immutable afterwards.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/resttap/resttap/pkg/errors"
	"github.com/resttap/resttap/pkg/jsonpath"
)

// Pagination style names understood by the engine.
const (
	StyleJSONPathPaginator  = "jsonpath_paginator"
	StyleOffsetPaginator    = "offset_paginator"
	StyleHeaderLink         = "header_link_paginator"
	StyleDefault            = "default"
	ResponseStyleHATEOAS    = "hateoas_body"
	ResponseStyleHeaderLink = "header_link"
)

// Auth method names. Headers remain opaque key/value pairs; the method only
// selects how the Authorization material is attached.
const (
	AuthNone   = "no_auth"
	AuthAPIKey = "api_key"
	AuthBasic  = "basic"
	AuthBearer = "bearer_token"
	AuthOAuth  = "oauth"
)

// ConnectorConfig is the process-wide configuration: one API, many streams.
// Read-only after Load.
type ConnectorConfig struct {
	APIURL                  string            `yaml:"api_url" json:"api_url"`
	PaginationRequestStyle  string            `yaml:"pagination_request_style" json:"pagination_request_style"`
	PaginationResponseStyle string            `yaml:"pagination_response_style" json:"pagination_response_style"`
	PaginationPageSize      int               `yaml:"pagination_page_size" json:"pagination_page_size"`
	NextPageTokenPath       string            `yaml:"next_page_token_path" json:"next_page_token_path"`
	Headers                 map[string]string `yaml:"headers" json:"headers"`

	// Authentication material, consumed by pkg/auth. Opaque to the engine.
	AuthMethod     string            `yaml:"auth_method" json:"auth_method"`
	APIKeys        map[string]string `yaml:"api_keys" json:"api_keys"`
	Username       string            `yaml:"username" json:"username"`
	Password       string            `yaml:"password" json:"password"`
	BearerToken    string            `yaml:"bearer_token" json:"bearer_token"`
	AccessTokenURL string            `yaml:"access_token_url" json:"access_token_url"`
	ClientID       string            `yaml:"client_id" json:"client_id"`
	ClientSecret   string            `yaml:"client_secret" json:"client_secret"`
	Scope          string            `yaml:"scope" json:"scope"`

	Streams []*StreamConfig `yaml:"streams" json:"streams"`

	nextPagePath *jsonpath.Path
}

// StreamConfig describes one logical resource extracted against the shared
// API. Immutable child of ConnectorConfig.
type StreamConfig struct {
	Name              string            `yaml:"name" json:"name"`
	Path              string            `yaml:"path" json:"path"`
	Method            string            `yaml:"method" json:"method"`
	Params            map[string]string `yaml:"params" json:"params"`
	PrimaryKeys       []string          `yaml:"primary_keys" json:"primary_keys"`
	RecordsPath       string            `yaml:"records_path" json:"records_path"`
	ReplicationKey    string            `yaml:"replication_key" json:"replication_key"`
	StartDate         string            `yaml:"start_date" json:"start_date"`
	SourceSearchField string            `yaml:"source_search_field" json:"source_search_field"`
	SourceSearchQuery string            `yaml:"source_search_query" json:"source_search_query"`

	recordsPath *jsonpath.Path
	startDate   time.Time
}

// ApplyDefaults fills unset fields with engine defaults.
func (c *ConnectorConfig) ApplyDefaults() {
	if c.PaginationRequestStyle == "" || c.PaginationRequestStyle == StyleDefault {
		c.PaginationRequestStyle = StyleJSONPathPaginator
	}
	if c.PaginationResponseStyle == "" {
		if c.PaginationRequestStyle == StyleHeaderLink {
			c.PaginationResponseStyle = ResponseStyleHeaderLink
		} else {
			c.PaginationResponseStyle = ResponseStyleHATEOAS
		}
	}
	if c.PaginationPageSize <= 0 {
		c.PaginationPageSize = 100
	}
	if c.AuthMethod == "" {
		c.AuthMethod = AuthNone
	}
	for _, s := range c.Streams {
		if s.Method == "" {
			s.Method = "GET"
		}
	}
}

// Validate checks the configuration and compiles all static JSONPath
// expressions. Every violation is a config error; the first one aborts the
// whole run before any stream executes.
func (c *ConnectorConfig) Validate() error {
	if c.APIURL == "" {
		return errors.New(errors.ErrorTypeConfig, "api_url is required")
	}
	if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf(errors.ErrorTypeConfig, "api_url %q is not an absolute URL", c.APIURL)
	}

	switch c.PaginationRequestStyle {
	case StyleJSONPathPaginator, StyleOffsetPaginator, StyleHeaderLink:
	default:
		return errors.Newf(errors.ErrorTypeConfig,
			"unknown pagination_request_style %q", c.PaginationRequestStyle)
	}

	switch c.PaginationResponseStyle {
	case ResponseStyleHATEOAS, ResponseStyleHeaderLink:
	default:
		return errors.Newf(errors.ErrorTypeConfig,
			"unknown pagination_response_style %q", c.PaginationResponseStyle)
	}

	// next-page location must match where the chosen style looks for it
	wantResponse := ResponseStyleHATEOAS
	if c.PaginationRequestStyle == StyleHeaderLink {
		wantResponse = ResponseStyleHeaderLink
	}
	if c.PaginationResponseStyle != wantResponse {
		return errors.Newf(errors.ErrorTypeConfig,
			"pagination_request_style %q requires pagination_response_style %q, got %q",
			c.PaginationRequestStyle, wantResponse, c.PaginationResponseStyle)
	}

	if c.PaginationRequestStyle == StyleJSONPathPaginator {
		if c.NextPageTokenPath == "" {
			return errors.New(errors.ErrorTypeConfig,
				"next_page_token_path is required for jsonpath_paginator")
		}
		p, err := jsonpath.Compile(c.NextPageTokenPath)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "next_page_token_path")
		}
		c.nextPagePath = p
	}

	switch c.AuthMethod {
	case AuthNone, AuthAPIKey, AuthBasic, AuthBearer, AuthOAuth:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown auth_method %q", c.AuthMethod)
	}

	if len(c.Streams) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one stream is required")
	}

	seen := make(map[string]bool, len(c.Streams))
	for _, s := range c.Streams {
		if err := s.validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate stream name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func (s *StreamConfig) validate() error {
	if s.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "stream name is required")
	}
	if s.Path == "" {
		return errors.Newf(errors.ErrorTypeConfig, "stream %s: path is required", s.Name)
	}
	switch strings.ToUpper(s.Method) {
	case "GET", "POST":
		s.Method = strings.ToUpper(s.Method)
	default:
		return errors.Newf(errors.ErrorTypeConfig, "stream %s: unsupported method %q", s.Name, s.Method)
	}
	if s.RecordsPath == "" {
		return errors.Newf(errors.ErrorTypeConfig, "stream %s: records_path is required", s.Name)
	}
	p, err := jsonpath.Compile(s.RecordsPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "stream "+s.Name+": records_path")
	}
	s.recordsPath = p

	if s.StartDate != "" {
		t, err := ParseTimestamp(s.StartDate)
		if err != nil {
			return errors.Newf(errors.ErrorTypeConfig,
				"stream %s: start_date %q is not a recognized timestamp", s.Name, s.StartDate)
		}
		s.startDate = t
	}

	if s.SourceSearchField != "" && s.SourceSearchQuery == "" {
		return errors.Newf(errors.ErrorTypeConfig,
			"stream %s: source_search_field set without source_search_query", s.Name)
	}
	return nil
}

// NextPagePath returns the compiled next-page locator expression. Only
// available after Validate for the jsonpath_paginator style.
func (c *ConnectorConfig) NextPagePath() *jsonpath.Path {
	return c.nextPagePath
}

// CompiledRecordsPath returns the compiled records-path expression. Only
// available after Validate.
func (s *StreamConfig) CompiledRecordsPath() *jsonpath.Path {
	return s.recordsPath
}

// StartTime returns the parsed start_date, zero when unset.
func (s *StreamConfig) StartTime() time.Time {
	return s.startDate
}

// timestampLayouts are tried in order when parsing replication-key values
// and start dates. Offsets such as +12:00 are honored.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601-ish timestamp string into a time.Time,
// enabling semantic (not lexical) cursor comparison.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
