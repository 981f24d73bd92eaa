package accountprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/logging"
)

// Error codes in the API error envelope that mean the token can't be used
var authErrorCodes = map[string]bool{
	"invalid_token":          true,
	"authorization_required": true,
	"unauthorized":           true,
	"token_expired":          true,
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type meResponse struct {
	ID               flexInt        `json:"ID"`
	Username         string         `json:"username"`
	DisplayName      optionalString `json:"display_name"`
	Email            optionalString `json:"email"`
	EmailVerified    optionalBool   `json:"email_verified"`
	PrimaryBlog      optionalInt    `json:"primary_blog"`
	PrimaryBlogURL   optionalString `json:"primary_blog_url"`
	Language         optionalString `json:"language"`
	AvatarURL        optionalString `json:"avatar_URL"`
	ProfileURL       optionalString `json:"profile_URL"`
	SiteCount        optionalInt    `json:"site_count"`
	VisibleSiteCount optionalInt    `json:"visible_site_count"`
	Date             optionalString `json:"date"`
}

// Names of the optional fields that were present but could not be decoded
func (r meResponse) invalidFields() []string {
	fields := []struct {
		name    string
		invalid bool
	}{
		{"display_name", r.DisplayName.invalid},
		{"email", r.Email.invalid},
		{"email_verified", r.EmailVerified.invalid},
		{"primary_blog", r.PrimaryBlog.invalid},
		{"primary_blog_url", r.PrimaryBlogURL.invalid},
		{"language", r.Language.invalid},
		{"avatar_URL", r.AvatarURL.invalid},
		{"profile_URL", r.ProfileURL.invalid},
		{"site_count", r.SiteCount.invalid},
		{"visible_site_count", r.VisibleSiteCount.invalid},
		{"date", r.Date.invalid},
	}

	var invalid []string
	for _, field := range fields {
		if field.invalid {
			invalid = append(invalid, field.name)
		}
	}
	return invalid
}

// Integer that may be sent as a number, a numeric string, false or null
type flexInt int64

func (i *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch raw {
	case "null", "false", `""`:
		*i = 0
		return nil
	}

	raw = strings.Trim(raw, `"`)
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", string(data), err)
	}
	*i = flexInt(value)
	return nil
}

// Boolean that may be sent as true/false, 0/1 or their string forms
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", string(data))
	}
	return nil
}

// Optional fields never fail the decode. Unusable values are left at zero and flagged.
type optionalInt struct {
	value   int64
	invalid bool
}

func (i *optionalInt) UnmarshalJSON(data []byte) error {
	var value flexInt
	if err := value.UnmarshalJSON(data); err != nil {
		*i = optionalInt{invalid: true}
		return nil
	}
	*i = optionalInt{value: int64(value)}
	return nil
}

type optionalBool struct {
	value   bool
	invalid bool
}

func (b *optionalBool) UnmarshalJSON(data []byte) error {
	var value flexBool
	if err := value.UnmarshalJSON(data); err != nil {
		*b = optionalBool{invalid: true}
		return nil
	}
	*b = optionalBool{value: bool(value)}
	return nil
}

type optionalString struct {
	value   string
	invalid bool
}

func (s *optionalString) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		*s = optionalString{invalid: true}
		return nil
	}
	*s = optionalString{value: value}
	return nil
}

func errorCodeFromBody(data []byte) string {
	var response errorResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return "<unparsable>"
	}
	if response.Error == "" {
		return "<missing>"
	}
	return response.Error
}

func isAuthError(data []byte) bool {
	var response errorResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return false
	}
	return authErrorCodes[response.Error]
}

func decodeRaw(data []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("response is null")
	}
	return raw, nil
}

func userDetailsFromResponse(ctx context.Context, statusCode int, data []byte, queriedAt time.Time) (domain.UserDetails, error) {
	switch statusCode {
	case http.StatusUnauthorized,
		http.StatusForbidden:
		return domain.UserDetails{}, fmt.Errorf("%w: wordpress.com API returned status code %d", domain.ErrUnauthorized, statusCode)
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return domain.UserDetails{}, fmt.Errorf("%w: wordpress.com API returned status code %d", domain.ErrTemporarilyUnavailable, statusCode)
	}

	if statusCode < 200 || statusCode > 299 {
		if statusCode == http.StatusBadRequest && isAuthError(data) {
			return domain.UserDetails{}, fmt.Errorf("%w: wordpress.com API returned status code %d", domain.ErrUnauthorized, statusCode)
		}
		return domain.UserDetails{}, fmt.Errorf("%w: wordpress.com API returned status code %d", domain.ErrUnexpectedStatus, statusCode)
	}

	raw, err := decodeRaw(data)
	if err != nil {
		return domain.UserDetails{}, fmt.Errorf("%w: failed to parse response: %w", domain.ErrMalformedResponse, err)
	}

	var response meResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return domain.UserDetails{}, fmt.Errorf("%w: failed to parse response fields: %w", domain.ErrMalformedResponse, err)
	}

	if response.ID <= 0 {
		if isAuthError(data) {
			return domain.UserDetails{}, fmt.Errorf("%w: error in successful response", domain.ErrUnauthorized)
		}
		return domain.UserDetails{}, fmt.Errorf("%w: missing user ID", domain.ErrMalformedResponse)
	}
	if response.Username == "" {
		return domain.UserDetails{}, fmt.Errorf("%w: missing username", domain.ErrMalformedResponse)
	}

	if invalid := response.invalidFields(); len(invalid) > 0 {
		logging.FromContext(ctx).DebugContext(ctx, "Ignoring invalid optional fields in wordpress.com response", "fields", invalid)
	}

	var dateCreated time.Time
	if response.Date.value != "" {
		if parsed, err := time.Parse(time.RFC3339, response.Date.value); err == nil {
			dateCreated = parsed
		}
	}

	return domain.UserDetails{
		UserID:           int64(response.ID),
		Username:         response.Username,
		DisplayName:      response.DisplayName.value,
		Email:            response.Email.value,
		EmailVerified:    response.EmailVerified.value,
		PrimaryBlogID:    response.PrimaryBlog.value,
		PrimaryBlogURL:   response.PrimaryBlogURL.value,
		Language:         response.Language.value,
		AvatarURL:        response.AvatarURL.value,
		ProfileURL:       response.ProfileURL.value,
		SiteCount:        int(response.SiteCount.value),
		VisibleSiteCount: int(response.VisibleSiteCount.value),
		DateCreated:      dateCreated,
		QueriedAt:        queriedAt,
		Raw:              raw,
	}, nil
}
