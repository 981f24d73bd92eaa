package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Amund211/wpaccount/internal/app"
	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/logging"
	"github.com/Amund211/wpaccount/internal/ratelimiting"
	"github.com/Amund211/wpaccount/internal/reporting"
	"github.com/Amund211/wpaccount/internal/strutils"
)

// UserResponse is the JSON shape of the typed user details
type UserResponse struct {
	ID               int64  `json:"id"`
	Username         string `json:"username"`
	DisplayName      string `json:"display_name"`
	Email            string `json:"email"`
	EmailVerified    bool   `json:"email_verified"`
	PrimaryBlogID    int64  `json:"primary_blog_id"`
	PrimaryBlogURL   string `json:"primary_blog_url"`
	Language         string `json:"language"`
	AvatarURL        string `json:"avatar_url"`
	ProfileURL       string `json:"profile_url"`
	SiteCount        int    `json:"site_count"`
	VisibleSiteCount int    `json:"visible_site_count"`
	DateCreated      string `json:"date_created,omitempty"`
	QueriedAt        string `json:"queried_at"`
}

type userDetailsResponse struct {
	Success bool           `json:"success"`
	User    *UserResponse  `json:"user,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
	Cause   string         `json:"cause,omitempty"`
}

func UserResponseFromDomain(details domain.UserDetails) UserResponse {
	dateCreated := ""
	if !details.DateCreated.IsZero() {
		dateCreated = details.DateCreated.UTC().Format(time.RFC3339)
	}

	return UserResponse{
		ID:               details.UserID,
		Username:         details.Username,
		DisplayName:      details.DisplayName,
		Email:            details.Email,
		EmailVerified:    details.EmailVerified,
		PrimaryBlogID:    details.PrimaryBlogID,
		PrimaryBlogURL:   details.PrimaryBlogURL,
		Language:         details.Language,
		AvatarURL:        details.AvatarURL,
		ProfileURL:       details.ProfileURL,
		SiteCount:        details.SiteCount,
		VisibleSiteCount: details.VisibleSiteCount,
		DateCreated:      dateCreated,
		QueriedAt:        details.QueriedAt.UTC().Format(time.RFC3339),
	}
}

func makeSuccessUserDetailsResponse(details domain.UserDetails) ([]byte, error) {
	user := UserResponseFromDomain(details)
	raw := details.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	return json.Marshal(userDetailsResponse{
		Success: true,
		User:    &user,
		Raw:     raw,
	})
}

func makeErrorUserDetailsResponse(cause string) ([]byte, error) {
	return json.Marshal(userDetailsResponse{
		Success: false,
		Cause:   cause,
	})
}

// Map an error from GetUserDetails to a response cause and status code
func classifyUserDetailsError(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrMissingToken):
		return "missing token", http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized", http.StatusUnauthorized
	case errors.Is(err, domain.ErrTemporarilyUnavailable):
		return "temporarily unavailable", http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNetwork), errors.Is(err, domain.ErrMalformedResponse):
		return "bad gateway", http.StatusBadGateway
	default:
		return "internal server error", http.StatusInternalServerError
	}
}

func MakeGetUserDetailsHandler(
	getUserDetails app.GetUserDetails,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	ipLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(8),
		ratelimiting.BurstSize(480),
	)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		ipLimiter,
		ratelimiting.IPKeyFunc,
	)
	tokenLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(2),
		ratelimiting.BurstSize(120),
	)
	tokenRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		// NOTE: Rate limiting based on user controlled value
		tokenLimiter,
		ratelimiting.TokenKeyFunc,
	)

	middleware := ComposeMiddlewares(
		buildMetricsMiddleware("get_user_details"),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("get_user_details"),
		BuildCORSMiddleware(allowedOrigins),
		NewRateLimitMiddleware(ipRateLimiter, rateLimitExceeded),
		NewRateLimitMiddleware(tokenRateLimiter, rateLimitExceeded),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		handleError := func(ctx context.Context, cause string, statusCode int) {
			response, err := makeErrorUserDetailsResponse(cause)
			if err != nil {
				reporting.Report(ctx, fmt.Errorf("failed to marshal error response: %w", err))
				writeJSON(w, http.StatusInternalServerError, []byte(`{"success":false,"cause":"internal server error"}`))
				return
			}

			writeJSON(w, statusCode, response)
		}

		token := strutils.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			handleError(ctx, "missing token", http.StatusUnauthorized)
			return
		}

		tokenFingerprint := strutils.TokenFingerprint(token)
		ctx = logging.AddMetaToContext(ctx, slog.String("tokenFingerprint", strutils.ShortTokenFingerprint(tokenFingerprint)))
		ctx = reporting.SetTokenFingerprintInContext(ctx, tokenFingerprint)

		remote := app.NewAccountServiceRemote(getUserDetails, token)
		details, err := remote.GetUserDetailsSync(ctx)
		if err != nil {
			// NOTE: GetUserDetails implementations handle their own error reporting
			cause, statusCode := classifyUserDetailsError(err)
			logging.FromContext(ctx).InfoContext(ctx, "Failed to get user details", "cause", cause, "error", err.Error())
			handleError(ctx, cause, statusCode)
			return
		}

		ctx = reporting.SetUserIDInContext(ctx, details.UserID)
		ctx = logging.AddMetaToContext(ctx, slog.Int64("userID", details.UserID))

		response, err := makeSuccessUserDetailsResponse(details)
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to create success response: %w", err))
			handleError(ctx, "internal server error", http.StatusInternalServerError)
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Returning user details", "queriedAt", details.QueriedAt.Format(time.RFC3339))
		writeJSON(w, http.StatusOK, response)
	}

	return middleware(handler)
}

func MakeHealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
