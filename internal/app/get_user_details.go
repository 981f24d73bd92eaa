package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Amund211/wpaccount/internal/adapters/cache"
	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/logging"
	"github.com/Amund211/wpaccount/internal/strutils"
)

const providerTimeout = 10 * time.Second

// Stored details younger than this are served when the provider fails
const maxFallbackAge = 24 * time.Hour

type GetUserDetails func(ctx context.Context, token string) (domain.UserDetails, error)

type userDetailsProvider interface {
	GetUserDetails(ctx context.Context, token string) (domain.UserDetails, error)
}

type userDetailsRepository interface {
	StoreUserDetails(ctx context.Context, tokenFingerprint string, details domain.UserDetails) error
	GetUserDetailsByToken(ctx context.Context, tokenFingerprint string) (domain.UserDetails, error)
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrMissingToken)
}

func buildGetUserDetailsWithoutCache(
	provider userDetailsProvider,
	repo userDetailsRepository,
	nowFunc func() time.Time,
) func(ctx context.Context, token, tokenFingerprint string) (domain.UserDetails, error) {
	return func(ctx context.Context, token, tokenFingerprint string) (domain.UserDetails, error) {
		getCtx, cancel := context.WithTimeout(ctx, providerTimeout)
		defer cancel()
		providerDetails, err := provider.GetUserDetails(getCtx, token)
		if isClientError(err) {
			return domain.UserDetails{}, err
		} else if err != nil {
			// NOTE: userDetailsProvider implementations handle their own error reporting

			// Try to fall back to the repository result, if available
			if repoDetails, repoErr := repo.GetUserDetailsByToken(ctx, tokenFingerprint); repoErr == nil {
				// time.Since(repoDetails.QueriedAt) implemented using nowFunc()
				repoDetailsAge := nowFunc().Sub(repoDetails.QueriedAt)
				if repoDetailsAge < maxFallbackAge {
					logging.FromContext(ctx).WarnContext(ctx, "Serving stored user details after provider failure", "age", repoDetailsAge.String(), "error", err.Error())
					return repoDetails, nil
				}
			}
			return domain.UserDetails{}, fmt.Errorf("could not get user details: %w", err)
		}

		err = repo.StoreUserDetails(ctx, tokenFingerprint, providerDetails)
		if err != nil {
			// NOTE: This error is not critical, we can still return the details
			logging.FromContext(ctx).WarnContext(ctx, "Failed to store user details", "error", err.Error())
		}

		return providerDetails, nil
	}
}

// BuildGetUserDetailsWithCache returns the account details of the token's owner.
// Results are cached per token fingerprint, and a provider failure is papered over
// with recently stored details for the same token.
func BuildGetUserDetailsWithCache(
	userDetailsCache cache.Cache[domain.UserDetails],
	provider userDetailsProvider,
	repo userDetailsRepository,
	nowFunc func() time.Time,
) GetUserDetails {
	getUserDetailsWithoutCache := buildGetUserDetailsWithoutCache(provider, repo, nowFunc)

	return func(ctx context.Context, token string) (domain.UserDetails, error) {
		if token == "" {
			return domain.UserDetails{}, domain.ErrMissingToken
		}

		tokenFingerprint := strutils.TokenFingerprint(token)

		details, _, err := cache.GetOrCreate(ctx, userDetailsCache, tokenFingerprint, func() (domain.UserDetails, error) {
			return getUserDetailsWithoutCache(ctx, token, tokenFingerprint)
		})
		if err != nil {
			// NOTE: GetOrCreate only returns an error if create() fails or ctx is done.
			// getUserDetailsWithoutCache handles its own error reporting
			return domain.UserDetails{}, fmt.Errorf("failed to cache.GetOrCreate user details: %w", err)
		}

		return details, nil
	}
}
