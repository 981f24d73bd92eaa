package domaintest

import (
	"fmt"
	"time"

	"github.com/Amund211/wpaccount/internal/domain"
)

type userDetailsBuilder struct {
	details *domain.UserDetails
}

func (b *userDetailsBuilder) WithDisplayName(displayName string) *userDetailsBuilder {
	b.details.DisplayName = displayName
	b.details.Raw["display_name"] = displayName
	return b
}

func (b *userDetailsBuilder) WithEmail(email string) *userDetailsBuilder {
	b.details.Email = email
	b.details.Raw["email"] = email
	return b
}

func (b *userDetailsBuilder) WithPrimaryBlogID(primaryBlogID int64) *userDetailsBuilder {
	b.details.PrimaryBlogID = primaryBlogID
	b.details.Raw["primary_blog"] = primaryBlogID
	return b
}

func (b *userDetailsBuilder) Build() domain.UserDetails {
	details := *b.details
	// Copy the map, so further mutations to the builder don't affect the returned details
	details.Raw = make(map[string]any, len(b.details.Raw))
	for key, value := range b.details.Raw {
		details.Raw[key] = value
	}
	return details
}

func NewUserDetailsBuilder(userID int64, queriedAt time.Time) *userDetailsBuilder {
	username := fmt.Sprintf("user%d", userID)
	return &userDetailsBuilder{
		details: &domain.UserDetails{
			UserID:      userID,
			Username:    username,
			DisplayName: username,
			QueriedAt:   queriedAt,
			Raw: map[string]any{
				"ID":           userID,
				"username":     username,
				"display_name": username,
			},
		},
	}
}
