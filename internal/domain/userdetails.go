package domain

import "time"

// UserDetails is the account of the user owning a WordPress.com token, as returned by /me
type UserDetails struct {
	UserID           int64
	Username         string
	DisplayName      string
	Email            string
	EmailVerified    bool
	PrimaryBlogID    int64
	PrimaryBlogURL   string
	Language         string
	AvatarURL        string
	ProfileURL       string
	SiteCount        int
	VisibleSiteCount int
	DateCreated      time.Time
	QueriedAt        time.Time

	// Raw holds every key of the response body, including the ones not mapped above
	Raw map[string]any
}
