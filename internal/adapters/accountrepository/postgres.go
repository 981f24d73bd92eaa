package accountrepository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/reporting"
	"github.com/Amund211/wpaccount/internal/strutils"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var ErrUserNotFound = errors.New("user not found")

type Postgres struct {
	db      *sqlx.DB
	schema  string
	nowFunc func() time.Time

	tracer trace.Tracer
}

func NewPostgres(db *sqlx.DB, schema string, nowFunc func() time.Time) *Postgres {
	tracer := otel.Tracer("wpaccount/accountrepository/postgres")

	return &Postgres{
		db:      db,
		schema:  schema,
		nowFunc: nowFunc,

		tracer: tracer,
	}
}

type dbUserDetails struct {
	UserID           int64        `db:"user_id"`
	Username         string       `db:"username"`
	DisplayName      string       `db:"display_name"`
	Email            string       `db:"email"`
	EmailVerified    bool         `db:"email_verified"`
	PrimaryBlogID    int64        `db:"primary_blog_id"`
	PrimaryBlogURL   string       `db:"primary_blog_url"`
	Language         string       `db:"language"`
	AvatarURL        string       `db:"avatar_url"`
	ProfileURL       string       `db:"profile_url"`
	SiteCount        int          `db:"site_count"`
	VisibleSiteCount int          `db:"visible_site_count"`
	DateCreated      sql.NullTime `db:"date_created"`
	Raw              []byte       `db:"raw"`
	QueriedAt        time.Time    `db:"queried_at"`
}

func toDBUserDetails(details domain.UserDetails) (dbUserDetails, error) {
	raw := details.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return dbUserDetails{}, fmt.Errorf("failed to marshal raw user details: %w", err)
	}

	return dbUserDetails{
		UserID:           details.UserID,
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
		DateCreated: sql.NullTime{
			Time:  details.DateCreated,
			Valid: !details.DateCreated.IsZero(),
		},
		Raw:       rawJSON,
		QueriedAt: details.QueriedAt,
	}, nil
}

func (e dbUserDetails) toDomain() (domain.UserDetails, error) {
	decoder := json.NewDecoder(bytes.NewReader(e.Raw))
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return domain.UserDetails{}, fmt.Errorf("failed to unmarshal raw user details: %w", err)
	}

	var dateCreated time.Time
	if e.DateCreated.Valid {
		dateCreated = e.DateCreated.Time
	}

	return domain.UserDetails{
		UserID:           e.UserID,
		Username:         e.Username,
		DisplayName:      e.DisplayName,
		Email:            e.Email,
		EmailVerified:    e.EmailVerified,
		PrimaryBlogID:    e.PrimaryBlogID,
		PrimaryBlogURL:   e.PrimaryBlogURL,
		Language:         e.Language,
		AvatarURL:        e.AvatarURL,
		ProfileURL:       e.ProfileURL,
		SiteCount:        e.SiteCount,
		VisibleSiteCount: e.VisibleSiteCount,
		DateCreated:      dateCreated,
		QueriedAt:        e.QueriedAt,
		Raw:              raw,
	}, nil
}

// StoreUserDetails saves details and links them to the token with the given fingerprint.
// Details older than what is already stored for the user are not written, but the token link is.
func (p *Postgres) StoreUserDetails(ctx context.Context, tokenFingerprint string, details domain.UserDetails) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.StoreUserDetails")
	defer span.End()

	if !strutils.IsTokenFingerprint(tokenFingerprint) {
		err := fmt.Errorf("invalid token fingerprint")
		reporting.Report(ctx, err)
		return err
	}

	if details.UserID <= 0 || details.Username == "" {
		err := fmt.Errorf("user details are missing id or username")
		reporting.Report(ctx, err, map[string]string{
			"userID": strconv.FormatInt(details.UserID, 10),
		})
		return err
	}

	entry, err := toDBUserDetails(details)
	if err != nil {
		reporting.Report(ctx, err, map[string]string{
			"userID": strconv.FormatInt(details.UserID, 10),
		})
		return err
	}

	now := p.nowFunc()

	txx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		err := fmt.Errorf("failed to start transaction: %w", err)
		reporting.Report(ctx, err)
		return err
	}
	defer txx.Rollback()

	_, err = txx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s", pq.QuoteIdentifier(p.schema)))
	if err != nil {
		err := fmt.Errorf("failed to set search path: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"schema": p.schema,
		})
		return err
	}

	_, err = txx.ExecContext(
		ctx,
		`INSERT INTO user_details
		(
			user_id, username, display_name, email, email_verified,
			primary_blog_id, primary_blog_url, language, avatar_url, profile_url,
			site_count, visible_site_count, date_created, raw, queried_at,
			first_seen_at, seen_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)
		ON CONFLICT (user_id)
		DO UPDATE SET
			username = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.username ELSE user_details.username END,
			display_name = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.display_name ELSE user_details.display_name END,
			email = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.email ELSE user_details.email END,
			email_verified = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.email_verified ELSE user_details.email_verified END,
			primary_blog_id = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.primary_blog_id ELSE user_details.primary_blog_id END,
			primary_blog_url = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.primary_blog_url ELSE user_details.primary_blog_url END,
			language = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.language ELSE user_details.language END,
			avatar_url = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.avatar_url ELSE user_details.avatar_url END,
			profile_url = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.profile_url ELSE user_details.profile_url END,
			site_count = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.site_count ELSE user_details.site_count END,
			visible_site_count = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.visible_site_count ELSE user_details.visible_site_count END,
			date_created = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.date_created ELSE user_details.date_created END,
			raw = CASE WHEN user_details.queried_at <= EXCLUDED.queried_at THEN EXCLUDED.raw ELSE user_details.raw END,
			queried_at = GREATEST(user_details.queried_at, EXCLUDED.queried_at),
			seen_count = user_details.seen_count + 1`,
		entry.UserID,
		entry.Username,
		entry.DisplayName,
		entry.Email,
		entry.EmailVerified,
		entry.PrimaryBlogID,
		entry.PrimaryBlogURL,
		entry.Language,
		entry.AvatarURL,
		entry.ProfileURL,
		entry.SiteCount,
		entry.VisibleSiteCount,
		entry.DateCreated,
		string(entry.Raw),
		entry.QueriedAt,
		now,
	)
	if err != nil {
		err := fmt.Errorf("failed to upsert user_details entry: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID":    strconv.FormatInt(details.UserID, 10),
			"queriedAt": details.QueriedAt.Format(time.RFC3339),
		})
		return err
	}

	_, err = txx.ExecContext(
		ctx,
		`INSERT INTO token_users
		(token_fingerprint, user_id, last_seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_fingerprint)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			last_seen_at = GREATEST(token_users.last_seen_at, EXCLUDED.last_seen_at)`,
		tokenFingerprint,
		entry.UserID,
		now,
	)
	if err != nil {
		err := fmt.Errorf("failed to upsert token_users entry: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID": strconv.FormatInt(details.UserID, 10),
		})
		return err
	}

	err = txx.Commit()
	if err != nil {
		err := fmt.Errorf("failed to commit transaction: %w", err)
		reporting.Report(ctx, err)
		return err
	}

	return nil
}

// GetUserDetailsByToken returns the last details stored for the token with the given fingerprint
func (p *Postgres) GetUserDetailsByToken(ctx context.Context, tokenFingerprint string) (domain.UserDetails, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.GetUserDetailsByToken")
	defer span.End()

	if !strutils.IsTokenFingerprint(tokenFingerprint) {
		err := fmt.Errorf("invalid token fingerprint")
		reporting.Report(ctx, err)
		return domain.UserDetails{}, err
	}

	var entry dbUserDetails
	err := p.db.GetContext(ctx, &entry, fmt.Sprintf(`SELECT
		d.user_id, d.username, d.display_name, d.email, d.email_verified,
		d.primary_blog_id, d.primary_blog_url, d.language, d.avatar_url, d.profile_url,
		d.site_count, d.visible_site_count, d.date_created, d.raw, d.queried_at
		FROM %[1]s.token_users t
		JOIN %[1]s.user_details d ON d.user_id = t.user_id
		WHERE t.token_fingerprint = $1`,
		pq.QuoteIdentifier(p.schema),
	),
		tokenFingerprint,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No entry found
			return domain.UserDetails{}, ErrUserNotFound
		}
		err := fmt.Errorf("failed to select user_details entry: %w", err)
		reporting.Report(ctx, err)
		return domain.UserDetails{}, err
	}

	details, err := entry.toDomain()
	if err != nil {
		reporting.Report(ctx, err, map[string]string{
			"userID": strconv.FormatInt(entry.UserID, 10),
		})
		return domain.UserDetails{}, err
	}

	return details, nil
}
