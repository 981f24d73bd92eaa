package accountrepository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/Amund211/wpaccount/internal/adapters/database"
	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/domaintest"
	"github.com/Amund211/wpaccount/internal/strutils"
)

func newPostgres(t *testing.T, db *sqlx.DB, schemaSuffix string, nowFunc func() time.Time) *Postgres {
	require.NotEmpty(t, schemaSuffix, "schemaSuffix must not be empty")
	schema := fmt.Sprintf("account_repo_test_%s", schemaSuffix)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db.MustExec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(schema)))

	migrator := database.NewDatabaseMigrator(db, logger)

	err := migrator.Migrate(t.Context(), schema)
	require.NoError(t, err)

	return NewPostgres(db, schema, nowFunc)
}

// Normalize details to what survives a round trip through the database
func roundTripped(t *testing.T, details domain.UserDetails) domain.UserDetails {
	t.Helper()

	rawJSON, err := json.Marshal(details.Raw)
	require.NoError(t, err)
	entry := dbUserDetails{Raw: rawJSON}
	decoded, err := entry.toDomain()
	require.NoError(t, err)

	details.Raw = decoded.Raw
	details.QueriedAt = details.QueriedAt.Truncate(time.Microsecond)
	details.DateCreated = details.DateCreated.Truncate(time.Microsecond)
	return details
}

func requireDetailsEqual(t *testing.T, expected, actual domain.UserDetails) {
	t.Helper()

	expected = roundTripped(t, expected)

	require.True(t, expected.QueriedAt.Equal(actual.QueriedAt), "queriedAt %s != %s", expected.QueriedAt, actual.QueriedAt)
	require.True(t, expected.DateCreated.Equal(actual.DateCreated), "dateCreated %s != %s", expected.DateCreated, actual.DateCreated)
	expected.QueriedAt = time.Time{}
	expected.DateCreated = time.Time{}
	actual.QueriedAt = time.Time{}
	actual.DateCreated = time.Time{}

	require.Equal(t, expected, actual)
}

const meResponseBody = `{
  "ID": 1234,
  "username": "someone",
  "display_name": "Some One",
  "primary_blog": 98765,
  "primary_blog_is_jetpack": false,
  "token_scope": ["global"],
  "social_login_connections": null,
  "meta": {"links": {"self": "https://public-api.wordpress.com/rest/v1.1/me"}}
}`

// Decode a response body the way it is kept in UserDetails.Raw
func rawFromBody(t *testing.T, body string) map[string]any {
	t.Helper()

	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.UseNumber()

	var raw map[string]any
	require.NoError(t, decoder.Decode(&raw))
	return raw
}

func requireJSONEqual(t *testing.T, expected string, actual []byte) {
	t.Helper()

	equal, err := strutils.JSONStringsEqual([]byte(expected), actual)
	require.NoError(t, err)
	require.True(t, equal, "expected %s, got %s", expected, string(actual))
}

type dbSeenEntry struct {
	UserID      int64     `db:"user_id"`
	FirstSeenAt time.Time `db:"first_seen_at"`
	SeenCount   int64     `db:"seen_count"`
}

func getSeenEntry(t *testing.T, p *Postgres, userID int64) dbSeenEntry {
	t.Helper()

	var entry dbSeenEntry
	err := p.db.GetContext(t.Context(), &entry, fmt.Sprintf(
		"SELECT user_id, first_seen_at, seen_count FROM %s.user_details WHERE user_id = $1",
		pq.QuoteIdentifier(p.schema),
	), userID)
	require.NoError(t, err)
	return entry
}

func TestToFromDBUserDetails(t *testing.T) {
	t.Parallel()

	now := time.Now()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		details := domaintest.NewUserDetailsBuilder(42, now).WithEmail("a@example.com").WithPrimaryBlogID(7).Build()
		details.DateCreated = now.Add(-24 * time.Hour)

		entry, err := toDBUserDetails(details)
		require.NoError(t, err)
		require.True(t, entry.DateCreated.Valid)

		back, err := entry.toDomain()
		require.NoError(t, err)
		require.Equal(t, json.Number("42"), back.Raw["ID"])
		require.Equal(t, json.Number("7"), back.Raw["primary_blog"])
		require.Equal(t, "a@example.com", back.Raw["email"])

		back.Raw = details.Raw
		require.Equal(t, details, back)
	})

	t.Run("raw keeps the response body", func(t *testing.T) {
		t.Parallel()

		details := domaintest.NewUserDetailsBuilder(1234, now).Build()
		details.Raw = rawFromBody(t, meResponseBody)

		entry, err := toDBUserDetails(details)
		require.NoError(t, err)
		requireJSONEqual(t, meResponseBody, entry.Raw)

		back, err := entry.toDomain()
		require.NoError(t, err)
		rawJSON, err := json.Marshal(back.Raw)
		require.NoError(t, err)
		requireJSONEqual(t, meResponseBody, rawJSON)
	})

	t.Run("zero date and nil raw", func(t *testing.T) {
		t.Parallel()

		details := domain.UserDetails{UserID: 1, Username: "someone", QueriedAt: now}

		entry, err := toDBUserDetails(details)
		require.NoError(t, err)
		require.False(t, entry.DateCreated.Valid)
		require.Equal(t, []byte(`{}`), entry.Raw)

		back, err := entry.toDomain()
		require.NoError(t, err)
		require.True(t, back.DateCreated.IsZero())
		require.Equal(t, map[string]any{}, back.Raw)
	})
}

func TestPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping db tests in short mode.")
	}
	t.Parallel()

	ctx := t.Context()
	db, err := database.NewPostgresDatabase(database.LOCAL_CONNECTION_STRING)
	require.NoError(t, err)

	now := time.Now()
	nowFunc := func() time.Time { return now }

	t.Run("get missing", func(t *testing.T) {
		t.Parallel()

		p := newPostgres(t, db, "get_missing", nowFunc)

		_, err := p.GetUserDetailsByToken(ctx, strutils.TokenFingerprint(domaintest.NewToken(t)))
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("invalid fingerprint", func(t *testing.T) {
		t.Parallel()

		p := newPostgres(t, db, "invalid_fingerprint", nowFunc)
		token := domaintest.NewToken(t)

		err := p.StoreUserDetails(ctx, token, domaintest.NewUserDetailsBuilder(1, now).Build())
		require.Error(t, err)

		_, err = p.GetUserDetailsByToken(ctx, token)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("invalid details", func(t *testing.T) {
		t.Parallel()

		p := newPostgres(t, db, "invalid_details", nowFunc)
		fingerprint := strutils.TokenFingerprint(domaintest.NewToken(t))

		err := p.StoreUserDetails(ctx, fingerprint, domain.UserDetails{Username: "someone", QueriedAt: now})
		require.Error(t, err)

		err = p.StoreUserDetails(ctx, fingerprint, domain.UserDetails{UserID: 1, QueriedAt: now})
		require.Error(t, err)

		_, err = p.GetUserDetailsByToken(ctx, fingerprint)
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("store and get", func(t *testing.T) {
		t.Parallel()

		p := newPostgres(t, db, "store_and_get", nowFunc)
		fingerprint := strutils.TokenFingerprint(domaintest.NewToken(t))

		details := domaintest.NewUserDetailsBuilder(1234, now.Add(-time.Minute)).
			WithDisplayName("Some One").
			WithEmail("someone@example.com").
			WithPrimaryBlogID(98765).
			Build()
		details.EmailVerified = true
		details.PrimaryBlogURL = "https://someone.wordpress.com"
		details.Language = "nb"
		details.AvatarURL = "https://0.gravatar.com/avatar/x"
		details.ProfileURL = "https://gravatar.com/someone"
		details.SiteCount = 4
		details.VisibleSiteCount = 3
		details.DateCreated = time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)
		details.Raw["meta"] = map[string]any{"links": map[string]any{"self": "https://example.com/me"}}

		err := p.StoreUserDetails(ctx, fingerprint, details)
		require.NoError(t, err)

		stored, err := p.GetUserDetailsByToken(ctx, fingerprint)
		require.NoError(t, err)
		requireDetailsEqual(t, details, stored)

		seen := getSeenEntry(t, p, 1234)
		require.Equal(t, int64(1), seen.SeenCount)
		require.True(t, seen.FirstSeenAt.Equal(now.Truncate(time.Microsecond)))
	})

	t.Run("stored raw matches the response body", func(t *testing.T) {
		t.Parallel()

		p := newPostgres(t, db, "stored_raw", nowFunc)
		fingerprint := strutils.TokenFingerprint(domaintest.NewToken(t))

		details := domaintest.NewUserDetailsBuilder(1234, now).Build()
		details.Raw = rawFromBody(t, meResponseBody)

		err := p.StoreUserDetails(ctx, fingerprint, details)
		require.NoError(t, err)

		var storedRaw []byte
		err = p.db.GetContext(ctx, &storedRaw, fmt.Sprintf(
			"SELECT raw FROM %s.user_details WHERE user_id = $1",
			pq.QuoteIdentifier(p.schema),
		), 1234)
		require.NoError(t, err)
		requireJSONEqual(t, meResponseBody, storedRaw)

		stored, err := p.GetUserDetailsByToken(ctx, fingerprint)
		require.NoError(t, err)
		rawJSON, err := json.Marshal(stored.Raw)
		require.NoError(t, err)
		requireJSONEqual(t, meResponseBody, rawJSON)
	})

	t.Run("newer details overwrite", func(t *testing.T) {
		t.Parallel()

		current := now
		p := newPostgres(t, db, "newer_overwrite", func() time.Time { return current })
		fingerprint := strutils.TokenFingerprint(domaintest.NewToken(t))

		older := domaintest.NewUserDetailsBuilder(1, now).WithDisplayName("Old Name").Build()
		err := p.StoreUserDetails(ctx, fingerprint, older)
		require.NoError(t, err)

		current = now.Add(time.Hour)
		newer := domaintest.NewUserDetailsBuilder(1, now.Add(time.Hour)).WithDisplayName("New Name").Build()
		err = p.StoreUserDetails(ctx, fingerprint, newer)
		require.NoError(t, err)

		stored, err := p.GetUserDetailsByToken(ctx, fingerprint)
		require.NoError(t, err)
		requireDetailsEqual(t, newer, stored)

		seen := getSeenEntry(t, p, 1)
		require.Equal(t, int64(2), seen.SeenCount)
		require.True(t, seen.FirstSeenAt.Equal(now.Truncate(time.Microsecond)))
	})

	t.Run("older details do not overwrite", func(t *testing.T) {
		t.Parallel()

		p := newPostgres(t, db, "older_no_overwrite", nowFunc)
		fingerprint := strutils.TokenFingerprint(domaintest.NewToken(t))

		newer := domaintest.NewUserDetailsBuilder(1, now).WithDisplayName("New Name").Build()
		err := p.StoreUserDetails(ctx, fingerprint, newer)
		require.NoError(t, err)

		older := domaintest.NewUserDetailsBuilder(1, now.Add(-time.Hour)).WithDisplayName("Old Name").Build()
		err = p.StoreUserDetails(ctx, fingerprint, older)
		require.NoError(t, err)

		stored, err := p.GetUserDetailsByToken(ctx, fingerprint)
		require.NoError(t, err)
		requireDetailsEqual(t, newer, stored)

		require.Equal(t, int64(2), getSeenEntry(t, p, 1).SeenCount)
	})

	t.Run("multiple tokens for one user", func(t *testing.T) {
		t.Parallel()

		p := newPostgres(t, db, "multiple_tokens", nowFunc)
		fingerprint1 := strutils.TokenFingerprint(domaintest.NewToken(t))
		fingerprint2 := strutils.TokenFingerprint(domaintest.NewToken(t))

		details1 := domaintest.NewUserDetailsBuilder(1, now.Add(-time.Minute)).Build()
		details2 := domaintest.NewUserDetailsBuilder(1, now).WithEmail("new@example.com").Build()

		require.NoError(t, p.StoreUserDetails(ctx, fingerprint1, details1))
		require.NoError(t, p.StoreUserDetails(ctx, fingerprint2, details2))

		// Both tokens resolve to the latest details for the user
		for _, fingerprint := range []string{fingerprint1, fingerprint2} {
			stored, err := p.GetUserDetailsByToken(ctx, fingerprint)
			require.NoError(t, err)
			requireDetailsEqual(t, details2, stored)
		}
	})

	t.Run("token moves to other user", func(t *testing.T) {
		t.Parallel()

		p := newPostgres(t, db, "token_moves", nowFunc)
		fingerprint := strutils.TokenFingerprint(domaintest.NewToken(t))

		require.NoError(t, p.StoreUserDetails(ctx, fingerprint, domaintest.NewUserDetailsBuilder(1, now).Build()))

		other := domaintest.NewUserDetailsBuilder(2, now).Build()
		require.NoError(t, p.StoreUserDetails(ctx, fingerprint, other))

		stored, err := p.GetUserDetailsByToken(ctx, fingerprint)
		require.NoError(t, err)
		requireDetailsEqual(t, other, stored)
	})

	t.Run("concurrent stores", func(t *testing.T) {
		t.Parallel()

		p := newPostgres(t, db, "concurrent_stores", nowFunc)

		var wg sync.WaitGroup
		fingerprints := make([]string, 10)
		for i := range fingerprints {
			fingerprints[i] = strutils.TokenFingerprint(domaintest.NewToken(t))
		}
		for i, fingerprint := range fingerprints {
			wg.Add(1)
			go func() {
				defer wg.Done()
				details := domaintest.NewUserDetailsBuilder(int64(i%3+1), now.Add(time.Duration(i)*time.Second)).Build()
				// Conflicting upserts may fail with a serialization error, but never corrupt state
				_ = p.StoreUserDetails(ctx, fingerprint, details)
			}()
		}
		wg.Wait()

		for _, fingerprint := range fingerprints {
			stored, err := p.GetUserDetailsByToken(ctx, fingerprint)
			if err != nil {
				require.ErrorIs(t, err, ErrUserNotFound)
				continue
			}
			require.Equal(t, fmt.Sprintf("user%d", stored.UserID), stored.Username)
		}
	})
}
