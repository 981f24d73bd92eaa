package reporting

import (
	"context"
	"maps"
	"strconv"
	"time"

	"github.com/Amund211/wpaccount/internal/strutils"
)

type reportingMetaContextKey struct{}

// Request scoped details attached to every report made with the context
type ReportingMeta struct {
	tags             map[string]string
	extras           map[string]string
	userID           int64
	tokenFingerprint string
	startedAt        time.Time
}

func MetaFromContext(ctx context.Context) ReportingMeta {
	meta, ok := ctx.Value(reportingMetaContextKey{}).(ReportingMeta)
	if !ok {
		return ReportingMeta{
			tags:   make(map[string]string),
			extras: make(map[string]string),
		}
	}
	meta.tags = maps.Clone(meta.tags)
	meta.extras = maps.Clone(meta.extras)
	return meta
}

// Tags for the scope, including the typed fields
func (meta ReportingMeta) scopeTags() map[string]string {
	tags := maps.Clone(meta.tags)
	if meta.tokenFingerprint != "" {
		tags["tokenFingerprint"] = meta.tokenFingerprint
	}
	return tags
}

// Sentry user ID, "" when the user is not known yet
func (meta ReportingMeta) sentryUserID() string {
	if meta.userID <= 0 {
		return ""
	}
	return strconv.FormatInt(meta.userID, 10)
}

func addMetaToContext(ctx context.Context, meta ReportingMeta) context.Context {
	return context.WithValue(ctx, reportingMetaContextKey{}, meta)
}

func setStartedAtInContext(ctx context.Context, startedAt time.Time) context.Context {
	meta := MetaFromContext(ctx)
	meta.startedAt = startedAt

	return addMetaToContext(ctx, meta)
}

func AddExtrasToContext(ctx context.Context, extras map[string]string) context.Context {
	meta := MetaFromContext(ctx)

	for key, value := range extras {
		meta.extras[key] = strutils.RedactToken(value)
	}

	return addMetaToContext(ctx, meta)
}

func AddTagsToContext(ctx context.Context, tags map[string]string) context.Context {
	meta := MetaFromContext(ctx)

	for key, value := range tags {
		meta.tags[key] = value
	}

	return addMetaToContext(ctx, meta)
}

// Attach the WordPress.com user the request resolved to
func SetUserIDInContext(ctx context.Context, userID int64) context.Context {
	meta := MetaFromContext(ctx)
	meta.userID = userID

	return addMetaToContext(ctx, meta)
}

// Attach the token the request is made with. Only a short prefix of the fingerprint is kept.
func SetTokenFingerprintInContext(ctx context.Context, fingerprint string) context.Context {
	meta := MetaFromContext(ctx)
	meta.tokenFingerprint = strutils.ShortTokenFingerprint(fingerprint)

	return addMetaToContext(ctx, meta)
}
