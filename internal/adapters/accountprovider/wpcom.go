package accountprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Amund211/wpaccount/internal/constants"
	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/logging"
	"github.com/Amund211/wpaccount/internal/ratelimiting"
	"github.com/Amund211/wpaccount/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const getUserDetailsMaxOperationTime = 2 * time.Second

const defaultMaxRetries = 2

const retryBackoff = 250 * time.Millisecond

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type wpcomMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupWPComMetrics(meter metric.Meter) (wpcomMetricsCollection, error) {
	requestCount, err := meter.Int64Counter(
		"accountprovider/wpcom/request_count",
		metric.WithDescription("Requests sent to the WordPress.com REST API"),
	)
	if err != nil {
		return wpcomMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	return wpcomMetricsCollection{
		requestCount: requestCount,
	}, nil
}

// WordPressCom reads account details from the WordPress.com REST API
type WordPressCom struct {
	httpClient HttpClient
	baseURL    string
	limiter    ratelimiting.RequestLimiter
	maxRetries int
	nowFunc    func() time.Time
	afterFunc  func(time.Duration) <-chan time.Time

	metrics wpcomMetricsCollection
	tracer  trace.Tracer
}

func NewWordPressCom(
	httpClient HttpClient,
	baseURL string,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) (*WordPressCom, error) {
	const name = "wpaccount/accountprovider/wpcom"

	if baseURL == "" {
		baseURL = constants.DEFAULT_WPCOM_API_BASE_URL
	}

	metrics, err := setupWPComMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &WordPressCom{
		httpClient: httpClient,
		baseURL:    baseURL,
		// The documented limits are per token and generous, this only protects against bursts
		limiter:    ratelimiting.NewWindowLimitRequestLimiter(600, 1*time.Minute, nowFunc, afterFunc),
		maxRetries: defaultMaxRetries,
		nowFunc:    nowFunc,
		afterFunc:  afterFunc,

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}, nil
}

func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrTemporarilyUnavailable) || errors.Is(err, domain.ErrNetwork)
}

// Get the account details of the user owning token
func (w *WordPressCom) GetUserDetails(ctx context.Context, token string) (domain.UserDetails, error) {
	ctx, span := w.tracer.Start(ctx, "WordPressCom.GetUserDetails")
	defer span.End()

	if token == "" {
		return domain.UserDetails{}, domain.ErrMissingToken
	}

	for attempt := 0; ; attempt++ {
		details, extras, err := w.getUserDetailsOnce(ctx, token)
		if err == nil {
			return details, nil
		}

		if errors.Is(err, domain.ErrUnauthorized) {
			// Pass through error but don't report, the token is at fault
			span.SetAttributes(attribute.Bool("unauthorized", true))
			return domain.UserDetails{}, err
		}

		if isRetryable(err) && attempt < w.maxRetries && ctx.Err() == nil {
			backoff := time.Duration(attempt+1) * retryBackoff
			logging.FromContext(ctx).WarnContext(ctx, "Retrying WordPress.com request", "attempt", attempt+1, "backoff", backoff.String(), "error", err.Error())
			select {
			case <-ctx.Done():
			case <-w.afterFunc(backoff):
				continue
			}
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get user details")
		extras["attempts"] = strconv.Itoa(attempt + 1)
		reporting.Report(ctx, err, extras)
		return domain.UserDetails{}, err
	}
}

func (w *WordPressCom) getUserDetailsOnce(ctx context.Context, token string) (domain.UserDetails, map[string]string, error) {
	extras := map[string]string{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/me", nil)
	if err != nil {
		return domain.UserDetails{}, extras, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var statusCode int
	var data []byte
	ran := w.limiter.Limit(ctx, getUserDetailsMaxOperationTime, func(ctx context.Context) {
		ctx, span := w.tracer.Start(ctx, "WordPressCom.httpget")
		defer span.End()

		start := w.nowFunc()
		resp, doErr := w.httpClient.Do(req.WithContext(ctx))
		if doErr != nil {
			err = fmt.Errorf("%w: failed to send request: %w", domain.ErrNetwork, doErr)
			return
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			err = fmt.Errorf("%w: failed to read response body: %w", domain.ErrNetwork, err)
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "wordpress.com request completed", "status", statusCode, "duration", w.nowFunc().Sub(start).String())
	})
	if !ran {
		logging.FromContext(ctx).WarnContext(ctx, "Did not run WordPressCom.GetUserDetails due to rate limiting", "ctx_error", ctx.Err())
		return domain.UserDetails{}, extras, fmt.Errorf("%w: too many requests to wordpress.com API", domain.ErrTemporarilyUnavailable)
	}
	if err != nil {
		return domain.UserDetails{}, extras, err
	}

	w.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status_code", strconv.Itoa(statusCode)),
	))

	details, err := userDetailsFromResponse(ctx, statusCode, data, w.nowFunc())
	if err != nil {
		extras["status"] = strconv.Itoa(statusCode)
		if !errors.Is(err, domain.ErrUnauthorized) {
			// Only the error envelope, as a successful body contains personal data
			extras["error"] = errorCodeFromBody(data)
		}
		return domain.UserDetails{}, extras, fmt.Errorf("failed to get user details from wordpress.com response: %w", err)
	}

	return details, extras, nil
}
