package ratelimiting

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Amund211/wpaccount/internal/strutils"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Consume(key string) bool
}

type tokenBucketRateLimiter struct {
	limiterByKey    *ttlcache.Cache[string, *rate.Limiter]
	refillPerSecond int
	burstSize       int
}

func (rateLimiter *tokenBucketRateLimiter) Consume(key string) bool {
	limiter, _ := rateLimiter.limiterByKey.GetOrSet(key, rate.NewLimiter(rate.Limit(rateLimiter.refillPerSecond), rateLimiter.burstSize))
	return limiter.Value().Allow()
}

type RefillPerSecond int
type BurstSize int

// Returns the limiter and a function stopping its background cleanup
func NewTokenBucketRateLimiter(refillPerSecond RefillPerSecond, burstSize BurstSize) (RateLimiter, func()) {
	limiterTTLCache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](30 * time.Minute),
	)
	go limiterTTLCache.Start()

	return &tokenBucketRateLimiter{
		limiterByKey:    limiterTTLCache,
		refillPerSecond: int(refillPerSecond),
		burstSize:       int(burstSize),
	}, limiterTTLCache.Stop
}

type RequestRateLimiter interface {
	Consume(r *http.Request) bool
	KeyFor(r *http.Request) string
}

type requestBasedRateLimiter struct {
	limiter RateLimiter
	keyFunc func(r *http.Request) string
}

// Requests the key func has no key for are not limited here
func (rateLimiter *requestBasedRateLimiter) Consume(r *http.Request) bool {
	key := rateLimiter.keyFunc(r)
	if key == "" {
		return true
	}
	return rateLimiter.limiter.Consume(key)
}

func (rateLimiter *requestBasedRateLimiter) KeyFor(r *http.Request) string {
	return rateLimiter.keyFunc(r)
}

func NewRequestBasedRateLimiter(limiter RateLimiter, keyFunc func(r *http.Request) string) RequestRateLimiter {
	return &requestBasedRateLimiter{
		limiter: limiter,
		keyFunc: keyFunc,
	}
}

// Key on the client IP. Behind the load balancer the client is the first entry of X-Forwarded-For.
func IPKeyFunc(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		client, _, _ := strings.Cut(forwardedFor, ",")
		return fmt.Sprintf("ip: %s", strings.TrimSpace(client))
	}

	withoutPort := r.RemoteAddr
	if portIndex := strings.LastIndexByte(r.RemoteAddr, ':'); portIndex != -1 && !strings.HasSuffix(r.RemoteAddr, "]") {
		withoutPort = r.RemoteAddr[:portIndex]
	}

	return fmt.Sprintf("ip: %s", withoutPort)
}

// Key on the bearer token, without keeping the token itself in memory.
// Requests without a token get no key.
func TokenKeyFunc(r *http.Request) string {
	token := strutils.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return ""
	}
	return fmt.Sprintf("token: %s", strutils.TokenFingerprint(token))
}
