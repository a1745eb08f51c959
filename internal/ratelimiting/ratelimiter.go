package ratelimiting

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// RateLimiter limits inbound operations per key
type RateLimiter interface {
	Consume(key string) bool
}

type tokenBucketRateLimiter struct {
	limiterByKey *ttlcache.Cache[string, *rate.Limiter]
	refillEvery  time.Duration
	burstSize    int
	nowFunc      func() time.Time
}

func (l *tokenBucketRateLimiter) Consume(key string) bool {
	item, _ := l.limiterByKey.GetOrSet(key, rate.NewLimiter(rate.Every(l.refillEvery), l.burstSize))
	return item.Value().AllowN(l.nowFunc(), 1)
}

// Refill one token every refillEvery, holding at most burstSize tokens
func NewTokenBucketRateLimiter(refillEvery time.Duration, burstSize int, nowFunc func() time.Time) (RateLimiter, func()) {
	limiterTTLCache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](30 * time.Minute),
	)
	go limiterTTLCache.Start()

	return &tokenBucketRateLimiter{
		limiterByKey: limiterTTLCache,
		refillEvery:  refillEvery,
		burstSize:    burstSize,
		nowFunc:      nowFunc,
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

func (l *requestBasedRateLimiter) Consume(r *http.Request) bool {
	return l.limiter.Consume(l.keyFunc(r))
}

func (l *requestBasedRateLimiter) KeyFor(r *http.Request) string {
	return l.keyFunc(r)
}

func NewRequestBasedRateLimiter(limiter RateLimiter, keyFunc func(r *http.Request) string) RequestRateLimiter {
	return &requestBasedRateLimiter{
		limiter: limiter,
		keyFunc: keyFunc,
	}
}

// Key by the client ip. The first X-Forwarded-For entry is set by the load balancer in front of us.
func IPKeyFunc(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		client, _, _ := strings.Cut(forwarded, ",")
		return fmt.Sprintf("ip: %s", strings.TrimSpace(client))
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return fmt.Sprintf("ip: %s", host)
}
