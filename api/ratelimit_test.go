package api

import (
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter() (*verifyRateLimiter, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return newVerifyRateLimiter(3, time.Minute, time.Minute, clk.Now), clk
}

func TestVerifyLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < rl.maxFailures-1; i++ {
		rl.recordFailure("198.51.100.1")
		blocked, _ := rl.check("198.51.100.1")
		assert.False(t, blocked, "should not block before reaching maxFailures")
	}
}

func TestVerifyLimiter_BlocksAfterThreshold(t *testing.T) {
	rl, clk := newTestLimiter()

	for i := 0; i < rl.maxFailures; i++ {
		rl.recordFailure("198.51.100.1")
	}
	blocked, retryAfter := rl.check("198.51.100.1")
	require.True(t, blocked)
	assert.Equal(t, time.Minute, retryAfter)

	clk.Advance(time.Minute)
	blocked, _ = rl.check("198.51.100.1")
	assert.False(t, blocked, "lockout ends after the base duration")
}

func TestVerifyLimiter_ExponentialBackoff(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < rl.maxFailures; i++ {
		rl.recordFailure("198.51.100.1")
	}
	_, first := rl.check("198.51.100.1")

	rl.recordFailure("198.51.100.1")
	_, second := rl.check("198.51.100.1")
	assert.Equal(t, 2*first, second)
}

func TestVerifyLimiter_MaxLockoutCap(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < rl.maxFailures+20; i++ {
		rl.recordFailure("198.51.100.1")
	}
	_, retryAfter := rl.check("198.51.100.1")
	assert.Equal(t, rl.maxLockout, retryAfter)
}

func TestVerifyLimiter_WindowResetsCount(t *testing.T) {
	rl, clk := newTestLimiter()

	for i := 0; i < rl.maxFailures-1; i++ {
		rl.recordFailure("198.51.100.1")
	}
	clk.Advance(2 * time.Minute)
	rl.recordFailure("198.51.100.1")

	blocked, _ := rl.check("198.51.100.1")
	assert.False(t, blocked, "failures outside the window do not count")
}

func TestVerifyLimiter_SuccessClears(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < rl.maxFailures; i++ {
		rl.recordFailure("198.51.100.1")
	}
	rl.recordSuccess("198.51.100.1")

	blocked, _ := rl.check("198.51.100.1")
	assert.False(t, blocked)
}

func TestVerifyLimiter_IsolatesIPs(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < rl.maxFailures; i++ {
		rl.recordFailure("198.51.100.1")
	}
	blocked, _ := rl.check("198.51.100.2")
	assert.False(t, blocked, "rate limit for one IP should not affect another")
}

func TestVerifyLimiter_SweepRemovesExpired(t *testing.T) {
	rl, clk := newTestLimiter()

	rl.recordFailure("198.51.100.1")
	for i := 0; i < rl.maxFailures+2; i++ {
		rl.recordFailure("198.51.100.2")
	}
	clk.Advance(90 * time.Second)
	rl.sweep()

	assert.Equal(t, 1, rl.size(), "locked record survives, stale one is removed")
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "1", retryAfterString(300*time.Millisecond))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}

func TestExtractClientIP(t *testing.T) {
	lan := netip.MustParsePrefix("10.0.0.0/8")
	ula := netip.MustParsePrefix("fd00::/8")
	lb := netip.MustParsePrefix("10.0.0.1/32")

	tests := []struct {
		name    string
		peer    string
		headers http.Header
		trusted []netip.Prefix
		want    string
	}{
		{name: "ipv4 peer", peer: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "ipv6 peer", peer: "[::1]:8080", want: "::1"},
		{name: "unparseable peer", peer: "not-a-hostport", want: ""},
		{
			name: "headers ignored without trusted proxies",
			peer: "10.0.0.1:80",
			headers: http.Header{
				"X-Forwarded-For": {"198.51.100.25"},
				"Forwarded":       {"for=198.51.100.26"},
				"X-Real-Ip":       {"198.51.100.27"},
			},
			want: "10.0.0.1",
		},
		{
			name:    "trusted peer, first valid XFF hop",
			peer:    "10.0.0.5:80",
			headers: http.Header{"X-Forwarded-For": {"unknown, 203.0.113.50, 10.0.0.3"}},
			trusted: []netip.Prefix{lan},
			want:    "203.0.113.50",
		},
		{
			name: "XFF wins over Forwarded and X-Real-IP",
			peer: "10.0.0.1:80",
			headers: http.Header{
				"X-Forwarded-For": {"198.51.100.10"},
				"Forwarded":       {"for=198.51.100.20"},
				"X-Real-Ip":       {"198.51.100.30"},
			},
			trusted: []netip.Prefix{lan},
			want:    "198.51.100.10",
		},
		{
			name: "Forwarded wins over X-Real-IP",
			peer: "10.0.0.1:80",
			headers: http.Header{
				"Forwarded": {"for=198.51.100.20"},
				"X-Real-Ip": {"198.51.100.30"},
			},
			trusted: []netip.Prefix{lan},
			want:    "198.51.100.20",
		},
		{
			name:    "X-Real-IP alone",
			peer:    "10.0.0.1:80",
			headers: http.Header{"X-Real-Ip": {"198.51.100.30"}},
			trusted: []netip.Prefix{lan},
			want:    "198.51.100.30",
		},
		{
			name:    "trusted peer without headers",
			peer:    "10.0.0.1:80",
			trusted: []netip.Prefix{lan},
			want:    "10.0.0.1",
		},
		{
			name: "direct client spoofing internal addresses",
			peer: "203.0.113.99:12345",
			headers: http.Header{
				"X-Forwarded-For": {"10.0.0.1"},
				"Forwarded":       {"for=10.0.0.2"},
			},
			trusted: []netip.Prefix{lan},
			want:    "203.0.113.99",
		},
		{
			name:    "second prefix matches",
			peer:    "172.16.0.1:80",
			headers: http.Header{"X-Forwarded-For": {"198.51.100.25"}},
			trusted: []netip.Prefix{lan, netip.MustParsePrefix("172.16.0.0/12")},
			want:    "198.51.100.25",
		},
		{
			name:    "single trusted load balancer",
			peer:    "10.0.0.1:80",
			headers: http.Header{"X-Forwarded-For": {"198.51.100.25"}},
			trusted: []netip.Prefix{lb},
			want:    "198.51.100.25",
		},
		{
			name:    "neighbour of trusted load balancer",
			peer:    "10.0.0.2:80",
			headers: http.Header{"X-Forwarded-For": {"198.51.100.25"}},
			trusted: []netip.Prefix{lb},
			want:    "10.0.0.2",
		},
		{
			name:    "ipv6 proxy, quoted Forwarded",
			peer:    "[fd00::1]:80",
			headers: http.Header{"Forwarded": {`for="[2001:db8::42]:1234"`}},
			trusted: []netip.Prefix{ula},
			want:    "2001:db8::42",
		},
		{
			name:    "untrusted ipv6 peer",
			peer:    "[2001:db8::99]:80",
			headers: http.Header{"X-Forwarded-For": {"198.51.100.25"}},
			trusted: []netip.Prefix{ula},
			want:    "2001:db8::99",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.peer, Header: tt.headers}
			if r.Header == nil {
				r.Header = http.Header{}
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.trusted))
		})
	}
}

func TestWithTrustedProxies(t *testing.T) {
	opt, err := WithTrustedProxies([]string{"10.0.0.0/8", " 172.16.5.9/12 ", "10.0.0.1", "::1", ""})
	require.NoError(t, err)
	a := &API{}
	opt(a)
	require.Len(t, a.trustedProxies, 4)
	assert.Equal(t, "172.16.0.0/12", a.trustedProxies[1].String(), "prefixes are masked")
	assert.Equal(t, 32, a.trustedProxies[2].Bits())
	assert.Equal(t, 128, a.trustedProxies[3].Bits())

	r := &http.Request{
		RemoteAddr: "10.1.2.3:80",
		Header:     http.Header{"X-Forwarded-For": {"198.51.100.25"}},
	}
	assert.Equal(t, "198.51.100.25", a.extractClientIP(r))

	for _, bad := range [][]string{{"not-a-cidr"}, {"10.0.0.0/8", "garbage"}, {"10.0.0.0/99"}} {
		_, err := WithTrustedProxies(bad)
		assert.Error(t, err, "%v", bad)
	}
}
