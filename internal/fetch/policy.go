package fetch

import (
	"math/rand"
	"strings"
	"time"
)

// Policy configures a single Fetch call per §4.1.
type Policy struct {
	// DelayMin/DelayMax bound the pre-attempt jitter sleep.
	DelayMin time.Duration
	DelayMax time.Duration
	// RetryCount is the number of retries after the first attempt.
	RetryCount int
	// Enhanced selects the stealth header bundle and wider jitter profile.
	Enhanced bool
	// ChallengingDomains is a caller-supplied tunable set (per §9's open
	// question: "treat it as a tunable set and surface it in configuration
	// rather than hard-coding").
	ChallengingDomains map[string]struct{}
	// AllowContentType, when non-nil, gates which response content types are
	// accepted; nil means accept anything. Callers pass a predicate so the
	// same Fetcher serves HTML scraping, sitemap XML, and binary documents.
	AllowContentType func(contentType string) bool
}

// DefaultPolicy returns the baseline {delay_range_seconds, retry_count,
// enhanced} from §4.1.
func DefaultPolicy() Policy {
	return Policy{
		DelayMin:   200 * time.Millisecond,
		DelayMax:   800 * time.Millisecond,
		RetryCount: 2,
	}
}

// ApplyDomainHeuristic forces enhanced=true and retry_count>=4 for hosts on
// the challenging-domain tunable set.
func (p Policy) ApplyDomainHeuristic(host string) Policy {
	host = strings.ToLower(host)
	if _, ok := p.ChallengingDomains[host]; ok {
		p.Enhanced = true
		if p.RetryCount < 4 {
			p.RetryCount = 4
		}
	}
	return p
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// enhancedBackoff implements "uniform(3,8) * 1.5^attempt" from §4.1.
func enhancedBackoff(attempt int) time.Duration {
	base := 3*time.Second + time.Duration(rand.Int63n(int64(5*time.Second)))
	factor := 1.0
	for i := 0; i < attempt; i++ {
		factor *= 1.5
	}
	return time.Duration(float64(base) * factor)
}

// challengeBackoff implements "uniform(5,12) * 2^attempt + uniform(0,3)".
func challengeBackoff(attempt int) time.Duration {
	base := 5*time.Second + time.Duration(rand.Int63n(int64(7*time.Second)))
	extra := time.Duration(rand.Int63n(int64(3 * time.Second)))
	mult := int64(1) << uint(attempt)
	return base*time.Duration(mult) + extra
}
