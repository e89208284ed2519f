package platform

import (
	"time"

	"golang.org/x/time/rate"
)

// The platform enforces different quotas per API plan, so the client
// throttles itself below the lowest documented limit for the configured plan
// rather than relying on 429 handling alone.

type methodLimit struct {
	limit    int
	interval time.Duration
}

type planLimits struct {
	publishReply methodLimit
	mentions     methodLimit
	lookupOne    methodLimit
	lookupMany   methodLimit
}

var apiLimitsByPlan = map[string]planLimits{
	"free": {
		publishReply: methodLimit{limit: 50, interval: 24 * time.Hour},
		mentions:     methodLimit{limit: 1, interval: 15 * time.Minute},
		lookupOne:    methodLimit{limit: 1, interval: 15 * time.Minute},
		lookupMany:   methodLimit{limit: 1, interval: 15 * time.Minute},
	},
	"basic": {
		publishReply: methodLimit{limit: 100, interval: 24 * time.Hour},
		mentions:     methodLimit{limit: 180, interval: 15 * time.Minute},
		lookupOne:    methodLimit{limit: 15, interval: 15 * time.Minute},
		lookupMany:   methodLimit{limit: 15, interval: 15 * time.Minute},
	},
	"pro": {
		publishReply: methodLimit{limit: 100, interval: 15 * time.Minute},
		mentions:     methodLimit{limit: 180, interval: 15 * time.Minute},
		lookupOne:    methodLimit{limit: 450, interval: 15 * time.Minute},
		lookupMany:   methodLimit{limit: 450, interval: 15 * time.Minute},
	},
	"enterprise": {
		publishReply: methodLimit{limit: 1000, interval: 15 * time.Minute},
		mentions:     methodLimit{limit: 1800, interval: 15 * time.Minute},
		lookupOne:    methodLimit{limit: 4500, interval: 15 * time.Minute},
		lookupMany:   methodLimit{limit: 4500, interval: 15 * time.Minute},
	},
}

func limitsForPlan(plan string) planLimits {
	if limits, ok := apiLimitsByPlan[plan]; ok {
		return limits
	}
	return apiLimitsByPlan["basic"]
}

func newLimiter(m methodLimit) *rate.Limiter {
	return rate.NewLimiter(rate.Every(m.interval/time.Duration(m.limit)), 1)
}
