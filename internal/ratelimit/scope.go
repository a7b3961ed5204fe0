// Package ratelimit implements the atomic sliding-window rate limiter: one
// hour of one-minute buckets in Redis, summed and incremented in a single
// server-side script, with an in-process fallback for Redis outages.
package ratelimit

import "fmt"

// Scope identifies what a limit applies to. Each scope kind gets its own key
// prefix so an IP, an organization, and an agent never share buckets.
type Scope struct {
	kind string
	key  string
}

// IPScope scopes a limit to a caller IP address.
func IPScope(ip string) Scope {
	return Scope{kind: "ip", key: ip}
}

// OrganizationScope scopes a limit to an organization id.
func OrganizationScope(orgID string) Scope {
	return Scope{kind: "org", key: orgID}
}

// AgentScope scopes a limit to an on-chain agent id.
func AgentScope(agentID int64) Scope {
	return Scope{kind: "agent", key: fmt.Sprintf("%d", agentID)}
}

// KeyPrefix returns the Redis key prefix for this scope.
func (s Scope) KeyPrefix() string {
	return fmt.Sprintf("rl:%s:%s", s.kind, s.key)
}

// String describes the scope for logs.
func (s Scope) String() string {
	return fmt.Sprintf("%s %s", s.kind, s.key)
}

// Cost tiers. Callers map their operation tier to a cost before calling
// Check; the limiter itself treats cost as opaque.
var tierCosts = map[int]int64{0: 1, 1: 2, 2: 5, 3: 10}

// TierCost returns the cost multiplier for a tier, defaulting to 1.
func TierCost(tier int) int64 {
	if cost, ok := tierCosts[tier]; ok {
		return cost
	}
	return 1
}
