package services

// StoreErrorPolicy selects what a guard does when its backing store is
// unreachable. Quota and account security fail closed because they
// protect billing and brute-force exposure; the rate limiter and the
// revocation check fail open because they are secondary defenses and
// blocking all traffic on a transient outage is the worse outcome.
type StoreErrorPolicy int

const (
	FailClosed StoreErrorPolicy = iota // deny the action
	FailOpen                           // allow the action, log a warning
)

func (p StoreErrorPolicy) String() string {
	if p == FailOpen {
		return "allow"
	}
	return "deny"
}
