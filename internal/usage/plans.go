package usage

import (
	"strings"
	"time"
)

// Plan names carried in JWT claims and stored with usage counters.
const (
	PlanGuest = "guest"
	PlanFree  = "free"
	PlanPro   = "pro"
)

// period is the rolling usage window.
const period = 7 * 24 * time.Hour

var planLimits = map[string]int{
	PlanGuest: 3,
	PlanFree:  10,
	PlanPro:   200,
}

// PlanForUser resolves the billing plan for a caller. Guest identities always
// land on the guest plan; authenticated users without a recognized plan claim
// fall back to free.
func PlanForUser(userID, claimPlan string) string {
	if strings.HasPrefix(userID, "guest:") {
		return PlanGuest
	}
	plan := strings.ToLower(strings.TrimSpace(claimPlan))
	if _, ok := planLimits[plan]; ok {
		return plan
	}
	return PlanFree
}

// LimitFor returns the per-window analysis allowance for a plan.
func LimitFor(plan string) int {
	if limit, ok := planLimits[plan]; ok {
		return limit
	}
	return planLimits[PlanFree]
}

func newUsage(plan string, now time.Time) Usage {
	return Usage{
		Plan:     plan,
		Limit:    LimitFor(plan),
		Used:     0,
		ResetsAt: now.Add(period),
	}
}

// reconcile aligns a stored counter with the caller's current plan and rolls
// the window when it has lapsed. The bool reports whether anything changed.
func reconcile(u Usage, plan string, now time.Time) (Usage, bool) {
	changed := false
	if u.Plan != plan {
		u.Plan = plan
		u.Limit = LimitFor(plan)
		changed = true
	}
	if !now.Before(u.ResetsAt) {
		u.Used = 0
		u.ResetsAt = now.Add(period)
		changed = true
	}
	return u, changed
}
