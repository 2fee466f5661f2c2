package billing

// Plan is a pricing tier controlling feature and quantity limits.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
	PlanTeam Plan = "team"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanTeam:
		return true
	}
	return false
}

// Paid reports whether p is purchased through the processor.
func (p Plan) Paid() bool {
	return p == PlanPro || p == PlanTeam
}

// Interval is the billing frequency of a paid plan.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalAnnual  Interval = "annual"
)

// Valid reports whether i is a known interval.
func (i Interval) Valid() bool {
	return i == IntervalMonthly || i == IntervalAnnual
}

// Status is the local subscription state.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusExpired    Status = "expired"
)

// Entitled reports whether the status keeps the user on the subscription's
// plan. PAST_DUE stays entitled: the processor is still retrying payment and
// downgrade happens only once it gives up and deletes the subscription.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// StatusFromProcessor maps a processor-reported status string to the local
// status. The mapping is total: every input yields exactly one local status,
// and values this code has never seen map to EXPIRED rather than being
// silently dropped, so a processor API change can never leave a user
// entitled by accident.
func StatusFromProcessor(raw string) Status {
	switch raw {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	case "incomplete":
		return StatusIncomplete
	case "incomplete_expired", "paused":
		return StatusExpired
	default:
		return StatusExpired
	}
}

// Resource is a countable quota-bound resource kind.
type Resource string

const (
	ResourceStudyPlans     Resource = "study_plans"
	ResourceTasks          Resource = "tasks"
	ResourceFlashcardDecks Resource = "flashcard_decks"
	ResourceTeams          Resource = "teams"
	ResourceAISuggestions  Resource = "ai_suggestions"
)

// Unlimited indicates no limit for a resource (-1 survives round trips
// through BSON and YAML without a dedicated sentinel type).
const Unlimited int64 = -1

// Decision is the outcome of a usage-limit check.
type Decision struct {
	Allowed bool  `json:"allowed"`
	Current int64 `json:"current"`
	Max     int64 `json:"max"`
}

// PaymentStatus is the terminal state of a payment ledger entry.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)
