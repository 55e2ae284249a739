package grantkit

import (
	"time"

	"github.com/google/uuid"

	"github.com/grantkit/grantkit/internal/cursor"
)

// Effect is the stored outcome a grant contributes: allow or deny.
type Effect uint8

const (
	// EffectAllow marks a grant that permits matching requests.
	EffectAllow Effect = iota
	// EffectDeny marks a grant that forbids matching requests. Deny grants
	// are evaluated strictly before allow grants.
	EffectDeny
)

func (e Effect) String() string {
	switch e {
	case EffectAllow:
		return "allow"
	case EffectDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// ParseEffect converts the wire form ("allow"/"deny") back into an Effect.
func ParseEffect(s string) (Effect, error) {
	switch s {
	case "allow":
		return EffectAllow, nil
	case "deny":
		return EffectDeny, nil
	default:
		return 0, ErrGrantInvalid
	}
}

// Grant is an immutable allow/deny rule. Action, Resource, and Principal are
// matcher patterns over colon-segmented namespaces; Condition is an optional
// CEL expression over the request. Grants are validated at construction and
// never re-validated on the evaluation path.
//
// Updates are modeled as delete+recreate so revocation history stays intact.
type Grant struct {
	ID        uuid.UUID `json:"id"`
	Effect    Effect    `json:"effect"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Principal string    `json:"principal"`
	Condition string    `json:"condition,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Request is one authorization question: may Principal perform Action on
// Resource. Context is an arbitrary key/value bag that grant conditions can
// inspect. Requests are ephemeral and never persisted.
type Request struct {
	Principal string
	Action    string
	Resource  string
	Context   map[string]any
}

// Outcome is the tri-state result of an authorization decision.
type Outcome uint8

const (
	// OutcomeAllow means at least one allow grant matched and no deny grant
	// did.
	OutcomeAllow Outcome = iota
	// OutcomeDeny means at least one deny grant matched.
	OutcomeDeny
	// OutcomeImplicitDeny means no grant matched at all. This is the
	// default-closed posture; its evidence list is always empty.
	OutcomeImplicitDeny
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeDeny:
		return "deny"
	case OutcomeImplicitDeny:
		return "implicit_deny"
	default:
		return "unknown"
	}
}

// Allowed reports whether the decision permits the request.
func (o Outcome) Allowed() bool {
	return o == OutcomeAllow
}

// Decision is the result of [Engine.Authorize]. Evidence lists every grant
// that contributed to the outcome, for explainability and offline audit.
// The decision is a pure function of the request and the grant set visible
// at evaluation time.
type Decision struct {
	Outcome  Outcome
	Evidence []Grant
}

// GrantFilter narrows grant listings. A nil Effect means both effects.
// Action and Resource, when non-empty, are concrete values: a grant is
// included when its pattern matches the value (so filter Action
// "read:secret" selects grants whose action pattern covers "read:secret").
type GrantFilter struct {
	Effect   *Effect
	Action   string
	Resource string
}

// Fingerprint canonicalizes the filter for continuation-token binding.
// Backends embed it in tokens so a token replayed against different filters
// is rejected with [ErrTokenInvalid].
func (f GrantFilter) Fingerprint() string {
	effect := "any"
	if f.Effect != nil {
		effect = f.Effect.String()
	}
	return cursor.Fingerprint("grants", effect, f.Action, f.Resource)
}

// GrantPage is one bounded page of a grant listing. NextToken is empty when
// the listing is exhausted; otherwise it resumes the same query after the
// last grant in Grants.
type GrantPage struct {
	Grants    []Grant
	NextToken string
}

// LatchState is the lifecycle state of a latch. Transitions are monotonic
// except Claimed reverting to Pending on failure or lease expiry, which is
// what makes partitions retryable after a worker crash.
type LatchState uint8

const (
	// LatchPending means the partition is waiting for a claimant.
	LatchPending LatchState = iota
	// LatchClaimed means a worker holds an unexpired lease on the
	// partition.
	LatchClaimed
	// LatchDone means the partition was processed to completion.
	LatchDone
)

func (s LatchState) String() string {
	switch s {
	case LatchPending:
		return "pending"
	case LatchClaimed:
		return "claimed"
	case LatchDone:
		return "done"
	default:
		return "unknown"
	}
}

// ParseLatchState converts the wire form back into a LatchState.
func ParseLatchState(s string) (LatchState, error) {
	switch s {
	case "pending":
		return LatchPending, nil
	case "claimed":
		return LatchClaimed, nil
	case "done":
		return LatchDone, nil
	default:
		return 0, ErrLatchState
	}
}

// Latch is a claimable, leased unit of partitioned work over the grant
// keyspace. Partition is an opaque descriptor comparable only by the backend
// that issued it. Retry counts every failed or expired attempt; storage
// never imposes a ceiling on it.
type Latch struct {
	ID        uuid.UUID
	Partition string
	State     LatchState
	Owner     string
	Expiry    time.Time
	Retry     int
	CreatedAt time.Time
}

// Expired reports whether a claimed latch's lease has lapsed at the given
// instant. Expired claims are reclaimable; expiry is recovery, not an error.
func (l Latch) Expired(now time.Time) bool {
	return l.State == LatchClaimed && !l.Expiry.After(now)
}

// LatchFilter narrows latch listings by effective state. Expired claims are
// reported (and filtered) as pending.
type LatchFilter struct {
	State *LatchState
}

// Fingerprint canonicalizes the filter for continuation-token binding.
func (f LatchFilter) Fingerprint() string {
	state := "any"
	if f.State != nil {
		state = f.State.String()
	}
	return cursor.Fingerprint("latches", state)
}

// LatchPage is one bounded page of a latch listing.
type LatchPage struct {
	Latches   []Latch
	NextToken string
}
