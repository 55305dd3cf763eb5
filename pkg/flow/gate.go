package flow

import "context"

// Resource is a class of protected area guarded by the Gate.
type Resource int

const (
	AdminArea Resource = iota
	ProtectedAPI
	OTPArea
	OnboardingArea
)

func (r Resource) String() string {
	switch r {
	case AdminArea:
		return "admin"
	case ProtectedAPI:
		return "protected_api"
	case OTPArea:
		return "otp"
	case OnboardingArea:
		return "onboarding"
	default:
		return "unknown"
	}
}

// AdminPolicy decides access to the admin area.
type AdminPolicy func(ctx context.Context, st State) bool

// OpenAdmin allows everyone into the admin area. It is meant for demos only;
// production deployments must install a real policy with WithAdminPolicy.
func OpenAdmin(context.Context, State) bool { return true }

// Gate makes access decisions for protected areas from a session view and
// the live settings.
type Gate struct {
	chain    *Chain
	settings SettingsProvider
	admin    AdminPolicy
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAdminPolicy replaces the admin area policy.
func WithAdminPolicy(p AdminPolicy) GateOption {
	return func(g *Gate) {
		if p != nil {
			g.admin = p
		}
	}
}

func NewGate(chain *Chain, settings SettingsProvider, opts ...GateOption) *Gate {
	g := &Gate{
		chain:    chain,
		settings: settings,
		admin:    OpenAdmin,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allow reports whether s may access r. A nil session is treated as empty.
func (g *Gate) Allow(ctx context.Context, r Resource, s *Session) bool {
	var st State
	if s != nil {
		st = g.chain.State(s)
	}

	switch r {
	case AdminArea:
		return g.admin(ctx, st)
	case ProtectedAPI:
		return !st.Expired &&
			st.HasGrant(GrantFullyAuthenticated) &&
			s != nil && g.chain.fullyAuthenticated(st)
	case OTPArea:
		return g.settings.OTPEnabled() && !st.Expired && st.HasCompleted(StepPassword)
	case OnboardingArea:
		if !g.settings.OnboardingEnabled() || st.Expired {
			return false
		}
		if g.settings.OTPEnabled() {
			return st.HasCompleted(StepOTP)
		}
		return st.HasCompleted(StepPassword)
	default:
		return false
	}
}
