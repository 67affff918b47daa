package lending

import "context"

// GateState is the verification lifecycle of one protected view.
type GateState int

const (
	GatePending GateState = iota
	GateUnauthenticated
	GateAuthenticated
)

// Decision is what a protected view should do once the check resolves.
type Decision int

const (
	// DecisionRender: show the protected content.
	DecisionRender Decision = iota
	// DecisionRedirectLogin: send the user to login, carrying From so
	// they come back after.
	DecisionRedirectLogin
	// DecisionRedirectHome: authenticated but not staff on a
	// staff-only view.
	DecisionRedirectHome
)

// Outcome is a resolved gate check.
type Outcome struct {
	Decision  Decision
	Principal *Principal
	// From is the originally requested location, preserved across the
	// login redirect.
	From string
}

// AccessGate decides whether a protected view renders, redirects to
// login, or blocks on staff gating. There is no cross-view caching of
// the decision: every Check independently re-verifies against the
// server, trading a little latency for correctness when the session
// expired behind the client's back.
type AccessGate struct {
	session *Session
	client  *Client

	state     GateState
	principal *Principal
}

func NewAccessGate(session *Session, client *Client) *AccessGate {
	return &AccessGate{session: session, client: client}
}

// State reports the current verification state. Views render a neutral
// loading indicator while GatePending; protected content must never
// flash before the check resolves.
func (g *AccessGate) State() GateState { return g.state }

// Principal returns the identity from the last successful check.
func (g *AccessGate) Principal() *Principal { return g.principal }

// Check verifies access for one view mount. With no stored token it
// resolves immediately, without a network call. With a token it probes
// the server's idea of the identity; any probe failure, including
// expiry, whose session invalidation the gateway has already done by
// the time the error reaches us, resolves to Unauthenticated.
func (g *AccessGate) Check(ctx context.Context, requireStaff bool, from string) Outcome {
	g.state = GatePending
	g.principal = nil

	if _, ok := g.session.Token(); !ok {
		g.state = GateUnauthenticated
		return Outcome{Decision: DecisionRedirectLogin, From: from}
	}

	principal, err := g.client.CurrentUser(ctx)
	if err != nil {
		g.state = GateUnauthenticated
		return Outcome{Decision: DecisionRedirectLogin, From: from}
	}

	g.state = GateAuthenticated
	g.principal = principal

	if requireStaff && !principal.IsStaff {
		return Outcome{Decision: DecisionRedirectHome, Principal: principal, From: from}
	}
	return Outcome{Decision: DecisionRender, Principal: principal, From: from}
}
