package domain

// Kind is what the caller must do with the request.
type Kind int

const (
	Continue Kind = iota
	ForceSignOut
	ForceRedirect
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case ForceSignOut:
		return "force_sign_out"
	case ForceRedirect:
		return "force_redirect"
	default:
		return "unknown"
	}
}

// Sign-out reasons.
const (
	ReasonSessionExpired  = "session_expired"
	ReasonMissingClaim    = "missing_claim"
	ReasonUnknownAccount  = "unknown_account"
	ReasonSuperseded      = "superseded"
	ReasonMismatch        = "mismatch"
	ReasonPasswordExpired = "password_expired"
)

// Decision is the guard's verdict for one request.
type Decision struct {
	Kind Kind
	// RedirectPath is set for ForceRedirect.
	RedirectPath string
	Reason       string
}

// Allowed reports Kind == Continue.
func (d Decision) Allowed() bool { return d.Kind == Continue }
