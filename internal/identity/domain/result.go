package domain

import "time"

// Reason is why a flow rejected a request. Reasons are ordinary outcomes, not errors.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonMissingCredentials Reason = "missing_credentials"
	ReasonBotCheckFailed     Reason = "bot_check_failed"
	ReasonUnknownAccount     Reason = "unknown_account"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonLockedOut          Reason = "locked_out"
	ReasonSamePassword       Reason = "same_password"
	ReasonPasswordReused     Reason = "password_reused"
	ReasonMinAgeNotMet       Reason = "min_age_not_met"
	ReasonInvalidResetToken  Reason = "invalid_reset_token"
	ReasonPasswordMismatch   Reason = "password_mismatch"
	ReasonWeakPassword       Reason = "weak_password"
)

// Outcome tags a result as success or failure.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// LoginResult is the outcome of Authenticate.
type LoginResult struct {
	Outcome Outcome
	Reason  Reason
	// AccountID and SessionToken are set on success.
	AccountID    string
	SessionToken string
	// LockoutUntil is set for LockedOut and for the failure that caused the lockout.
	LockoutUntil *time.Time
	// AttemptsRemaining is set for InvalidCredentials.
	AttemptsRemaining int
}

// Succeeded reports Outcome == OutcomeSuccess.
func (r LoginResult) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// ChangeResult is the outcome of ChangePassword.
type ChangeResult struct {
	Outcome Outcome
	Reason  Reason
	// MinutesRemaining is set for MinAgeNotMet and is always >= 1 there.
	MinutesRemaining int
	// Detail is a human-readable explanation for WeakPassword.
	Detail string
}

func (r ChangeResult) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// ResetResult is the outcome of ResetPassword.
type ResetResult struct {
	Outcome Outcome
	Reason  Reason
	Detail  string
}

func (r ResetResult) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// LoginFailure returns a failed LoginResult with reason.
func LoginFailure(reason Reason) LoginResult {
	return LoginResult{Outcome: OutcomeFailure, Reason: reason}
}

// ChangeFailure returns a failed ChangeResult with reason.
func ChangeFailure(reason Reason) ChangeResult {
	return ChangeResult{Outcome: OutcomeFailure, Reason: reason}
}

// ResetFailure returns a failed ResetResult with reason.
func ResetFailure(reason Reason) ResetResult {
	return ResetResult{Outcome: OutcomeFailure, Reason: reason}
}
