package audit

// Action tags recorded by the login, session and password flows.
const (
	ActionLoginSuccess            = "LoginSuccess"
	ActionLoginFailed             = "LoginFailed"
	ActionLoginMissingRecaptcha   = "LoginFailed-MissingRecaptcha"
	ActionLoginRecaptchaFailed    = "LoginFailed-RecaptchaFailed"
	ActionLoginUnknownUser        = "LoginFailed-UnknownUser"
	ActionLockedOut               = "LockedOut"
	ActionLogout                  = "Logout"
	ActionSessionRejectedPrefix   = "SessionRejected-"
	ActionPasswordExpiredRedirect = "PasswordExpired-Redirect"

	ActionChangePasswordSuccess           = "ChangePasswordSuccess"
	ActionChangePasswordIncorrectPassword = "ChangePasswordFailed-IncorrectPassword"
	ActionChangePasswordReused            = "ChangePasswordFailed-PasswordReused"
	ActionChangePasswordSame              = "ChangePasswordFailed-SamePassword"
	ActionChangePasswordMinAge            = "ChangePasswordFailed-MinAge"
	ActionChangePasswordValidation        = "ChangePasswordFailed-ValidationError"

	ActionPasswordResetRequested        = "PasswordResetRequested"
	ActionPasswordResetRequestedUnknown = "PasswordResetRequested-UnknownUser"
	ActionPasswordResetSuccess          = "PasswordResetSuccess"
	ActionPasswordResetUserNotFound     = "PasswordResetFailed-UserNotFound"
	ActionPasswordResetReused           = "PasswordResetFailed-PasswordReused"
	ActionPasswordResetInvalidToken     = "PasswordResetFailed-InvalidToken"
	ActionPasswordResetValidation       = "PasswordResetFailed-ValidationError"
)
