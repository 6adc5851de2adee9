package handler

const (
	errInternalServer     = "Internal server error"
	errSignInFailed       = "Sign-in link is invalid or expired"
	errInvalidCredentials = "Invalid email or password"
	errUnauthorized       = "Unauthorized"
	errSSODisabled        = "Single sign-on is not configured"
	errFormNotFound       = "Form not found"
	errInvalidEmail       = "A valid email address is required"
)
