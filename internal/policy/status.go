package policy

// LoginStatus is the closed classification of a login validation attempt.
// Exactly one value is active per in-flight attempt; it is transient and never
// persisted across restarts.
type LoginStatus string

const (
	// StatusOK means the session passed validation (or validation failed open).
	StatusOK LoginStatus = "OK"
	// StatusNewDevice means the account is logging in from an unknown device.
	StatusNewDevice LoginStatus = "NEW_DEVICE"
	// StatusTooManyDevices means the anti-sharing limit was hit; the user must
	// choose between cancelling and terminating the other sessions.
	StatusTooManyDevices LoginStatus = "TOO_MANY_DEVICES"
	// StatusSuspiciousLocation means the backend flagged the login location.
	StatusSuspiciousLocation LoginStatus = "SUSPICIOUS_LOCATION"
	// StatusOTPRequired means a verification code is required before the
	// session may proceed.
	StatusOTPRequired LoginStatus = "OTP_REQUIRED"
)

// statusFromTag maps an explicit backend status tag to a LoginStatus.
func statusFromTag(tag string) (LoginStatus, bool) {
	switch LoginStatus(tag) {
	case StatusOK, StatusNewDevice, StatusTooManyDevices, StatusSuspiciousLocation, StatusOTPRequired:
		return LoginStatus(tag), true
	}
	return "", false
}

// IsChallenge reports whether the status requires user action before the
// session can proceed.
func (s LoginStatus) IsChallenge() bool {
	return s != StatusOK && s != ""
}
