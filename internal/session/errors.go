package session

import "strings"

var friendlyAuthErrors = map[string]string{
	"auth/invalid-email":          "That email address doesn't look right.",
	"auth/user-not-found":         "No account found with that email.",
	"auth/wrong-password":         "Incorrect password. Try again.",
	"auth/invalid-credential":     "Incorrect email or password.",
	"auth/email-already-in-use":   "An account with this email already exists.",
	"auth/weak-password":          "Password should be at least 6 characters.",
	"auth/popup-closed-by-user":   "Sign-in was cancelled before it finished.",
	"auth/network-request-failed": "Network Error. Check your connection.",
	"auth/too-many-requests":      "Too many attempts. Wait a moment and try again.",
	"unavailable":                 "Network Error: Client is offline. Check your internet or ad-blockers.",
}

// FriendlyAuthError maps an auth provider error code to text suitable for a form message.
// Unknown codes fall back to the provider's own message.
func FriendlyAuthError(code, message string) string {
	if text, ok := friendlyAuthErrors[strings.TrimSpace(code)]; ok {
		return text
	}
	if strings.Contains(strings.ToLower(message), "offline") {
		return friendlyAuthErrors["unavailable"]
	}
	if message == "" {
		return "Authentication failed."
	}
	return message
}
