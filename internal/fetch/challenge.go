package fetch

import "strings"

// challengeTokens are the lowercased substrings that classify a 403 body as a
// bot-challenge per §4.1.
var challengeTokens = []string{
	"cloudflare", "just a moment", "checking your browser", "ddos protection",
	"access denied", "blocked", "security check", "captcha", "ray id",
	"cf-ray", "please wait", "verifying", "challenge", "protection",
}

// isChallenge reports whether a 403 response body looks like an anti-bot
// challenge page.
func isChallenge(status int, body []byte) bool {
	if status != 403 {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, tok := range challengeTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// isTerminalStatus reports whether the given status is returned immediately
// to the caller without further retry, per §4.1's terminal classification.
func isTerminalStatus(status int) bool {
	switch status {
	case 200, 404, 301, 302, 307, 308:
		return true
	}
	return false
}
