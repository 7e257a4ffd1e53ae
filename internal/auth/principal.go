// ABOUTME: Principal type returned by successful authentication
// ABOUTME: The only identity shape other components may depend on

package auth

import "github.com/privatellm/pllm-gateway/internal/store"

// Principal is the resolved identity and permission set of an authenticated
// request.
type Principal struct {
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
	RateLimit   int      `json:"rate_limit"`
}

// HasAny reports whether the principal holds at least one of the required
// permissions (OR semantics). An empty requirement always passes.
func (p *Principal) HasAny(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range p.Permissions {
			if have == want {
				return true
			}
		}
	}
	return false
}

// principalFromUser builds a Principal from the live user record, so
// permissions and rate limit always reflect current state, not what a token
// was issued with.
func principalFromUser(u *store.User) *Principal {
	return &Principal{
		Username:    u.Username,
		Permissions: append([]string(nil), u.Permissions...),
		RateLimit:   u.RateLimit,
	}
}
