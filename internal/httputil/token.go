package httputil

import (
	"net/http"
	"strings"
)

// AccessTokenCookie is the cookie browser clients carry the actor token in.
const AccessTokenCookie = "access_token"

// BearerToken extracts the actor token, checking the Authorization header
// first and falling back to the access token cookie.
func BearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
			return strings.TrimSpace(parts[1]), true
		}
	}

	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
