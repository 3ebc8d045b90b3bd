package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/mikeboe/deep-research/pkg/completion"
)

const (
	apiKeysCookie   = "apiKeys"
	providersCookie = "providers"
)

// APIKeysFromCookie reads the URL-escaped JSON object in the apiKeys cookie.
// It returns nil when the cookie is absent or malformed.
func APIKeysFromCookie(r *http.Request) map[string]string {
	var keys map[string]string
	if !decodeCookie(r, apiKeysCookie, &keys) {
		return nil
	}
	return keys
}

// ProviderSettingsFromCookie reads per-provider settings from the providers cookie.
func ProviderSettingsFromCookie(r *http.Request) map[string]completion.ProviderSettings {
	var settings map[string]completion.ProviderSettings
	if !decodeCookie(r, providersCookie, &settings) {
		return nil
	}
	return settings
}

func decodeCookie(r *http.Request, name string, v interface{}) bool {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return false
	}
	raw, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

// mergeCredentials overlays body keys on cookie keys. The result is nil only
// when neither source supplied any map at all.
func mergeCredentials(cookie map[string]string, body *map[string]string) map[string]string {
	if cookie == nil && body == nil {
		return nil
	}
	merged := make(map[string]string, len(cookie))
	for k, v := range cookie {
		merged[k] = v
	}
	if body != nil {
		for k, v := range *body {
			merged[k] = v
		}
	}
	return merged
}
