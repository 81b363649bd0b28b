package marketplace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const contentTypeMultipart = "multipart/form-data"

var unsignedKeys = map[string]bool{
	"access_token": true,
	"sign":         true,
}

// Sign computes the request signature the open API expects.
// Only the path component of uri participates.
func Sign(uri string, query map[string]string, body []byte, contentType, secret string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if unsignedKeys[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(secret)
	b.WriteString(pathOf(uri))
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(query[k])
	}
	if hasBody(body) && !strings.HasPrefix(strings.ToLower(contentType), contentTypeMultipart) {
		b.Write(body)
	}
	b.WriteString(secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func pathOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func hasBody(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return trimmed != "" && trimmed != "{}" && trimmed != "null"
}
