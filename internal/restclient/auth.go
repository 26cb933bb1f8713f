package restclient

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // required by the control plane's HMAC-SHA1 scheme, not used for anything security-sensitive beyond it
	"encoding/hex"
	"fmt"
	"strings"
)

// signRequest computes the Authorization header value for a single request,
// per spec.md §6.1:
//
//	Authorization: ApiKey <api_key>:<hex(HMAC_SHA1(secret, message))>
//	message = <METHOD_UPPER><path_with_query><body_or_empty_string>
//
// pathWithQuery is the URL's path plus "?query" if present — no scheme or
// host. body is the raw outgoing request body bytes, or nil/empty if the
// request has none.
//
// Verified against spec.md §8 P7: method=PATCH, path="/path/?foo=bar",
// body="data body", apiKey="public", secret="key" yields
// "ApiKey public:2b989ffc81712758d070fb46055b55f18a245d15".
func signRequest(apiKey, secret, method, pathWithQuery string, body []byte) string {
	message := strings.ToUpper(method) + pathWithQuery + string(body)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(message))
	digest := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("ApiKey %s:%s", apiKey, digest)
}
