package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// SignAt computes the V5 request signature for an explicit timestamp:
// hex-encoded HMAC-SHA256 over timestamp + apiKey + recvWindow + params.
// For GET requests params is the canonical sorted query string, for POST the
// raw JSON body. The explicit timestamp keeps signatures reproducible in
// tests; production callers pass the current unix-milli time.
func SignAt(apiSecret, timestamp, apiKey, recvWindow, params string) string {
	return hmacHex(apiSecret, timestamp+apiKey+recvWindow+params)
}

// WSAuthSignatureAt computes the websocket login signature for an explicit
// expiry: hex-encoded HMAC-SHA256 over "GET/realtime" + expiry millis.
func WSAuthSignatureAt(apiSecret string, expiresMs int64) string {
	return hmacHex(apiSecret, "GET/realtime"+strconv.FormatInt(expiresMs, 10))
}

func hmacHex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery renders params as the sorted k=v&-joined string. The signed
// string and the query sent on the wire must match byte for byte, so the same
// rendering is used for both.
func canonicalQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
