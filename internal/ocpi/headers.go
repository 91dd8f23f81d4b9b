package ocpi

import "strings"

// HTTP header names used on OCPI and node-to-node calls.
const (
	HeaderAuthorization   = "Authorization"
	HeaderRequestID       = "X-Request-ID"
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderFromCountryCode = "OCPI-from-country-code"
	HeaderFromPartyID     = "OCPI-from-party-id"
	HeaderToCountryCode   = "OCPI-to-country-code"
	HeaderToPartyID       = "OCPI-to-party-id"
	HeaderSignature       = "OCN-Signature"
	HeaderLink            = "Link"
	HeaderTotalCount      = "X-Total-Count"
	HeaderLimit           = "X-Limit"
	HeaderContentType     = "Content-Type"
)

// RelayedHeaders are copied from a downstream response to the caller.
var RelayedHeaders = []string{HeaderLink, HeaderTotalCount, HeaderLimit, HeaderSignature}

// Notary paths of the signed receiver headers.
const (
	PathToCountryCode = "$['headers']['ocpi-to-country-code']"
	PathToPartyID     = "$['headers']['ocpi-to-party-id']"
)

var pathKeyEscaper = strings.NewReplacer(`\`, `\\`, "'", `\'`)

// BodyPath returns the notary path of a top-level body field.
func BodyPath(field string) string {
	return "$['body']['" + pathKeyEscaper.Replace(field) + "']"
}

// TokenFromHeader extracts the credentials token from an Authorization
// header value of the form "Token <token>".
func TokenFromHeader(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 6 && strings.EqualFold(v[:6], "token ") {
		return strings.TrimSpace(v[6:])
	}
	return ""
}
