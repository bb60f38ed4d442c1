// Package oauth signs outbound requests with two-legged OAuth 1.0
// (HMAC-SHA1, no user token), the scheme the GeoPin service authenticates
// with. Only header signing is implemented; token acquisition flows are not.
package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Signer adds authentication to a request in place.
type Signer struct {
	key    string
	secret string

	// overridable for deterministic tests
	now   func() time.Time
	nonce func() (string, error)
}

func NewSigner(key, secret string) *Signer {
	return &Signer{
		key:    key,
		secret: secret,
		now:    time.Now,
		nonce:  newNonce,
	}
}

// Sign computes the OAuth signature over the request method, URL and query
// parameters and sets the Authorization header. It fails when credentials
// are missing or the request URL cannot be canonicalized.
func (s *Signer) Sign(req *http.Request) error {
	if s == nil || s.key == "" || s.secret == "" {
		return errors.New("oauth: missing consumer credentials")
	}
	if req == nil || req.URL == nil {
		return errors.New("oauth: nil request")
	}

	nonce, err := s.nonce()
	if err != nil {
		return fmt.Errorf("oauth: generate nonce: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.key,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_version":          "1.0",
	}

	base, err := signatureBase(req, oauthParams)
	if err != nil {
		return err
	}

	mac := hmac.New(sha1.New, []byte(percentEncode(s.secret)+"&"))
	mac.Write([]byte(base))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", authorizationHeader(oauthParams))
	return nil
}

func signatureBase(req *http.Request, oauthParams map[string]string) (string, error) {
	u := req.URL

	// base URL excludes query and fragment
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if scheme == "" || host == "" {
		return "", errors.New("oauth: request URL must be absolute")
	}
	baseURL := scheme + "://" + host + u.EscapedPath()

	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", fmt.Errorf("oauth: parse query: %w", err)
	}

	pairs := make([]string, 0, len(query)+len(oauthParams))
	for k, vs := range query {
		for _, v := range vs {
			pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
		}
	}
	for k, v := range oauthParams {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
	}
	sort.Strings(pairs)

	return strings.ToUpper(req.Method) + "&" +
		percentEncode(baseURL) + "&" +
		percentEncode(strings.Join(pairs, "&")), nil
}

func authorizationHeader(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(percentEncode(k))
		b.WriteString(`="`)
		b.WriteString(percentEncode(params[k]))
		b.WriteString(`"`)
	}
	return b.String()
}

func newNonce() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// percentEncode implements RFC 5849 §3.6 encoding, which is stricter than
// url.QueryEscape (space is %20, tilde is left alone).
func percentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
