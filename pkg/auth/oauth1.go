package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	oauthVersion         = "1.0"
	oauthSignatureMethod = "HMAC-SHA1"
)

// OAuth1Signer signs requests with OAuth 1.0a HMAC-SHA1.
type OAuth1Signer struct {
	creds Credentials

	// NonceFunc returns a unique value per request. Defaults to a random UUID
	// without hyphens.
	NonceFunc func() string

	// Clock returns the signing time. Defaults to time.Now.
	Clock func() time.Time
}

// NewOAuth1Signer validates the consumer keys and creates a signer.
// Access token and secret must be supplied together or not at all.
func NewOAuth1Signer(creds Credentials) (*OAuth1Signer, error) {
	var missing []string
	if creds.ConsumerKey == "" {
		missing = append(missing, "consumer_key")
	}
	if creds.ConsumerSecret == "" {
		missing = append(missing, "consumer_secret")
	}
	if creds.AccessToken != "" && creds.AccessSecret == "" {
		missing = append(missing, "access_secret")
	}
	if creds.AccessSecret != "" && creds.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return nil, &AuthConfigError{Mode: ModeOAuth1, Missing: missing}
	}

	return &OAuth1Signer{
		creds:     creds,
		NonceFunc: defaultNonce,
		Clock:     time.Now,
	}, nil
}

func defaultNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Mode implements Signer.
func (s *OAuth1Signer) Mode() Mode { return ModeOAuth1 }

// Sign implements Signer. Query parameters embedded in rawURL are signed
// together with params.
func (s *OAuth1Signer) Sign(method, rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_nonce":            s.NonceFunc(),
		"oauth_signature_method": oauthSignatureMethod,
		"oauth_timestamp":        strconv.FormatInt(s.Clock().Unix(), 10),
		"oauth_version":          oauthVersion,
	}
	if s.creds.AccessToken != "" {
		oauthParams["oauth_token"] = s.creds.AccessToken
	}

	all := url.Values{}
	for k, vs := range u.Query() {
		all[k] = append(all[k], vs...)
	}
	for k, vs := range params {
		all[k] = append(all[k], vs...)
	}
	for k, v := range oauthParams {
		all.Set(k, v)
	}

	base := SignatureBase(method, u, all)
	key := PercentEncode(s.creds.ConsumerSecret) + "&" + PercentEncode(s.creds.AccessSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return headerValue(oauthParams), nil
}

// SignatureBase builds METHOD&encodedURL&encodedParams.
func SignatureBase(method string, u *url.URL, params url.Values) string {
	baseURL := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
	return strings.ToUpper(method) + "&" + PercentEncode(baseURL) + "&" + PercentEncode(NormalizeParams(params))
}

// NormalizeParams percent-encodes every pair, sorts by key then value and
// joins them with "&".
func NormalizeParams(params url.Values) string {
	pairs := make([][2]string, 0, len(params))
	for k, vs := range params {
		ek := PercentEncode(k)
		for _, v := range vs {
			pairs = append(pairs, [2]string{ek, PercentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p[0] + "=" + p[1]
	}
	return strings.Join(parts, "&")
}

func headerValue(oauthParams map[string]string) string {
	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf(`%s="%s"`, PercentEncode(k), PercentEncode(oauthParams[k]))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// PercentEncode encodes s per RFC 3986: every byte outside the unreserved
// set A-Z a-z 0-9 - . _ ~ becomes %XX with uppercase hex.
func PercentEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
