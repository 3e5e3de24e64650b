package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/social-api-client/pkg/auth"
)

// URL prefixes of the platform APIs.
const (
	DefaultPrefix = "https://api.twitter.com/1.1/"
	V2Prefix      = "https://api.twitter.com/2/"
	OAuthPrefix   = "https://api.twitter.com/"
	StreamPrefix  = "https://stream.twitter.com/1.1/"
	UploadPrefix  = "https://upload.twitter.com/1.1/"
)

// BodyMode selects how body parameters are transmitted.
type BodyMode int

const (
	// BodyAuto sends a form body when body parameters are present.
	BodyAuto BodyMode = iota
	// BodyForm sends application/x-www-form-urlencoded.
	BodyForm
	// BodyJSON sends application/json. JSON bodies are not part of the OAuth1 signature.
	BodyJSON
	// BodyNone sends no body; body parameters are moved into the query string.
	BodyNone
)

var placeholderPattern = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// RequestSpec is a fully resolved request description. It is immutable once
// built; accessors return copies.
type RequestSpec struct {
	method   string
	template string
	baseURL  string
	query    url.Values
	form     url.Values
	jsonBody []byte
	bodyMode BodyMode
	header   http.Header
}

type requestConfig struct {
	prefix     string
	pathParams map[string]string
	query      map[string]any
	body       map[string]any
	jsonBody   any
	hasJSON    bool
	bodyMode   BodyMode
	jsonKeys   map[string]bool
	header     http.Header
}

// Option configures a RequestSpec under construction.
type Option func(*requestConfig)

// WithPathParams supplies values for ":name" placeholders.
func WithPathParams(params map[string]string) Option {
	return func(c *requestConfig) {
		for k, v := range params {
			c.pathParams[k] = v
		}
	}
}

// WithPathParam supplies one placeholder value.
func WithPathParam(name, value string) Option {
	return func(c *requestConfig) { c.pathParams[name] = value }
}

// WithQuery adds query parameters. See EncodeParams for value encoding.
func WithQuery(params map[string]any) Option {
	return func(c *requestConfig) {
		for k, v := range params {
			c.query[k] = v
		}
	}
}

// WithBody adds body parameters.
func WithBody(params map[string]any) Option {
	return func(c *requestConfig) {
		for k, v := range params {
			c.body[k] = v
		}
	}
}

// WithJSONBody sends v marshalled as the JSON request body.
func WithJSONBody(v any) Option {
	return func(c *requestConfig) {
		c.jsonBody = v
		c.hasJSON = true
		c.bodyMode = BodyJSON
	}
}

// WithBodyMode overrides how body parameters are sent.
func WithBodyMode(mode BodyMode) Option {
	return func(c *requestConfig) { c.bodyMode = mode }
}

// WithJSONKeys marks parameters whose values are JSON encoded instead of
// comma joined.
func WithJSONKeys(keys ...string) Option {
	return func(c *requestConfig) {
		for _, k := range keys {
			c.jsonKeys[k] = true
		}
	}
}

// WithHeader adds an extra request header. An explicit Authorization header
// disables signing for the request.
func WithHeader(key, value string) Option {
	return func(c *requestConfig) { c.header.Add(key, value) }
}

// WithPrefix overrides the URL prefix joined to relative templates.
func WithPrefix(prefix string) Option {
	return func(c *requestConfig) { c.prefix = prefix }
}

// NewRequest builds a RequestSpec. Every ":name" placeholder in urlTemplate
// must be resolved by path parameters, else *InvalidRequestError is returned.
func NewRequest(method, urlTemplate string, opts ...Option) (*RequestSpec, error) {
	cfg := &requestConfig{
		prefix:     DefaultPrefix,
		pathParams: make(map[string]string),
		query:      make(map[string]any),
		body:       make(map[string]any),
		jsonKeys:   make(map[string]bool),
		header:     http.Header{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return nil, &InvalidRequestError{Template: urlTemplate, Reason: "missing HTTP method"}
	}
	if strings.TrimSpace(urlTemplate) == "" {
		return nil, &InvalidRequestError{Template: urlTemplate, Reason: "missing URL template"}
	}

	resolved, err := ResolvePath(urlTemplate, cfg.pathParams)
	if err != nil {
		return nil, err
	}

	fullURL := joinPrefix(cfg.prefix, resolved)
	u, err := url.Parse(fullURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &InvalidRequestError{Template: urlTemplate, Reason: fmt.Sprintf("invalid URL %q", fullURL)}
	}

	query, err := EncodeParams(cfg.query, cfg.jsonKeys)
	if err != nil {
		return nil, &InvalidRequestError{Template: urlTemplate, Reason: err.Error()}
	}
	// Query parameters written inline in the template are kept.
	for k, vs := range u.Query() {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u.RawQuery = ""
	u.Fragment = ""

	body, err := EncodeParams(cfg.body, cfg.jsonKeys)
	if err != nil {
		return nil, &InvalidRequestError{Template: urlTemplate, Reason: err.Error()}
	}

	spec := &RequestSpec{
		method:   method,
		template: urlTemplate,
		baseURL:  u.String(),
		query:    query,
		header:   cfg.header,
		bodyMode: cfg.bodyMode,
	}

	switch {
	case cfg.hasJSON:
		data, err := json.Marshal(cfg.jsonBody)
		if err != nil {
			return nil, &InvalidRequestError{Template: urlTemplate, Reason: fmt.Sprintf("encode JSON body: %v", err)}
		}
		spec.jsonBody = data
		spec.bodyMode = BodyJSON
	case cfg.bodyMode == BodyJSON:
		data, err := json.Marshal(flatten(body))
		if err != nil {
			return nil, &InvalidRequestError{Template: urlTemplate, Reason: fmt.Sprintf("encode JSON body: %v", err)}
		}
		spec.jsonBody = data
	case cfg.bodyMode == BodyNone || method == http.MethodGet || method == http.MethodDelete:
		for k, vs := range body {
			for _, v := range vs {
				spec.query.Add(k, v)
			}
		}
		spec.bodyMode = BodyNone
	default:
		if len(body) > 0 {
			spec.form = body
			spec.bodyMode = BodyForm
		} else {
			spec.bodyMode = BodyNone
		}
	}

	return spec, nil
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}

// ResolvePath substitutes ":name" placeholders with path-escaped values.
func ResolvePath(template string, params map[string]string) (string, error) {
	var missing []string
	resolved := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1:]
		value, ok := params[name]
		if !ok || value == "" {
			missing = append(missing, name)
			return token
		}
		return url.PathEscape(value)
	})

	if len(missing) > 0 {
		return "", &InvalidRequestError{Template: template, Missing: missing}
	}
	return resolved, nil
}

func joinPrefix(prefix, path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + strings.TrimPrefix(path, "/")
}

// EncodeParams converts parameter values to their wire strings:
// slices are joined with commas unless the key is listed in jsonKeys,
// booleans and numbers are stringified, nil values and nil pointers are
// omitted. Maps and structs are JSON encoded.
func EncodeParams(params map[string]any, jsonKeys map[string]bool) (url.Values, error) {
	values := url.Values{}
	for key, raw := range params {
		if jsonKeys[key] {
			if isNil(raw) {
				continue
			}
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("encode parameter %q: %w", key, err)
			}
			values.Set(key, string(data))
			continue
		}

		str, ok, err := encodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("encode parameter %q: %w", key, err)
		}
		if ok {
			values.Set(key, str)
		}
	}
	return values, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func encodeValue(v any) (string, bool, error) {
	if isNil(v) {
		return "", false, nil
	}

	switch val := v.(type) {
	case string:
		return val, true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	case int:
		return strconv.Itoa(val), true, nil
	case int64:
		return strconv.FormatInt(val, 10), true, nil
	case int32:
		return strconv.FormatInt(int64(val), 10), true, nil
	case uint64:
		return strconv.FormatUint(val, 10), true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true, nil
	case time.Time:
		return val.UTC().Format(time.RFC3339), true, nil
	case []string:
		return strings.Join(val, ","), true, nil
	case fmt.Stringer:
		return val.String(), true, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		return encodeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			s, ok, err := encodeValue(rv.Index(i).Interface())
			if err != nil {
				return "", false, err
			}
			if ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ","), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true, nil
	case reflect.String:
		return rv.String(), true, nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true, nil
	case reflect.Map, reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	}

	return fmt.Sprint(v), true, nil
}

// EncodeValues serializes values with RFC 3986 percent-encoding and sorted
// keys. The same bytes are signed and transmitted.
func EncodeValues(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(auth.PercentEncode(k))
			b.WriteByte('=')
			b.WriteString(auth.PercentEncode(v))
		}
	}
	return b.String()
}

// Method returns the HTTP method.
func (s *RequestSpec) Method() string { return s.method }

// Template returns the unresolved URL template.
func (s *RequestSpec) Template() string { return s.template }

// BaseURL returns the resolved URL without query string.
func (s *RequestSpec) BaseURL() string { return s.baseURL }

// URL returns the resolved URL including the encoded query string.
func (s *RequestSpec) URL() string {
	if q := EncodeValues(s.query); q != "" {
		return s.baseURL + "?" + q
	}
	return s.baseURL
}

// Endpoint identifies the rate limit bucket: method plus template path.
func (s *RequestSpec) Endpoint() string {
	path := s.template
	if idx := strings.Index(path, "://"); idx >= 0 {
		if u, err := url.Parse(path); err == nil {
			path = u.Path
		}
	}
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	return s.method + " " + strings.Trim(path, "/")
}

// Query returns a copy of the query parameters.
func (s *RequestSpec) Query() url.Values { return cloneValues(s.query) }

// Form returns a copy of the form body parameters.
func (s *RequestSpec) Form() url.Values { return cloneValues(s.form) }

// JSONBody returns a copy of the JSON body, or nil.
func (s *RequestSpec) JSONBody() []byte {
	if s.jsonBody == nil {
		return nil
	}
	return append([]byte(nil), s.jsonBody...)
}

// BodyMode returns how the body is transmitted.
func (s *RequestSpec) BodyMode() BodyMode { return s.bodyMode }

// Header returns a copy of the extra headers.
func (s *RequestSpec) Header() http.Header { return s.header.Clone() }

// SignedParams returns the parameters covered by an OAuth1 signature:
// query parameters plus form body parameters.
func (s *RequestSpec) SignedParams() url.Values {
	params := cloneValues(s.query)
	for k, vs := range s.form {
		params[k] = append(params[k], vs...)
	}
	return params
}

// WithQueryOverrides returns a copy of the spec with the given query
// parameters replaced. Empty values remove the parameter.
func (s *RequestSpec) WithQueryOverrides(overrides map[string]string) *RequestSpec {
	cp := *s
	cp.query = cloneValues(s.query)
	for k, v := range overrides {
		if v == "" {
			cp.query.Del(k)
			continue
		}
		cp.query.Set(k, v)
	}
	cp.header = s.header.Clone()
	return &cp
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
