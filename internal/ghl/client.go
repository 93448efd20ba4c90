// Package ghl talks to the GoHighLevel REST API for one destination
// account. The API has no upsert, so every write is search-then-create, and
// success-response shapes differ per endpoint, so record ids are probed
// through an ordered extractor list rather than a single struct.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/oakmont/leadpipe/internal/config"
	"github.com/oakmont/leadpipe/internal/ratelimit"
)

// PropertyObjectKey is the custom-object key the property records live
// under in every destination account.
const PropertyObjectKey = "custom_objects.properties"

var (
	// ErrUnauthorized aborts the whole job; the token is bad, nothing else
	// will succeed either.
	ErrUnauthorized = errors.New("ghl: unauthorized")
	// ErrNotFound is internal to the client; search helpers translate it
	// into an empty id instead of surfacing it.
	ErrNotFound = errors.New("ghl: not found")
)

type Client struct {
	account config.Account
	baseURL string
	version string
	http    *http.Client
	limiter *ratelimit.Limiter
	log     *zap.Logger

	assocMu    sync.Mutex
	assocCache map[string]string // objectKey pair -> association definition id
}

func NewClient(account config.Account, baseURL, version string, limiter *ratelimit.Limiter, log *zap.Logger) *Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        64,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		account:    account,
		baseURL:    strings.TrimRight(baseURL, "/"),
		version:    version,
		http:       &http.Client{Timeout: 30 * time.Second, Transport: tr},
		limiter:    limiter,
		log:        log.With(zap.String("account", account.Name)),
		assocCache: make(map[string]string),
	}
}

func (c *Client) Account() config.Account { return c.account }

// do issues one rate-limited request and returns the body and status. A 429
// arms the limiter's global cool-off; the call itself still errors so the
// caller decides what to do.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, int, error) {
	var out []byte
	var status int

	err := c.limiter.Schedule(ctx, func(ctx context.Context) error {
		var rdr io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return errors.Wrap(err, "marshal request")
			}
			rdr = bytes.NewReader(b)
		}

		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rdr)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.account.APIToken)
		req.Header.Set("Version", c.version)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		out, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		status = resp.StatusCode
		if status == http.StatusTooManyRequests {
			c.limiter.On429()
		}
		return err
	})
	return out, status, err
}

// triage maps a response status to the client's error taxonomy: 2xx nil,
// 404 ErrNotFound, 401/403 ErrUnauthorized, anything else a plain error the
// caller usually soft-fails on.
func triage(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.Wrapf(ErrUnauthorized, "http %d", status)
	default:
		return errors.Errorf("http %d: %s", status, truncate(body, 512))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// idExtractors are the known success-response shapes, strictest first. GHL
// returns the new record id flat, under data, under record, nested under
// both, or (for contact endpoints) under contact, depending on endpoint and
// API revision.
var idExtractors = []struct {
	name string
	fn   func(m map[string]any) (string, bool)
}{
	{"flat id", func(m map[string]any) (string, bool) { return str(m["id"]) }},
	{"data.id", func(m map[string]any) (string, bool) { return str(dig(m, "data", "id")) }},
	{"record.id", func(m map[string]any) (string, bool) { return str(dig(m, "record", "id")) }},
	{"data.record.id", func(m map[string]any) (string, bool) { return str(dig(m, "data", "record", "id")) }},
	{"contact.id", func(m map[string]any) (string, bool) { return str(dig(m, "contact", "id")) }},
}

func str(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

func dig(m map[string]any, path ...string) any {
	var cur any = m
	for _, p := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[p]
	}
	return cur
}

// extractID probes the known shapes in order and reports which matched.
func extractID(body []byte) (id, shape string) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return "", ""
	}
	for _, ex := range idExtractors {
		if v, ok := ex.fn(m); ok {
			return v, ex.name
		}
	}
	return "", ""
}

// FindContactByEmailOrPhone runs the duplicate search, email first then
// phone. An empty id with nil error means no existing contact. Soft
// failures (unexpected statuses) are logged and treated as not-found so one
// flaky search never kills a batch.
func (c *Client) FindContactByEmailOrPhone(ctx context.Context, email, phone string) (string, error) {
	for _, probe := range []struct{ param, value string }{
		{"email", email},
		{"number", phone},
	} {
		if probe.value == "" {
			continue
		}
		q := url.Values{"locationId": {c.account.LocationID}, probe.param: {probe.value}}
		body, status, err := c.do(ctx, http.MethodGet, "/contacts/search/duplicate", q, nil)
		if err != nil {
			return "", errors.Wrap(err, "duplicate search")
		}
		switch terr := triage(status, body); {
		case terr == nil:
			if id, _ := extractID(body); id != "" {
				return id, nil
			}
		case errors.Is(terr, ErrNotFound):
			// normal absence, try the next probe
		case errors.Is(terr, ErrUnauthorized):
			return "", terr
		default:
			c.log.Warn("contact duplicate search failed, treating as not found",
				zap.String("param", probe.param), zap.Int("status", status), zap.Error(terr))
		}
	}
	return "", nil
}

// CreateContact posts the normalized contact payload and returns the new
// external id.
func (c *Client) CreateContact(ctx context.Context, payload map[string]any) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/contacts/", nil, payload)
	if err != nil {
		return "", errors.Wrap(err, "create contact")
	}
	if terr := triage(status, body); terr != nil {
		return "", errors.Wrap(terr, "create contact")
	}
	id, shape := extractID(body)
	if id == "" {
		return "", errors.Errorf("create contact: no id in response: %s", truncate(body, 256))
	}
	c.log.Debug("contact created", zap.String("id", id), zap.String("shape", shape))
	return id, nil
}

// FindPropertyByAddress searches the property custom object by full
// address. Same contract as the contact search: empty id means absent.
func (c *Client) FindPropertyByAddress(ctx context.Context, address string) (string, error) {
	q := url.Values{"locationId": {c.account.LocationID}, "query": {address}}
	body, status, err := c.do(ctx, http.MethodGet, "/objects/"+PropertyObjectKey+"/records/search", q, nil)
	if err != nil {
		return "", errors.Wrap(err, "property search")
	}
	switch terr := triage(status, body); {
	case terr == nil:
		id, _ := extractID(body)
		return id, nil
	case errors.Is(terr, ErrNotFound):
		return "", nil
	case errors.Is(terr, ErrUnauthorized):
		return "", terr
	default:
		c.log.Warn("property search failed, treating as not found",
			zap.String("address", address), zap.Int("status", status), zap.Error(terr))
		return "", nil
	}
}

// CreateProperty creates the custom-object record. If the response carries
// no id in any known shape the record still exists on the destination side,
// so the miss is logged and an empty id returned rather than an error.
func (c *Client) CreateProperty(ctx context.Context, payload map[string]any) (string, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/objects/"+PropertyObjectKey+"/records", nil, payload)
	if err != nil {
		return "", errors.Wrap(err, "create property")
	}
	if terr := triage(status, body); terr != nil {
		return "", errors.Wrap(terr, "create property")
	}
	id, shape := extractID(body)
	if id == "" {
		c.log.Warn("property created but response carried no id", zap.String("body", truncate(body, 256)))
		return "", nil
	}
	c.log.Debug("property created", zap.String("id", id), zap.String("shape", shape))
	return id, nil
}
