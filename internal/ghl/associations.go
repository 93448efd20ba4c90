package ghl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const contactObjectKey = "contact"

type associationDef struct {
	ID              string `json:"id"`
	FirstObjectKey  string `json:"firstObjectKey"`
	SecondObjectKey string `json:"secondObjectKey"`
}

// pairKey is order-insensitive: the definition may list (contact, property)
// or (property, contact).
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// associationID resolves the definition id for the contact/property pair,
// memoized per client since the definitions are static account
// configuration.
func (c *Client) associationID(ctx context.Context) (string, error) {
	want := pairKey(contactObjectKey, PropertyObjectKey)

	c.assocMu.Lock()
	if id, ok := c.assocCache[want]; ok {
		c.assocMu.Unlock()
		return id, nil
	}
	c.assocMu.Unlock()

	q := url.Values{"locationId": {c.account.LocationID}}
	body, status, err := c.do(ctx, http.MethodGet, "/associations/", q, nil)
	if err != nil {
		return "", errors.Wrap(err, "list associations")
	}
	if terr := triage(status, body); terr != nil {
		return "", errors.Wrap(terr, "list associations")
	}

	var resp struct {
		Associations []associationDef `json:"associations"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "decode associations")
	}
	for _, def := range resp.Associations {
		if pairKey(def.FirstObjectKey, def.SecondObjectKey) == want {
			c.assocMu.Lock()
			c.assocCache[want] = def.ID
			c.assocMu.Unlock()
			return def.ID, nil
		}
	}
	return "", nil
}

// EnsureAssociation links a destination contact to a destination property.
// Idempotent: a 400 whose message mentions "duplicate" means the relation
// already exists and counts as success. Any other failure is logged and
// swallowed; a missing link never aborts a delivery.
func (c *Client) EnsureAssociation(ctx context.Context, contactID, propertyID string) bool {
	log := c.log.With(zap.String("contactId", contactID), zap.String("propertyId", propertyID))

	defID, err := c.associationID(ctx)
	if err != nil {
		log.Warn("association definition lookup failed", zap.Error(err))
		return false
	}
	if defID == "" {
		log.Warn("no association definition for contact/property pair")
		return false
	}

	payload := map[string]any{
		"locationId":     c.account.LocationID,
		"associationId":  defID,
		"firstRecordId":  contactID,
		"secondRecordId": propertyID,
	}
	body, status, err := c.do(ctx, http.MethodPost, "/associations/relations", nil, payload)
	if err != nil {
		log.Warn("association create failed", zap.Error(err))
		return false
	}
	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "duplicate") {
		return true
	}
	if terr := triage(status, body); terr != nil {
		log.Warn("association create failed", zap.Int("status", status), zap.Error(terr))
		return false
	}
	return true
}
