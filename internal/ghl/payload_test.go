package ghl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmont/leadpipe/internal/domain"
)

func s(v string) *string { return &v }

func fieldValue(t *testing.T, fields []map[string]any, key string) (any, bool) {
	t.Helper()
	for _, f := range fields {
		if f["key"] == key {
			return f["field_value"], true
		}
	}
	return nil, false
}

func TestContactPayloadOmitsBlanksAndUnrecognized(t *testing.T) {
	contact := &domain.Contact{
		FirstName: s("Ada"),
		Email:     s("ada@example.com"),
		Phone:     s(""),
		Tags:      s("probate, hot lead"),
	}
	rep := &domain.Property{
		Address:      s("1 Main St"),
		City:         s(""),
		LoanType:     s("not-a-real-loan"),
		FreeClear:    s("yes"),
		PropertyType: s("SFR"),
	}

	out := ContactPayload("loc-1", contact, rep, []string{"Seller", "VIP"})

	assert.Equal(t, "Ada", out["firstName"])
	assert.Equal(t, "ada@example.com", out["email"])
	_, hasPhone := out["phone"]
	assert.False(t, hasPhone, "blank phone must be absent, not null")
	_, hasLast := out["lastName"]
	assert.False(t, hasLast)

	assert.Equal(t, []string{"Seller", "VIP", "probate", "hot lead"}, out["tags"])

	fields, ok := out["customFields"].([]map[string]any)
	require.True(t, ok)

	v, ok := fieldValue(t, fields, "contact.property_address")
	require.True(t, ok)
	assert.Equal(t, "1 Main St", v)

	_, ok = fieldValue(t, fields, "contact.property_city")
	assert.False(t, ok, "blank city must be dropped")
	_, ok = fieldValue(t, fields, "contact.loan_type")
	assert.False(t, ok, "unrecognized loan type must be dropped")

	v, _ = fieldValue(t, fields, "contact.free_clear")
	assert.Equal(t, "TRUE", v)
	v, _ = fieldValue(t, fields, "contact.property_type")
	assert.Equal(t, "Single Family", v)
}

func TestContactPayloadWithoutRepresentativeProperty(t *testing.T) {
	out := ContactPayload("loc-1", &domain.Contact{Email: s("x@y.z")}, nil, nil)
	_, ok := out["customFields"]
	assert.False(t, ok)
	assert.Equal(t, []string{"Seller"}, out["tags"])
}

func TestPropertyPayloadCurrencyWrapping(t *testing.T) {
	price := 250000.0
	p := &domain.Property{
		Address:         s("1 Main St"),
		Price:           &price,
		EstimatedEquity: s("$120,000"),
		LoanBalance:     s("80,500.25"),
		ARV:             s("junk"),
		AskingPrice:     s("199000"),
	}
	out := PropertyPayload("loc-1", p)
	assert.Equal(t, "loc-1", out["locationId"])

	fields := out["properties"].([]map[string]any)

	v, ok := fieldValue(t, fields, "estimated_equity")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"currency": "default", "value": 120000.0}, v)

	v, ok = fieldValue(t, fields, "loan_balance")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"currency": "default", "value": 80500.25}, v)

	_, ok = fieldValue(t, fields, "arv")
	assert.False(t, ok, "non-numeric money field must be dropped")

	v, ok = fieldValue(t, fields, "asking_price")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"currency": "default", "value": 199000.0}, v)

	v, ok = fieldValue(t, fields, "price")
	require.True(t, ok)
	assert.Equal(t, 250000.0, v)
}

func TestContactPayloadPostalValidation(t *testing.T) {
	rep := &domain.Property{PostalCode: s("1234"), Country: s("USA")}
	out := ContactPayload("loc-1", &domain.Contact{}, rep, nil)
	fields, _ := out["customFields"].([]map[string]any)
	_, ok := fieldValue(t, fields, "contact.property_postal_code")
	assert.False(t, ok, "invalid US ZIP must be dropped")

	rep = &domain.Property{PostalCode: s("12345-6789"), Country: s("United States")}
	out = ContactPayload("loc-1", &domain.Contact{}, rep, nil)
	fields = out["customFields"].([]map[string]any)
	v, ok := fieldValue(t, fields, "contact.property_postal_code")
	require.True(t, ok)
	assert.Equal(t, "12345-6789", v)
	v, ok = fieldValue(t, fields, "contact.property_country")
	require.True(t, ok)
	assert.Equal(t, "US", v)
}
