package ghl

import (
	"github.com/oakmont/leadpipe/internal/domain"
	"github.com/oakmont/leadpipe/internal/normalize"
)

// Payload builders. The destination rejects explicit nulls in several field
// types, so a field is either present with a real value or absent entirely;
// the fieldSet helpers enforce that. Contact custom fields are sourced from
// ONE representative property (the first in batch order owned by that
// contact), not aggregated across properties. That mirrors how the records
// were always delivered; changing it would silently rewrite existing CRM
// data.

type fieldSet struct {
	fields []map[string]any
}

func (f *fieldSet) add(key string, value any) {
	f.fields = append(f.fields, map[string]any{"key": key, "field_value": value})
}

// raw passes the source string through untouched, skipping blanks.
func (f *fieldSet) raw(key string, v *string) {
	if v != nil && *v != "" {
		f.add(key, *v)
	}
}

// norm maps through a vocabulary normalizer, dropping unrecognized input.
func (f *fieldSet) norm(key string, v *string, fn func(string) (string, bool)) {
	if v == nil {
		return
	}
	if out, ok := fn(*v); ok {
		f.add(key, out)
	}
}

// num parses a numeric source string, dropping non-numeric input.
func (f *fieldSet) num(key string, v *string) {
	if v == nil {
		return
	}
	if n, ok := normalize.Number(*v); ok {
		f.add(key, n)
	}
}

// currency wraps monetary fields the way the destination's monetary field
// type expects them.
func (f *fieldSet) currency(key string, v *string) {
	if v == nil {
		return
	}
	if amount, ok := normalize.Float(*v); ok {
		f.add(key, map[string]any{"currency": "default", "value": amount})
	}
}

// ContactPayload builds the contact create body from the owner plus its
// representative property.
func ContactPayload(locationID string, contact *domain.Contact, rep *domain.Property, existingTags []string) map[string]any {
	out := map[string]any{
		"locationId": locationID,
		"tags":       normalize.MergeTags(existingTags, contactTags(contact)),
	}
	if contact.FirstName != nil && *contact.FirstName != "" {
		out["firstName"] = *contact.FirstName
	}
	if contact.LastName != nil && *contact.LastName != "" {
		out["lastName"] = *contact.LastName
	}
	if contact.Email != nil && *contact.Email != "" {
		out["email"] = *contact.Email
	}
	if contact.Phone != nil && *contact.Phone != "" {
		out["phone"] = *contact.Phone
	}

	var fs fieldSet
	if rep != nil {
		fs.raw("contact.property_address", rep.Address)
		fs.raw("contact.property_city", rep.City)
		fs.raw("contact.property_state", rep.State)
		fs.postal(rep)
		fs.country(rep)
		fs.raw("contact.property_county", rep.County)
		fs.num("contact.bedrooms", rep.Bedrooms)
		fs.raw("contact.bathrooms", rep.Bathrooms)
		fs.num("contact.square_feet", rep.SquareFeet)
		fs.raw("contact.lot_size", rep.LotSize)
		fs.num("contact.year_built", rep.YearBuilt)
		fs.raw("contact.stories", rep.Stories)
		fs.raw("contact.units", rep.Units)
		fs.norm("contact.property_type", rep.PropertyType, normalize.PropertyType)
		fs.norm("contact.parking_type", rep.ParkingType, normalize.ParkingType)
		fs.num("contact.garage_spaces", rep.GarageSpaces)
		fs.norm("contact.pool", rep.Pool, normalize.Pool)
		fs.raw("contact.basement", rep.Basement)
		fs.raw("contact.heating_type", rep.HeatingType)
		fs.raw("contact.cooling_type", rep.CoolingType)
		fs.raw("contact.roof_type", rep.RoofType)
		fs.raw("contact.construction", rep.Construction)
		fs.raw("contact.zoning", rep.Zoning)

		fs.num("contact.estimated_value", rep.EstimatedValue)
		fs.num("contact.estimated_equity", rep.EstimatedEquity)
		fs.num("contact.equity_percent", rep.EquityPercent)
		fs.raw("contact.last_sale_date", rep.LastSaleDate)
		fs.num("contact.last_sale_amount", rep.LastSaleAmount)
		fs.num("contact.assessed_value", rep.AssessedValue)
		fs.num("contact.assessed_year", rep.AssessedYear)
		fs.num("contact.tax_amount", rep.TaxAmount)
		fs.num("contact.tax_year", rep.TaxYear)
		fs.num("contact.rent_estimate", rep.RentEstimate)

		fs.norm("contact.loan_type", rep.LoanType, normalize.LoanType)
		fs.num("contact.loan_amount", rep.LoanAmount)
		fs.num("contact.loan_balance", rep.LoanBalance)
		fs.raw("contact.loan_interest_rate", rep.LoanInterestRate)
		fs.raw("contact.loan_recording_date", rep.LoanRecordingDate)
		fs.raw("contact.lender_name", rep.LenderName)
		fs.num("contact.second_loan_amount", rep.SecondLoanAmount)
		fs.norm("contact.free_clear", rep.FreeClear, normalize.FreeClear)
		fs.norm("contact.preforeclosure", rep.Preforeclosure, normalize.Preforeclosure)
		fs.raw("contact.foreclosure_stage", rep.ForeclosureStage)
		fs.raw("contact.auction_date", rep.AuctionDate)

		fs.norm("contact.owner_occupied", rep.OwnerOccupied, normalize.OwnerOccupied)
		fs.num("contact.ownership_length_years", rep.OwnershipLengthYrs)
		fs.raw("contact.owner_type", rep.OwnerType)
		fs.raw("contact.mailing_address", rep.MailingAddress)
		fs.raw("contact.mailing_city", rep.MailingCity)
		fs.raw("contact.mailing_state", rep.MailingState)
		fs.raw("contact.mailing_postal_code", rep.MailingPostalCode)
		fs.norm("contact.absentee_owner", rep.AbsenteeOwner, normalize.YesNo)
		fs.raw("contact.vacancy_status", rep.VacancyStatus)

		fs.raw("contact.mls_status", rep.MLSStatus)
		fs.raw("contact.mls_number", rep.MLSNumber)
		fs.num("contact.days_on_market", rep.DaysOnMarket)
		fs.norm("contact.lead_source", rep.LeadSource, normalize.LeadSource)
		fs.raw("contact.apn", rep.APN)
		fs.raw("contact.subdivision", rep.Subdivision)
		fs.raw("contact.school_district", rep.SchoolDistr)
		fs.raw("contact.flood_zone", rep.FloodZone)
		fs.num("contact.hoa_fee", rep.HOAFee)
	}
	if len(fs.fields) > 0 {
		out["customFields"] = fs.fields
	}
	return out
}

func contactTags(c *domain.Contact) []string {
	if c.Tags == nil {
		return nil
	}
	return normalize.SplitTags(*c.Tags)
}

// postal emits the property postal code only when it validates for the
// property's country (defaulting to US, the feed's home market).
func (f *fieldSet) postal(p *domain.Property) {
	if p.PostalCode == nil {
		return
	}
	country := "US"
	if p.Country != nil {
		if c, ok := normalize.Country(*p.Country, nil); ok {
			country = c
		}
	}
	if code, ok := normalize.PostalCode(*p.PostalCode, country); ok {
		f.add("contact.property_postal_code", code)
	}
}

func (f *fieldSet) country(p *domain.Property) {
	if p.Country == nil {
		return
	}
	if c, ok := normalize.Country(*p.Country, nil); ok {
		f.add("contact.property_country", c)
	}
}

// PropertyPayload builds the custom-object record body. A different field
// set than the contact payload, and the four money fields the destination
// models as monetary types are currency-wrapped.
func PropertyPayload(locationID string, p *domain.Property) map[string]any {
	var fs fieldSet
	fs.raw("address", p.Address)
	fs.raw("city", p.City)
	fs.raw("state", p.State)
	fs.raw("postal_code", p.PostalCode)
	fs.raw("county", p.County)
	fs.raw("latitude", p.Latitude)
	fs.raw("longitude", p.Longitude)

	if p.Price != nil {
		fs.add("price", *p.Price)
	}
	fs.num("bedrooms", p.Bedrooms)
	fs.raw("bathrooms", p.Bathrooms)
	fs.num("square_feet", p.SquareFeet)
	fs.raw("lot_size", p.LotSize)
	fs.num("year_built", p.YearBuilt)
	fs.norm("property_type", p.PropertyType, normalize.PropertyType)
	fs.norm("parking_type", p.ParkingType, normalize.ParkingType)
	fs.norm("pool", p.Pool, normalize.Pool)

	fs.currency("estimated_equity", p.EstimatedEquity)
	fs.currency("loan_balance", p.LoanBalance)
	fs.currency("arv", p.ARV)
	fs.currency("asking_price", p.AskingPrice)

	fs.num("estimated_value", p.EstimatedValue)
	fs.norm("loan_type", p.LoanType, normalize.LoanType)
	fs.raw("lender_name", p.LenderName)
	fs.norm("free_clear", p.FreeClear, normalize.FreeClear)
	fs.norm("preforeclosure", p.Preforeclosure, normalize.Preforeclosure)
	fs.norm("owner_occupied", p.OwnerOccupied, normalize.OwnerOccupied)
	fs.raw("mls_status", p.MLSStatus)
	fs.num("days_on_market", p.DaysOnMarket)
	fs.norm("lead_source", p.LeadSource, normalize.LeadSource)
	fs.raw("apn", p.APN)
	fs.raw("legal_description", p.LegalDesc)

	return map[string]any{
		"locationId": locationID,
		"properties": fs.fields,
	}
}
