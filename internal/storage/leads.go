package storage

import (
	"context"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/oakmont/leadpipe/internal/domain"
)

var ErrSettingsNotFound = errors.New("storage: user settings not found")

func (s *Store) GetUserSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	var st domain.UserSettings
	err := s.db.QueryRow(ctx, `select user_id, zip_codes, price_min, price_max, plan_limit, updated_at
from user_settings where user_id = $1`, userID).
		Scan(&st.UserID, &st.ZipCodes, &st.PriceMin, &st.PriceMax, &st.PlanLimit, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListUserIDsWithSettings enumerates delivery candidates for the producer.
func (s *Store) ListUserIDsWithSettings(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `select user_id from user_settings order by user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const propertyColumns = `p.id, p.user_id, p.owner_id,
p.address, p.city, p.state, p.postal_code, p.county, p.country, p.latitude, p.longitude,
p.price, p.bedrooms, p.bathrooms, p.square_feet, p.lot_size, p.year_built, p.stories, p.units,
p.property_type, p.parking_type, p.garage_spaces, p.pool, p.basement, p.heating_type,
p.cooling_type, p.roof_type, p.construction, p.zoning,
p.estimated_value, p.estimated_equity, p.equity_percent, p.asking_price, p.arv,
p.last_sale_date, p.last_sale_amount, p.assessed_value, p.assessed_year, p.tax_amount,
p.tax_year, p.rent_estimate,
p.loan_type, p.loan_amount, p.loan_balance, p.loan_interest_rate, p.loan_recording_date,
p.lender_name, p.second_loan_amount, p.free_clear, p.preforeclosure, p.foreclosure_stage,
p.auction_date,
p.owner_occupied, p.ownership_length_years, p.owner_type, p.mailing_address, p.mailing_city,
p.mailing_state, p.mailing_postal_code, p.absentee_owner, p.vacancy_status,
p.mls_status, p.mls_number, p.days_on_market, p.lead_source, p.apn, p.legal_description,
p.subdivision, p.school_district, p.flood_zone, p.hoa_fee,
p.ghl_property_id, p.pushed, p.ingested_at, p.created_at, p.updated_at`

func scanProperty(rows pgx.Rows) (*domain.Property, error) {
	var p domain.Property
	var c domain.Contact
	var ownerID, ownerFirst, ownerLast, ownerEmail, ownerPhone, ownerTags, ownerGHL *string
	var ownerPushed *bool

	err := rows.Scan(&p.ID, &p.UserID, &p.OwnerID,
		&p.Address, &p.City, &p.State, &p.PostalCode, &p.County, &p.Country, &p.Latitude, &p.Longitude,
		&p.Price, &p.Bedrooms, &p.Bathrooms, &p.SquareFeet, &p.LotSize, &p.YearBuilt, &p.Stories, &p.Units,
		&p.PropertyType, &p.ParkingType, &p.GarageSpaces, &p.Pool, &p.Basement, &p.HeatingType,
		&p.CoolingType, &p.RoofType, &p.Construction, &p.Zoning,
		&p.EstimatedValue, &p.EstimatedEquity, &p.EquityPercent, &p.AskingPrice, &p.ARV,
		&p.LastSaleDate, &p.LastSaleAmount, &p.AssessedValue, &p.AssessedYear, &p.TaxAmount,
		&p.TaxYear, &p.RentEstimate,
		&p.LoanType, &p.LoanAmount, &p.LoanBalance, &p.LoanInterestRate, &p.LoanRecordingDate,
		&p.LenderName, &p.SecondLoanAmount, &p.FreeClear, &p.Preforeclosure, &p.ForeclosureStage,
		&p.AuctionDate,
		&p.OwnerOccupied, &p.OwnershipLengthYrs, &p.OwnerType, &p.MailingAddress, &p.MailingCity,
		&p.MailingState, &p.MailingPostalCode, &p.AbsenteeOwner, &p.VacancyStatus,
		&p.MLSStatus, &p.MLSNumber, &p.DaysOnMarket, &p.LeadSource, &p.APN, &p.LegalDesc,
		&p.Subdivision, &p.SchoolDistr, &p.FloodZone, &p.HOAFee,
		&p.GHLPropertyID, &p.Pushed, &p.IngestedAt, &p.CreatedAt, &p.UpdatedAt,
		&ownerID, &ownerFirst, &ownerLast, &ownerEmail, &ownerPhone, &ownerTags, &ownerGHL, &ownerPushed)
	if err != nil {
		return nil, err
	}
	if ownerID != nil {
		c.ID = *ownerID
		c.UserID = p.UserID
		c.FirstName = ownerFirst
		c.LastName = ownerLast
		c.Email = ownerEmail
		c.Phone = ownerPhone
		c.Tags = ownerTags
		c.GHLContactID = ownerGHL
		if ownerPushed != nil {
			c.Pushed = *ownerPushed
		}
		p.Owner = &c
	}
	return &p, nil
}

// SelectDeliverableProperties returns the oldest unpushed properties inside
// the settings filter, owner joined in. Batched jobs call this with the
// batch size as limit and no offset: rows pushed by earlier batches drop
// out of the predicate, so each batch naturally takes the next slice of
// what remains. Open-ended price bounds default to zero and the max safe
// integer.
func (s *Store) SelectDeliverableProperties(ctx context.Context, userID string, st *domain.UserSettings, limit int) ([]*domain.Property, error) {
	priceMin, priceMax := priceBounds(st)
	if limit <= 0 {
		limit = math.MaxInt32
	}

	rows, err := s.db.Query(ctx, `select `+propertyColumns+`,
c.id, c.first_name, c.last_name, c.email, c.phone, c.tags, c.ghl_contact_id, c.pushed
from properties p
left join contacts c on c.id = p.owner_id
where p.user_id = $1
  and p.pushed = false
  and p.price >= $2 and p.price <= $3
  and p.postal_code = any($4)
order by p.created_at asc, p.id asc
limit $5`,
		userID, priceMin, priceMax, st.ZipCodes, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountDeliverableProperties sizes the producer's batch fan-out.
func (s *Store) CountDeliverableProperties(ctx context.Context, userID string, st *domain.UserSettings) (int, error) {
	priceMin, priceMax := priceBounds(st)
	var n int
	err := s.db.QueryRow(ctx, `select count(*)
from properties p
where p.user_id = $1
  and p.pushed = false
  and p.price >= $2 and p.price <= $3
  and p.postal_code = any($4)`,
		userID, priceMin, priceMax, st.ZipCodes).Scan(&n)
	return n, err
}

func priceBounds(st *domain.UserSettings) (float64, float64) {
	min, max := 0.0, float64(math.MaxInt64)
	if st.PriceMin != nil {
		min = *st.PriceMin
	}
	if st.PriceMax != nil && *st.PriceMax > 0 {
		max = *st.PriceMax
	}
	return min, max
}

// BackfillContactExternalID stores the primary account's contact id and
// flips pushed. Idempotent single-row update.
func (s *Store) BackfillContactExternalID(ctx context.Context, contactID, ghlContactID string) error {
	_, err := s.db.Exec(ctx, `update contacts
set ghl_contact_id = $2, pushed = true, updated_at = now()
where id = $1`, contactID, ghlContactID)
	return err
}

// MarkPropertyPushed stores the primary account's record id and flips
// pushed. Only ever called for the primary account.
func (s *Store) MarkPropertyPushed(ctx context.Context, propertyID, ghlPropertyID string) error {
	_, err := s.db.Exec(ctx, `update properties
set ghl_property_id = $2, pushed = true, updated_at = now()
where id = $1`, propertyID, ghlPropertyID)
	return err
}
