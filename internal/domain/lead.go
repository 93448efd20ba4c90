package domain

import "time"

// Contact is a property owner as ingested. GHLContactID stays nil until the
// first successful push to the primary destination account.
type Contact struct {
	ID           string
	UserID       string
	FirstName    *string
	LastName     *string
	Email        *string
	Phone        *string
	Tags         *string
	GHLContactID *string
	Pushed       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Contact) FullName() string {
	n := ""
	if c.FirstName != nil {
		n = *c.FirstName
	}
	if c.LastName != nil {
		if n != "" {
			n += " "
		}
		n += *c.LastName
	}
	return n
}

// Reachable reports whether the destination will accept the contact at all;
// GHL requires at least one of email or phone.
func (c *Contact) Reachable() bool {
	return (c.Email != nil && *c.Email != "") || (c.Phone != nil && *c.Phone != "")
}

// Property carries the ingested listing as-is: almost everything is a
// nullable string because the nightly feed is free text. The normalize
// package turns these into the destination's vocabulary at push time.
type Property struct {
	ID      string
	UserID  string
	OwnerID *string
	Owner   *Contact

	// Location
	Address    *string
	City       *string
	State      *string
	PostalCode *string
	County     *string
	Country    *string
	Latitude   *string
	Longitude  *string

	// Listing facts
	Price        *float64
	Bedrooms     *string
	Bathrooms    *string
	SquareFeet   *string
	LotSize      *string
	YearBuilt    *string
	Stories      *string
	Units        *string
	PropertyType *string
	ParkingType  *string
	GarageSpaces *string
	Pool         *string
	Basement     *string
	HeatingType  *string
	CoolingType  *string
	RoofType     *string
	Construction *string
	Zoning       *string

	// Valuation / financial
	EstimatedValue   *string
	EstimatedEquity  *string
	EquityPercent    *string
	AskingPrice      *string
	ARV              *string
	LastSaleDate     *string
	LastSaleAmount   *string
	AssessedValue    *string
	AssessedYear     *string
	TaxAmount        *string
	TaxYear          *string
	RentEstimate     *string

	// Loans / liens
	LoanType          *string
	LoanAmount        *string
	LoanBalance       *string
	LoanInterestRate  *string
	LoanRecordingDate *string
	LenderName        *string
	SecondLoanAmount  *string
	FreeClear         *string
	Preforeclosure    *string
	ForeclosureStage  *string
	AuctionDate       *string

	// Ownership metadata
	OwnerOccupied       *string
	OwnershipLengthYrs  *string
	OwnerType           *string
	MailingAddress      *string
	MailingCity         *string
	MailingState        *string
	MailingPostalCode   *string
	AbsenteeOwner       *string
	VacancyStatus       *string

	// Listing/source metadata
	MLSStatus     *string
	MLSNumber     *string
	DaysOnMarket  *string
	LeadSource    *string
	APN           *string
	LegalDesc     *string
	Subdivision   *string
	SchoolDistr   *string
	FloodZone     *string
	HOAFee        *string

	GHLPropertyID *string
	Pushed        bool
	IngestedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FullAddress joins the parts used for the destination's address-based
// duplicate search.
func (p *Property) FullAddress() string {
	out := ""
	for _, part := range []*string{p.Address, p.City, p.State, p.PostalCode} {
		if part == nil || *part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += *part
	}
	return out
}

// UserSettings is the per-user delivery filter, read-only to the engine.
// ZipCodes arrives pre-expanded by the geo collaborator.
type UserSettings struct {
	UserID    string
	ZipCodes  []string
	PriceMin  *float64
	PriceMax  *float64
	PlanLimit int
	UpdatedAt time.Time
}
