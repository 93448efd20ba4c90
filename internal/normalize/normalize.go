// Package normalize maps the loosely-formatted strings of the nightly ingest
// feed into the fixed vocabulary the destination CRM accepts. Every function
// is total: unrecognized input yields the zero value and ok=false, never an
// error or a panic. Callers omit not-ok values from outbound payloads.
package normalize

import (
	"strconv"
	"strings"
)

// key lower-cases and collapses internal whitespace so lookup tables match
// "Single  Family", "single family" and "SINGLE FAMILY" alike.
func key(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

var truthy = map[string]bool{
	"yes": true, "y": true, "true": true, "t": true, "1": true,
}

var falsy = map[string]bool{
	"no": true, "n": true, "false": true, "f": true, "0": true,
}

// YesNo is the destination's default boolean vocabulary.
func YesNo(s string) (string, bool) {
	switch k := key(s); {
	case truthy[k]:
		return "Yes", true
	case falsy[k]:
		return "No", true
	}
	return "", false
}

// FreeClear uses the free-and-clear field's own vocabulary. The destination
// defines this field with upper-case values; do not fold it into YesNo.
func FreeClear(s string) (string, bool) {
	switch k := key(s); {
	case truthy[k]:
		return "TRUE", true
	case falsy[k]:
		return "FALSE", true
	}
	return "", false
}

// Preforeclosure uses title-case True/False, again per the destination's
// field definition.
func Preforeclosure(s string) (string, bool) {
	switch k := key(s); {
	case truthy[k]:
		return "True", true
	case falsy[k]:
		return "False", true
	}
	return "", false
}

// Pool and OwnerOccupied share the Yes/No vocabulary but stay separate
// entry points so a destination-side definition change stays a one-line fix.
func Pool(s string) (string, bool)          { return YesNo(s) }
func OwnerOccupied(s string) (string, bool) { return YesNo(s) }

var loanTypes = map[string]string{
	"conventional":          "conventional",
	"conventional with pmi": "conventional",
	"conv":                  "conventional",
	"fha":                   "fha",
	"va":                    "va",
	"usda":                  "usda",
	"adjustable":            "arm",
	"adjustable rate":       "arm",
	"arm":                   "arm",
	"fixed":                 "fixed",
	"fixed rate":            "fixed",
	"private":               "private",
	"private party":         "private",
	"seller financing":      "seller",
	"owner financing":       "seller",
	"heloc":                 "heloc",
	"home equity":           "heloc",
	"reverse":               "reverse",
	"reverse mortgage":      "reverse",
	"hard money":            "hard_money",
	"commercial":            "commercial",
	"jumbo":                 "jumbo",
}

func LoanType(s string) (string, bool) {
	v, ok := loanTypes[key(s)]
	return v, ok
}

var propertyTypes = map[string]string{
	"single family":             "Single Family",
	"single family residence":   "Single Family",
	"single family residential": "Single Family",
	"sfr":                       "Single Family",
	"sfh":                       "Single Family",
	"house":                     "Single Family",
	"condo":                     "Condo",
	"condominium":               "Condo",
	"townhouse":                 "Townhouse",
	"townhome":                  "Townhouse",
	"town house":                "Townhouse",
	"duplex":                    "Multi Family",
	"triplex":                   "Multi Family",
	"fourplex":                  "Multi Family",
	"quadplex":                  "Multi Family",
	"multi family":              "Multi Family",
	"multifamily":               "Multi Family",
	"multi-family":              "Multi Family",
	"apartment":                 "Multi Family",
	"mobile":                    "Mobile Home",
	"mobile home":               "Mobile Home",
	"manufactured":              "Mobile Home",
	"manufactured home":         "Mobile Home",
	"land":                      "Land",
	"vacant land":               "Land",
	"lot":                       "Land",
	"commercial":                "Commercial",
}

func PropertyType(s string) (string, bool) {
	v, ok := propertyTypes[key(s)]
	return v, ok
}

var parkingTypes = map[string]string{
	"garage":          "Garage",
	"attached garage": "Garage - Attached",
	"garage attached": "Garage - Attached",
	"detached garage": "Garage - Detached",
	"garage detached": "Garage - Detached",
	"carport":         "Carport",
	"driveway":        "Driveway",
	"street":          "Street",
	"on street":       "Street",
	"off street":      "Off Street",
	"none":            "None",
	"no parking":      "None",
}

func ParkingType(s string) (string, bool) {
	v, ok := parkingTypes[key(s)]
	return v, ok
}

var leadSources = map[string]string{
	"mls":               "MLS",
	"fsbo":              "FSBO",
	"for sale by owner": "FSBO",
	"auction":           "Auction",
	"preforeclosure":    "Preforeclosure",
	"pre-foreclosure":   "Preforeclosure",
	"probate":           "Probate",
	"tax delinquent":    "Tax Delinquent",
	"tax lien":          "Tax Delinquent",
	"absentee":          "Absentee Owner",
	"absentee owner":    "Absentee Owner",
	"expired":           "Expired Listing",
	"expired listing":   "Expired Listing",
	"wholesaler":        "Wholesaler",
	"referral":          "Referral",
}

func LeadSource(s string) (string, bool) {
	v, ok := leadSources[key(s)]
	return v, ok
}

// Number parses an integer-ish source value, tolerating thousands separators
// and a leading currency sign. Non-numeric input is ok=false, never NaN.
func Number(s string) (int64, bool) {
	f, ok := Float(s)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func Float(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
