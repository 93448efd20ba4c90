package normalize

import "strings"

// iso2 is the set of 2-letter codes the destination accepts. Not the full
// ISO 3166 list; only markets the feed has actually produced.
var iso2 = map[string]bool{
	"US": true, "CA": true, "MX": true, "GB": true, "IE": true,
	"AU": true, "NZ": true, "DE": true, "FR": true, "ES": true,
	"IT": true, "PT": true, "NL": true, "BE": true, "CH": true,
	"AT": true, "SE": true, "NO": true, "DK": true, "FI": true,
	"PL": true, "BR": true, "AR": true, "CL": true, "CO": true,
	"IN": true, "CN": true, "JP": true, "KR": true, "SG": true,
	"PH": true, "ZA": true, "IL": true, "AE": true, "SA": true,
}

var iso3to2 = map[string]string{
	"USA": "US", "CAN": "CA", "MEX": "MX", "GBR": "GB", "IRL": "IE",
	"AUS": "AU", "NZL": "NZ", "DEU": "DE", "FRA": "FR", "ESP": "ES",
	"ITA": "IT", "PRT": "PT", "NLD": "NL", "BEL": "BE", "CHE": "CH",
	"AUT": "AT", "SWE": "SE", "NOR": "NO", "DNK": "DK", "FIN": "FI",
	"POL": "PL", "BRA": "BR", "ARG": "AR", "CHL": "CL", "COL": "CO",
	"IND": "IN", "CHN": "CN", "JPN": "JP", "KOR": "KR", "SGP": "SG",
	"PHL": "PH", "ZAF": "ZA", "ISR": "IL", "ARE": "AE", "SAU": "SA",
}

var countryAliases = map[string]string{
	"united states":            "US",
	"united states of america": "US",
	"america":                  "US",
	"estados unidos":           "US",
	"canada":                   "CA",
	"mexico":                   "MX",
	"united kingdom":           "GB",
	"great britain":            "GB",
	"britain":                  "GB",
	"england":                  "GB",
	"scotland":                 "GB",
	"wales":                    "GB",
	"uk":                       "GB",
	"ireland":                  "IE",
	"australia":                "AU",
	"new zealand":              "NZ",
	"germany":                  "DE",
	"deutschland":              "DE",
	"france":                   "FR",
	"spain":                    "ES",
	"italy":                    "IT",
	"portugal":                 "PT",
	"netherlands":              "NL",
	"holland":                  "NL",
	"belgium":                  "BE",
	"switzerland":              "CH",
	"austria":                  "AT",
	"sweden":                   "SE",
	"norway":                   "NO",
	"denmark":                  "DK",
	"finland":                  "FI",
	"poland":                   "PL",
	"brazil":                   "BR",
	"brasil":                   "BR",
	"argentina":                "AR",
	"chile":                    "CL",
	"colombia":                 "CO",
	"india":                    "IN",
	"china":                    "CN",
	"japan":                    "JP",
	"south korea":              "KR",
	"korea":                    "KR",
	"singapore":                "SG",
	"philippines":              "PH",
	"south africa":             "ZA",
	"israel":                   "IL",
	"united arab emirates":     "AE",
	"uae":                      "AE",
	"saudi arabia":             "SA",
}

// CountryLookup lets callers plug an external name resolver between the
// 3-letter table and the static aliases. Nil is fine.
type CountryLookup func(name string) (code string, ok bool)

// Country resolves messy country input to a canonical 2-letter code.
//
// Stages run strictly in this order, cheapest/strictest first:
//  1. already a valid 2-letter code
//  2. 3-letter to 2-letter table
//  3. external lookup, when provided
//  4. static alias table on the whole string
//  5. word-by-word scan over the alias table
//
// Later stages are looser; reordering them would let a sloppy match shadow
// an exact one ("US Virgin Islands" must not resolve via stage 5 before a
// future exact entry can claim it).
func Country(s string, lookup CountryLookup) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}

	if len(trimmed) == 2 {
		up := strings.ToUpper(trimmed)
		if iso2[up] {
			return up, true
		}
	}

	if len(trimmed) == 3 {
		if code, ok := iso3to2[strings.ToUpper(trimmed)]; ok {
			return code, true
		}
	}

	if lookup != nil {
		if code, ok := lookup(trimmed); ok && iso2[strings.ToUpper(code)] {
			return strings.ToUpper(code), true
		}
	}

	k := key(trimmed)
	if code, ok := countryAliases[k]; ok {
		return code, true
	}

	for _, word := range strings.Fields(k) {
		if code, ok := countryAliases[word]; ok {
			return code, true
		}
	}

	return "", false
}
