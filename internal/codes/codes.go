// Package codes holds the static vocabulary tables that translate between
// the coded values carried by FHIR death-record documents and the display
// text used internally. Tables are fixed at compile time, shared by
// reference, and never mutated; a vocabulary change is a breaking contract
// change requiring coordinated rollout.
package codes

// Table is a one-directional string mapping. Lookups are case-sensitive
// exact match; a miss returns ("", false), never an error and never a
// substitute value.
type Table map[string]string

// Lookup returns the value mapped to key.
func (t Table) Lookup(key string) (string, bool) {
	v, ok := t[key]
	return v, ok
}

// KeyOf returns the first key whose value equals v. Used on tables keyed by
// display text when the input carries the code.
func (t Table) KeyOf(v string) (string, bool) {
	for k, val := range t {
		if val == v {
			return k, true
		}
	}
	return "", false
}

// RaceEthnicity maps internal display names to CDC race and ethnicity codes.
// Note the reversed keying relative to the other tables: ingest resolves an
// incoming code to its display via KeyOf.
var RaceEthnicity = Table{
	"White":                             "2106-3",
	"Black or African American":         "2054-5",
	"American Indian or Alaskan Native": "1002-5",
	"Asian":                             "2028-5",
	"Asian Indian":                      "2029-7",
	"Chinese":                           "2034-7",
	"Filipino":                          "2036-2",
	"Japanese":                          "2039-6",
	"Korean":                            "2040-4",
	"Vietnamese":                        "2047-9",
	"Native Hawaiian":                   "2079-2",
	"Guamanian":                         "2087-5",
	"Chamorro":                          "2088-3",
	"Samoan":                            "2080-0",
	"Other Pacific Islander":            "2500-7",
}

// MannerOfDeath maps PHIN VADS manner-of-death codes (OID
// 2.16.840.1.114222.4.11.6002) to display text.
var MannerOfDeath = Table{
	"38605008":  "Natural",
	"7878000":   "Accident",
	"44301001":  "Suicide",
	"27935005":  "Homicide",
	"185973002": "Pending Investigation",
	"65037004":  "Could not be determined",
}

// PregnancyStatus maps pregnancy-timing codes (OID
// 2.16.840.1.114222.4.11.6003) to display text. "N/A" deliberately shares
// the PHC1260 display; the distinction is not surfaced to reviewers.
var PregnancyStatus = Table{
	"PHC1260": "Not pregnant within past year",
	"PHC1261": "Pregnant at time of death",
	"PHC1262": "Not pregnant, but pregnant within 42 days of death",
	"PHC1263": "Not pregnant, but pregnant 43 days to 1 year before death",
	"PHC1264": "Unknown if pregnant within the past year",
	"N/A":     "Not pregnant within past year",
}

// TobaccoUse maps tobacco-contribution codes (OID
// 2.16.840.1.114222.4.11.6004) to display text. "UNK" and "NASK" both
// collapse to "Unknown"; "not asked" is not distinguished downstream.
var TobaccoUse = Table{
	"373066001": "Yes",
	"373067005": "No",
	"2931005":   "Probably",
	"UNK":       "Unknown",
	"NASK":      "Unknown",
}

// TransportInjuryRole maps role display text to PHIN VADS codes (OID
// 2.16.840.1.114222.4.11.6005). Direction is display -> code: the stored
// field carries the code.
var TransportInjuryRole = Table{
	"Driver/Operator": "236320001",
	"Passenger":       "257500003",
	"Pedestrian":      "257518000",
	"Other":           "OTH",
}

// CertifierType maps certifier-type codes to display text. An unmapped code
// omits the field entirely; this table is safety-critical and never guesses.
var CertifierType = Table{
	"434651000124107": "Certifying Physician",
	"434641000124105": "Pronouncing and Certifying Physician",
	"440051000124108": "Medical Examiner/Coroner",
}

// MaritalStatus maps single-letter marital status codes to display text.
var MaritalStatus = Table{
	"M": "Married",
	"W": "Widowed",
	"D": "Divorced (but not remarried)",
	"S": "Never married",
	"U": "Unknown",
}
