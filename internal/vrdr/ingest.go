// Package vrdr maps between FHIR death-record documents and the flat
// dotted-key contents consumed by the review workflow. Ingest walks a
// document bundle and produces the flat record; export assembles the
// outbound submission message.
package vrdr

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openvital/edrs/internal/codes"
	"github.com/openvital/edrs/internal/platform/fhir"
)

// Extension URLs carried by death-record documents.
const (
	extRace             = "http://hl7.org/fhir/us/core/StructureDefinition/us-core-race"
	extEthnicity        = "http://hl7.org/fhir/us/core/StructureDefinition/us-core-ethnicity"
	extBirthSex         = "http://hl7.org/fhir/us/core/StructureDefinition/us-core-birthsex"
	extBirthPlace       = "http://hl7.org/fhir/StructureDefinition/birthPlace"
	extMothersMaiden    = "http://hl7.org/fhir/StructureDefinition/patient-mothersMaidenName"
	extServedArmed      = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-ServedInArmedForces-extension"
	extPlaceOfDeath     = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-PlaceOfDeath-extension"
	extDisposition      = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-Disposition-extension"
	extEducation        = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-Education-extension"
	extOccupation       = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-Occupation-extension"
	extAddress          = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/shr-core-Address-extension"
	extFacilityName     = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-FacilityName-extension"
	extPlaceOfDeathType = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-PlaceOfDeathType-extension"
	extDispositionType  = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-DispositionType-extension"
	extDispositionFac   = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-DispositionFacility-extension"
	extFuneralFacility  = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-FuneralFacility-extension"
	extJob              = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-Job-extension"
	extIndustry         = "http://nightingaleproject.github.io/fhirDeathRecord/StructureDefinition/sdr-decedent-Industry-extension"
	extCertifierType    = "https://github.com/nightingaleproject/fhir-death-record/StructureDefinition/certifier-type"
)

// maxCauseSlots bounds the cause-of-death run; the certificate form has
// four lines (immediate plus three underlying).
const maxCauseSlots = 4

// fragment is a partial flat record produced by one extraction function.
type fragment map[string]string

// merge folds src into dst. The same key may be produced twice only with an
// identical value (e.g. date of death from both the Patient resource and
// the 81956-5 observation); differing values are a structural inconsistency.
func merge(dst, src fragment) error {
	for k, v := range src {
		if existing, ok := dst[k]; ok && existing != v {
			return fmt.Errorf("conflicting values for %q: %q vs %q", k, existing, v)
		}
		dst[k] = v
	}
	return nil
}

// FromFHIR converts a death-record document bundle into a flat dotted-key
// record. Entries are dispatched by declared resource kind rather than
// position; a bundle without a Patient (decedent) or Practitioner
// (certifier) resource is a structural error.
func FromFHIR(bundle *fhir.Bundle) (map[string]string, error) {
	if bundle == nil {
		return nil, fmt.Errorf("nil bundle")
	}

	var (
		patient      *fhir.Patient
		practitioner *fhir.Practitioner
		conditions   []fhir.Condition
		observations []fhir.Observation
	)
	for i, entry := range bundle.Entry {
		switch fhir.ResourceType(entry.Resource) {
		case "Patient":
			if patient == nil {
				patient = new(fhir.Patient)
				if err := json.Unmarshal(entry.Resource, patient); err != nil {
					return nil, fmt.Errorf("decode Patient at entry %d: %w", i, err)
				}
			}
		case "Practitioner":
			if practitioner == nil {
				practitioner = new(fhir.Practitioner)
				if err := json.Unmarshal(entry.Resource, practitioner); err != nil {
					return nil, fmt.Errorf("decode Practitioner at entry %d: %w", i, err)
				}
			}
		case "Condition":
			var c fhir.Condition
			if err := json.Unmarshal(entry.Resource, &c); err != nil {
				return nil, fmt.Errorf("decode Condition at entry %d: %w", i, err)
			}
			conditions = append(conditions, c)
		case "Observation":
			var o fhir.Observation
			if err := json.Unmarshal(entry.Resource, &o); err != nil {
				return nil, fmt.Errorf("decode Observation at entry %d: %w", i, err)
			}
			observations = append(observations, o)
		}
	}
	if patient == nil {
		return nil, fmt.Errorf("document bundle has no decedent Patient resource")
	}
	if practitioner == nil {
		return nil, fmt.Errorf("document bundle has no certifier Practitioner resource")
	}

	contents := make(fragment)

	frag, err := Decedent(patient)
	if err != nil {
		return nil, fmt.Errorf("decedent: %w", err)
	}
	if err := merge(contents, frag); err != nil {
		return nil, err
	}

	frag = Certifier(practitioner)
	if err := merge(contents, frag); err != nil {
		return nil, err
	}

	// Cause-of-death run: consumed while each condition carries both
	// descriptive text and an onset interval; the first gap ends the run.
	for i, c := range conditions {
		if i >= maxCauseSlots {
			break
		}
		if c.Text == nil || strings.TrimSpace(c.Text.Div) == "" || c.OnsetString == "" {
			break
		}
		if err := merge(contents, causeOfDeath(&c, i)); err != nil {
			return nil, err
		}
	}

	for i := range observations {
		o := &observations[i]
		mapper, ok := observationMappers[o.Code.FirstCoding().Code]
		if !ok {
			// Unknown observation kinds are ignored for forward
			// compatibility with future profiles.
			continue
		}
		frag, err := mapper(o)
		if err != nil {
			return nil, fmt.Errorf("observation %s: %w", o.Code.FirstCoding().Code, err)
		}
		if err := merge(contents, frag); err != nil {
			return nil, err
		}
	}

	return contents, nil
}

// CertifierName returns the certifier's first and last name from a document
// bundle. Used at intake to route ownership to the certifying physician.
func CertifierName(bundle *fhir.Bundle) (first, last string, err error) {
	for _, entry := range bundle.Entry {
		if fhir.ResourceType(entry.Resource) != "Practitioner" {
			continue
		}
		var p fhir.Practitioner
		if err := json.Unmarshal(entry.Resource, &p); err != nil {
			return "", "", fmt.Errorf("decode Practitioner: %w", err)
		}
		frag := Certifier(&p)
		return frag["personCompletingCauseOfDeathName.firstName"],
			frag["personCompletingCauseOfDeathName.lastName"], nil
	}
	return "", "", fmt.Errorf("document bundle has no certifier Practitioner resource")
}

// Decedent extracts the flat decedent fields from the Patient resource.
func Decedent(patient *fhir.Patient) (fragment, error) {
	out := make(fragment)

	extractName(out, patient.Name, "decedentName")
	if patient.BirthDate != "" {
		out["dateOfBirth.dateOfBirth"] = patient.BirthDate
	}
	if patient.DeceasedDateTime != "" {
		date, clock, err := splitDateTime(patient.DeceasedDateTime)
		if err != nil {
			return nil, fmt.Errorf("deceasedDateTime: %w", err)
		}
		out["dateOfDeath.dateOfDeath"] = date
		out["timeOfDeath.timeOfDeath"] = clock
	}
	extractAddress(out, patient.Address, "decedentAddress")

	for _, ext := range patient.Extension {
		switch ext.URL {
		case extRace:
			extractRace(out, &ext)
		case extEthnicity:
			ethnicity := ext.ValueCodeableConcept.FirstCoding().Display
			if ethnicity == "Hispanic or Latino" {
				out["hispanicOrigin.hispanicOrigin"] = "Yes"
				out["hispanicOrigin.specify"] = ethnicity
			} else {
				out["hispanicOrigin.hispanicOrigin"] = "No"
			}
		case extBirthSex:
			switch ext.ValueCode {
			case "M":
				out["sex.sex"] = "Male"
			case "F":
				out["sex.sex"] = "Female"
			case "U":
				out["sex.sex"] = "Unknown"
			}
		case extBirthPlace:
			if ext.ValueAddress != nil {
				setIfPresent(out, "placeOfBirth.city", ext.ValueAddress.City)
				setIfPresent(out, "placeOfBirth.state", ext.ValueAddress.State)
				setIfPresent(out, "placeOfBirth.zip", ext.ValueAddress.PostalCode)
			}
		case extServedArmed:
			if ext.ValueBoolean != nil {
				out["armedForcesService.armedForcesService"] = yesNo(*ext.ValueBoolean)
			}
		case extPlaceOfDeath:
			extractPlaceOfDeath(out, ext.Extension)
		case extDisposition:
			extractDisposition(out, ext.Extension)
		case extEducation:
			setIfPresent(out, "education.education", ext.ValueCodeableConcept.FirstCoding().Code)
		case extOccupation:
			for _, sub := range ext.Extension {
				switch sub.URL {
				case extJob:
					setIfPresent(out, "usualOccupation.usualOccupation", sub.ValueString)
				case extIndustry:
					setIfPresent(out, "kindOfBusiness.kindOfBusiness", sub.ValueString)
				}
			}
		case extMothersMaiden:
			setIfPresent(out, "motherName.lastName", ext.ValueString)
		}
	}

	return out, nil
}

// Certifier extracts the flat certifier fields from the Practitioner
// resource. Qualification data is discarded; it is not consumed downstream.
func Certifier(practitioner *fhir.Practitioner) fragment {
	out := make(fragment)
	extractName(out, practitioner.Name, "personCompletingCauseOfDeathName")
	extractAddress(out, practitioner.Address, "personCompletingCauseOfDeathAddress")
	for _, ext := range practitioner.Extension {
		if ext.URL != extCertifierType || ext.ValueCoding == nil {
			continue
		}
		if display, ok := codes.CertifierType.Lookup(ext.ValueCoding.Code); ok {
			out["certifierType.certifierType"] = display
		}
	}
	return out
}

// causeOfDeath maps one condition of the cause run. Index 0 is the
// immediate cause; later indices are underlying causes.
func causeOfDeath(c *fhir.Condition, index int) fragment {
	out := make(fragment)
	if index == 0 {
		out["cod.immediate"] = c.Text.Div
		out["cod.immediateInt"] = c.OnsetString
		return out
	}
	out[fmt.Sprintf("cod.under%d", index)] = c.Text.Div
	out[fmt.Sprintf("cod.under%dInt", index)] = c.OnsetString
	return out
}

func extractName(out fragment, names []fhir.HumanName, prefix string) {
	if len(names) == 0 {
		return
	}
	name := names[0]
	if len(name.Given) > 0 && name.Given[0] != "" {
		out[prefix+".firstName"] = name.Given[0]
	}
	if len(name.Given) > 1 {
		if middle := strings.TrimSpace(strings.Join(name.Given[1:], " ")); middle != "" {
			out[prefix+".middleName"] = middle
		}
	}
	if name.Family != "" {
		out[prefix+".lastName"] = name.Family
	}
	if len(name.Suffix) > 0 {
		if suffix := strings.TrimSpace(strings.Join(name.Suffix, " ")); suffix != "" {
			out[prefix+".suffix"] = suffix
		}
	}
}

func extractAddress(out fragment, addresses []fhir.Address, prefix string) {
	if len(addresses) == 0 {
		return
	}
	addr := addresses[0]
	if len(addr.Line) > 0 && addr.Line[0] != "" {
		out[prefix+".street"] = addr.Line[0]
	}
	setIfPresent(out, prefix+".city", addr.City)
	setIfPresent(out, prefix+".state", addr.State)
	setIfPresent(out, prefix+".zip", addr.PostalCode)
}

func extractRace(out fragment, ext *fhir.Extension) {
	var displays []string
	if ext.ValueCodeableConcept != nil {
		for _, coding := range ext.ValueCodeableConcept.Coding {
			if display, ok := codes.RaceEthnicity.KeyOf(coding.Code); ok {
				displays = append(displays, display)
			}
		}
	}
	if len(displays) == 0 {
		return
	}
	encoded, err := json.Marshal(displays)
	if err != nil {
		return
	}
	out["race.race.option"] = "Known"
	out["race.race.specify"] = string(encoded)
}

func extractPlaceOfDeath(out fragment, subs []fhir.Extension) {
	for _, sub := range subs {
		switch sub.URL {
		case extAddress:
			if sub.ValueAddress != nil {
				setIfPresent(out, "locationOfDeath.city", sub.ValueAddress.City)
				setIfPresent(out, "locationOfDeath.state", sub.ValueAddress.State)
				setIfPresent(out, "locationOfDeath.zip", sub.ValueAddress.PostalCode)
			}
		case extFacilityName:
			setIfPresent(out, "locationOfDeath.name", sub.ValueString)
		case extPlaceOfDeathType:
			setIfPresent(out, "placeOfDeath.placeOfDeath", sub.ValueCodeableConcept.FirstCoding().Display)
		}
	}
}

func extractDisposition(out fragment, subs []fhir.Extension) {
	for _, sub := range subs {
		switch sub.URL {
		case extDispositionType:
			setIfPresent(out, "methodOfDisposition.methodOfDisposition", sub.ValueCodeableConcept.FirstCoding().Display)
		case extDispositionFac:
			extractFacility(out, sub.Extension, "placeOfDisposition")
		case extFuneralFacility:
			extractFacility(out, sub.Extension, "funeralFacility")
		}
	}
}

func extractFacility(out fragment, subs []fhir.Extension, prefix string) {
	for _, sub := range subs {
		switch sub.URL {
		case extFacilityName:
			setIfPresent(out, prefix+".name", sub.ValueString)
		case extAddress:
			if sub.ValueAddress != nil {
				setIfPresent(out, prefix+".city", sub.ValueAddress.City)
				setIfPresent(out, prefix+".state", sub.ValueAddress.State)
				setIfPresent(out, prefix+".zip", sub.ValueAddress.PostalCode)
			}
		}
	}
}

// setIfPresent stores the trimmed value, omitting blanks entirely.
func setIfPresent(out fragment, key, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		out[key] = trimmed
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// splitDateTime parses a FHIR dateTime and splits it into the fixed
// YYYY-MM-DD date and 24-hour HH:MM time formats used by the flat record.
// A value that parses under none of the accepted layouts is a fatal error
// for the extraction; fields are never silently defaulted.
func splitDateTime(value string) (date, clock string, err error) {
	for _, layout := range dateTimeLayouts {
		t, parseErr := time.Parse(layout, value)
		if parseErr == nil {
			return t.Format("2006-01-02"), t.Format("15:04"), nil
		}
	}
	return "", "", fmt.Errorf("unparseable dateTime %q", value)
}
