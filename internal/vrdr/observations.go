package vrdr

import (
	"fmt"

	"github.com/openvital/edrs/internal/codes"
	"github.com/openvital/edrs/internal/platform/fhir"
)

// LOINC classification codes carried by death-record observations.
const (
	loincDateOfDeath        = "81956-5"
	loincAutopsyAvailable   = "85699-7"
	loincAutopsyPerformed   = "69436-4"
	loincDatePronouncedDead = "80616-6"
	loincInjuryAtWork       = "69444-8"
	loincTransportInjury    = "69448-9"
	loincInjuryDetails      = "11374-6"
	loincMannerOfDeath      = "69449-7"
	loincExaminerContacted  = "74497-9"
	loincPregnancyStatus    = "69442-2"
	loincTobaccoUse         = "69443-0"
)

// observationMappers dispatches on an observation's first coding code.
// Codes outside this set are ignored by the caller.
var observationMappers = map[string]func(*fhir.Observation) (fragment, error){
	loincDateOfDeath:        mapDateOfDeath,
	loincAutopsyAvailable:   boolMapper("autopsyAvailableToCompleteCauseOfDeath.autopsyAvailableToCompleteCauseOfDeath"),
	loincAutopsyPerformed:   boolMapper("autopsyPerformed.autopsyPerformed"),
	loincDatePronouncedDead: mapDatePronouncedDead,
	loincInjuryAtWork:       boolMapper("deathResultedFromInjuryAtWork.deathResultedFromInjuryAtWork"),
	loincTransportInjury:    mapTransportInjury,
	loincInjuryDetails:      mapInjuryDetails,
	loincMannerOfDeath:      codedMapper("mannerOfDeath.mannerOfDeath", codes.MannerOfDeath),
	loincExaminerContacted:  boolMapper("meOrCoronerContacted.meOrCoronerContacted"),
	loincPregnancyStatus:    codedMapper("pregnancyStatus.pregnancyStatus", codes.PregnancyStatus),
	loincTobaccoUse:         codedMapper("didTobaccoUseContributeToDeath.didTobaccoUseContributeToDeath", codes.TobaccoUse),
}

func mapDateOfDeath(o *fhir.Observation) (fragment, error) {
	if o.ValueDateTime == "" {
		return nil, fmt.Errorf("missing valueDateTime")
	}
	date, clock, err := splitDateTime(o.ValueDateTime)
	if err != nil {
		return nil, err
	}
	return fragment{
		"dateOfDeath.dateOfDeath": date,
		"timeOfDeath.timeOfDeath": clock,
	}, nil
}

func mapDatePronouncedDead(o *fhir.Observation) (fragment, error) {
	if o.ValueDateTime == "" {
		return nil, fmt.Errorf("missing valueDateTime")
	}
	date, clock, err := splitDateTime(o.ValueDateTime)
	if err != nil {
		return nil, err
	}
	return fragment{
		"datePronouncedDead.datePronouncedDead": date,
		"timePronouncedDead.timePronouncedDead": clock,
	}, nil
}

func mapInjuryDetails(o *fhir.Observation) (fragment, error) {
	if o.ValueString == "" {
		return nil, fmt.Errorf("missing valueString")
	}
	return fragment{"detailsOfInjury.detailsOfInjury": o.ValueString}, nil
}

// mapTransportInjury stores the external role code. Incoming documents may
// carry either the display text or the code itself; both resolve through
// the role table, and an unrecognized coding omits the field.
func mapTransportInjury(o *fhir.Observation) (fragment, error) {
	if o.ValueCodeableConcept == nil {
		return nil, fmt.Errorf("missing valueCodeableConcept")
	}
	coding := o.ValueCodeableConcept.FirstCoding()
	if code, ok := codes.TransportInjuryRole.Lookup(coding.Display); ok {
		return fragment{"ifTransInjury.ifTransInjury": code}, nil
	}
	if _, ok := codes.TransportInjuryRole.KeyOf(coding.Code); ok {
		return fragment{"ifTransInjury.ifTransInjury": coding.Code}, nil
	}
	return fragment{}, nil
}

// boolMapper builds a Yes/No mapper for the given output key. An
// observation dispatched here without a boolean value is malformed.
func boolMapper(key string) func(*fhir.Observation) (fragment, error) {
	return func(o *fhir.Observation) (fragment, error) {
		if o.ValueBoolean == nil {
			return nil, fmt.Errorf("missing valueBoolean")
		}
		return fragment{key: yesNo(*o.ValueBoolean)}, nil
	}
}

// codedMapper builds a table-lookup mapper for the given output key.
// Unmapped codes omit the field rather than failing.
func codedMapper(key string, table codes.Table) func(*fhir.Observation) (fragment, error) {
	return func(o *fhir.Observation) (fragment, error) {
		if o.ValueCodeableConcept == nil {
			return nil, fmt.Errorf("missing valueCodeableConcept")
		}
		if display, ok := table.Lookup(o.ValueCodeableConcept.FirstCoding().Code); ok {
			return fragment{key: display}, nil
		}
		return fragment{}, nil
	}
}
