package validation

import (
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/pactum/internal/models"
)

var (
	innPrefixPattern = regexp.MustCompile(`(?i)(?:ИНН|inn)[\s:=\-]*(\d{10,12})`)
	nonDigitPattern  = regexp.MustCompile(`\D`)
)

// dateLayouts are the date spellings accepted and rewritten to ISO form
var dateLayouts = []string{"2006-01-02", "02.01.2006", "2.1.2006", "02/01/2006", "2006.01.02"}

// stringField pairs a JSON field name with the record field it names
type stringField struct {
	name  string
	value *string
}

// AutoCorrect normalises an extracted record in place and returns a description of each
// change, in field order
func AutoCorrect(record *models.ContractRecord) []string {
	var changes []string
	note := func(field, from, to string) {
		changes = append(changes, field+": "+quote(from)+" -> "+quote(to))
	}

	// root counterparty fields fall back to the customer, then the contractor
	if record.INN == "" {
		if party, buyer := promoteParty(record); party != nil {
			record.INN = party.INN
			fillEmpty(&record.FullName, party.FullName)
			fillEmpty(&record.ShortName, party.ShortName)
			fillEmpty(&record.OrganizationalForm, party.OrganizationalForm)
			fillEmpty(&record.LegalEntityType, party.LegalEntityType)
			fillEmpty(&record.KPP, party.KPP)
			role := true
			if buyer && record.IsBuyer == nil {
				record.IsBuyer = &role
			} else if !buyer && record.IsSupplier == nil {
				record.IsSupplier = &role
			}
			note("inn", "", record.INN)
		}
	}

	correctParty := func(prefix string, inn, kpp, legalType *string) {
		if cleaned := cleanINN(*inn); cleaned != *inn {
			note(prefix+"inn", *inn, cleaned)
			*inn = cleaned
		}
		if cleaned := nonDigitPattern.ReplaceAllString(*kpp, ""); cleaned != *kpp {
			note(prefix+"kpp", *kpp, cleaned)
			*kpp = cleaned
		}
		if derived := legalEntityType(*inn); derived != "" && derived != *legalType {
			note(prefix+"legal_entity_type", *legalType, derived)
			*legalType = derived
		}
		// individuals have no KPP
		if len(*inn) == 12 && *kpp != "" {
			note(prefix+"kpp", *kpp, "")
			*kpp = ""
		}
	}
	correctParty("", &record.INN, &record.KPP, &record.LegalEntityType)
	if record.Customer != nil {
		correctParty("customer.", &record.Customer.INN, &record.Customer.KPP, &record.Customer.LegalEntityType)
	}
	if record.Contractor != nil {
		correctParty("contractor.", &record.Contractor.INN, &record.Contractor.KPP, &record.Contractor.LegalEntityType)
	}

	for _, f := range []stringField{
		{"full_name", &record.FullName},
		{"short_name", &record.ShortName},
		{"organizational_form", &record.OrganizationalForm},
		{"contract_name", &record.ContractName},
		{"contract_number", &record.ContractNumber},
		{"service_description", &record.ServiceDescription},
		{"payment_terms", &record.PaymentTerms},
	} {
		if collapsed := strings.Join(strings.Fields(*f.value), " "); collapsed != *f.value {
			note(f.name, *f.value, collapsed)
			*f.value = collapsed
		}
	}

	for _, f := range []stringField{
		{"contract_date", &record.ContractDate},
		{"service_start_date", &record.ServiceStartDate},
		{"service_end_date", &record.ServiceEndDate},
	} {
		if iso := isoDate(*f.value); iso != *f.value {
			note(f.name, *f.value, iso)
			*f.value = iso
		}
	}

	return changes
}

func promoteParty(record *models.ContractRecord) (*models.Party, bool) {
	if record.Customer != nil && record.Customer.INN != "" {
		return record.Customer, true
	}
	if record.Contractor != nil && record.Contractor.INN != "" {
		return record.Contractor, false
	}
	return nil, false
}

// cleanINN pulls the digits out of values like "ИНН: 7701234567"
func cleanINN(inn string) string {
	if inn == "" {
		return ""
	}
	if m := innPrefixPattern.FindStringSubmatch(inn); m != nil {
		return m[1]
	}
	return nonDigitPattern.ReplaceAllString(inn, "")
}

func legalEntityType(inn string) string {
	switch len(inn) {
	case 10:
		return models.LegalEntityLegal
	case 12:
		return models.LegalEntityIndividual
	}
	return ""
}

func isoDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

func fillEmpty(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

func quote(s string) string {
	return `"` + s + `"`
}
