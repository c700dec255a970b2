package aggregator

import (
	"strconv"
	"strings"

	"github.com/ternarybob/pactum/internal/models"
)

// DecodeRecord converts a merged main-fields payload into a ContractRecord.
// Locale numbers are normalised and values of the wrong JSON type are coerced or dropped.
func DecodeRecord(m map[string]interface{}) *models.ContractRecord {
	if m == nil {
		return &models.ContractRecord{}
	}
	return &models.ContractRecord{
		INN:                text(m["inn"]),
		KPP:                text(m["kpp"]),
		FullName:           text(m["full_name"]),
		ShortName:          text(m["short_name"]),
		OrganizationalForm: text(m["organizational_form"]),
		LegalEntityType:    text(m["legal_entity_type"]),
		ContractName:       text(m["contract_name"]),
		ContractNumber:     text(m["contract_number"]),
		ContractDate:       text(m["contract_date"]),
		ContractPrice:      numberValue(m["contract_price"]),
		VATType:            text(m["vat_type"]),
		VATPercent:         numberValue(m["vat_percent"]),
		IsSupplier:         boolValue(m["is_supplier"]),
		IsBuyer:            boolValue(m["is_buyer"]),
		ServiceDescription: text(m["service_description"]),
		ServiceStartDate:   text(m["service_start_date"]),
		ServiceEndDate:     text(m["service_end_date"]),
		PaymentTerms:       text(m["payment_terms"]),
		Customer:           decodeParty(m["customer"]),
		Contractor:         decodeParty(m["contractor"]),
		ResponsiblePersons: decodePersons(m["responsible_persons"]),
		ServiceLocations:   decodeLocations(m["service_locations"]),
		Locations:          decodeLocations(m["locations"]),
	}
}

func decodeParty(v interface{}) *models.Party {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	party := &models.Party{
		INN:                text(m["inn"]),
		KPP:                text(m["kpp"]),
		FullName:           text(m["full_name"]),
		ShortName:          text(m["short_name"]),
		OrganizationalForm: text(m["organizational_form"]),
		LegalEntityType:    text(m["legal_entity_type"]),
	}
	if *party == (models.Party{}) {
		return nil
	}
	return party
}

func decodePersons(v interface{}) []models.ResponsiblePerson {
	items, _ := v.([]interface{})
	var persons []models.ResponsiblePerson
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		person := models.ResponsiblePerson{
			Name:     text(m["name"]),
			Position: text(m["position"]),
			Phone:    text(m["phone"]),
			Email:    text(m["email"]),
		}
		if person != (models.ResponsiblePerson{}) {
			persons = append(persons, person)
		}
	}
	return persons
}

func decodeLocations(v interface{}) []models.Location {
	items, _ := v.([]interface{})
	var locations []models.Location
	for _, item := range items {
		var loc models.Location
		switch l := item.(type) {
		case string:
			loc.Address = strings.TrimSpace(l)
		case map[string]interface{}:
			loc.Address = text(l["address"])
			loc.Description = text(l["description"])
		}
		if loc != (models.Location{}) {
			locations = append(locations, loc)
		}
	}
	return locations
}

// text coerces a scalar to a trimmed string. Lists of strings are joined with ", ".
func text(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := text(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

func boolValue(v interface{}) *bool {
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "да", "yes":
			b = true
		case "false", "нет", "no":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}
