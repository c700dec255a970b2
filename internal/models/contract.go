package models

// Legal entity types as the line-of-business system names them
const (
	LegalEntityLegal      = "Юридическое лицо"
	LegalEntityIndividual = "Физическое лицо"
)

// VATWithout is the VAT type that must not carry a VAT percent
const VATWithout = "Без НДС"

// Party is one side of the contract (customer or contractor)
type Party struct {
	INN                string `json:"inn,omitempty" validate:"omitempty,inn"`
	KPP                string `json:"kpp,omitempty" validate:"omitempty,numeric,len=9"`
	FullName           string `json:"full_name,omitempty"`
	ShortName          string `json:"short_name,omitempty"`
	OrganizationalForm string `json:"organizational_form,omitempty"`
	LegalEntityType    string `json:"legal_entity_type,omitempty"`
}

// ResponsiblePerson is a contact named in the contract
type ResponsiblePerson struct {
	Name     string `json:"name,omitempty"`
	Position string `json:"position,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"` // may hold several addresses joined with ", "
}

// Location is a service or delivery address
type Location struct {
	Address     string `json:"address,omitempty"`
	Description string `json:"description,omitempty"`
}

// LineItem is one deduplicated service/goods row
type LineItem struct {
	Name        string   `json:"name" validate:"required"`
	Quantity    *float64 `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	Unit        string   `json:"unit,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	TotalPrice  *float64 `json:"total_price,omitempty" validate:"omitempty,gte=0"`
	Description string   `json:"description,omitempty"`
}

// Completeness counts the populated optional fields, used to pick between duplicates
func (li LineItem) Completeness() int {
	n := 0
	if li.Quantity != nil {
		n++
	}
	if li.UnitPrice != nil {
		n++
	}
	if li.TotalPrice != nil {
		n++
	}
	if li.Unit != "" {
		n++
	}
	if li.Description != "" {
		n++
	}
	return n
}

// ContractRecord is the document-level aggregated result: scalar contract fields plus line items
type ContractRecord struct {
	INN                string `json:"inn,omitempty" validate:"omitempty,inn"`
	KPP                string `json:"kpp,omitempty" validate:"omitempty,numeric,len=9"`
	FullName           string `json:"full_name,omitempty"`
	ShortName          string `json:"short_name,omitempty"`
	OrganizationalForm string `json:"organizational_form,omitempty"`
	LegalEntityType    string `json:"legal_entity_type,omitempty" validate:"omitempty,oneof='Юридическое лицо' 'Физическое лицо'"`

	ContractName   string   `json:"contract_name,omitempty"`
	ContractNumber string   `json:"contract_number,omitempty"`
	ContractDate   string   `json:"contract_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ContractPrice  *float64 `json:"contract_price,omitempty" validate:"omitempty,gt=0"`
	VATType        string   `json:"vat_type,omitempty"`
	VATPercent     *float64 `json:"vat_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	IsSupplier     *bool    `json:"is_supplier,omitempty"`
	IsBuyer        *bool    `json:"is_buyer,omitempty"`

	ServiceDescription string `json:"service_description,omitempty"`
	ServiceStartDate   string `json:"service_start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ServiceEndDate     string `json:"service_end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	PaymentTerms       string `json:"payment_terms,omitempty"`

	Customer   *Party `json:"customer,omitempty" validate:"omitempty"`
	Contractor *Party `json:"contractor,omitempty" validate:"omitempty"`

	ResponsiblePersons []ResponsiblePerson `json:"responsible_persons,omitempty" validate:"dive"`
	ServiceLocations   []Location          `json:"service_locations,omitempty"`
	Locations          []Location          `json:"locations,omitempty"`

	LineItems []LineItem `json:"line_items,omitempty" validate:"dive"`
}

// NaturalKey returns the tax identifier used to look the counterparty up: root, then customer, then contractor
func (r *ContractRecord) NaturalKey() string {
	if r.INN != "" {
		return r.INN
	}
	if r.Customer != nil && r.Customer.INN != "" {
		return r.Customer.INN
	}
	if r.Contractor != nil && r.Contractor.INN != "" {
		return r.Contractor.INN
	}
	return ""
}

// HasAgreementFields reports whether the record describes a contract that can become an agreement entity
func (r *ContractRecord) HasAgreementFields() bool {
	return r.ContractNumber != "" || r.ContractDate != "" || r.ContractName != ""
}
