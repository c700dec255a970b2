package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/pactum/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	contractSheet = "Contract"
	itemsSheet    = "Items"
)

var itemHeaders = []string{"Name", "Qty", "Unit", "Unit price", "Total", "Description"}

// WriteXLSX writes the record to path as a workbook with a "Contract" field sheet and an "Items" sheet
func WriteXLSX(path string, record *models.ContractRecord) error {
	data, err := BuildXLSX(record)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// BuildXLSX renders the record as XLSX bytes
func BuildXLSX(record *models.ContractRecord) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("no record to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), contractSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, fmt.Errorf("create items sheet: %w", err)
	}

	write := func(sheet string, col, row int, v interface{}) {
		if s, ok := v.(string); ok && s == "" {
			return
		}
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	write(contractSheet, 1, 1, "Field")
	write(contractSheet, 2, 1, "Value")
	for i, field := range contractFields(record) {
		write(contractSheet, 1, i+2, field.name)
		write(contractSheet, 2, i+2, field.value)
	}

	for i, h := range itemHeaders {
		write(itemsSheet, i+1, 1, h)
	}
	for i, item := range record.LineItems {
		row := i + 2
		write(itemsSheet, 1, row, item.Name)
		if item.Quantity != nil {
			write(itemsSheet, 2, row, *item.Quantity)
		}
		write(itemsSheet, 3, row, item.Unit)
		if item.UnitPrice != nil {
			write(itemsSheet, 4, row, *item.UnitPrice)
		}
		if item.TotalPrice != nil {
			write(itemsSheet, 5, row, *item.TotalPrice)
		}
		write(itemsSheet, 6, row, item.Description)
	}

	_ = f.SetColWidth(contractSheet, "A", "A", 24)
	_ = f.SetColWidth(contractSheet, "B", "B", 60)
	_ = f.SetColWidth(itemsSheet, "A", "A", 48)
	_ = f.SetColWidth(itemsSheet, "B", "E", 14)
	_ = f.SetColWidth(itemsSheet, "F", "F", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

type field struct {
	name  string
	value interface{}
}

// contractFields lists the populated scalar fields in a fixed order
func contractFields(r *models.ContractRecord) []field {
	var fields []field
	add := func(name string, v interface{}) {
		switch val := v.(type) {
		case string:
			if val == "" {
				return
			}
		case *float64:
			if val == nil {
				return
			}
			v = *val
		case *bool:
			if val == nil {
				return
			}
			v = *val
		}
		fields = append(fields, field{name, v})
	}

	add("inn", r.INN)
	add("kpp", r.KPP)
	add("full_name", r.FullName)
	add("short_name", r.ShortName)
	add("organizational_form", r.OrganizationalForm)
	add("legal_entity_type", r.LegalEntityType)
	add("contract_name", r.ContractName)
	add("contract_number", r.ContractNumber)
	add("contract_date", r.ContractDate)
	add("contract_price", r.ContractPrice)
	add("vat_type", r.VATType)
	add("vat_percent", r.VATPercent)
	add("is_supplier", r.IsSupplier)
	add("is_buyer", r.IsBuyer)
	add("service_description", r.ServiceDescription)
	add("service_start_date", r.ServiceStartDate)
	add("service_end_date", r.ServiceEndDate)
	add("payment_terms", r.PaymentTerms)

	for _, p := range []struct {
		prefix string
		party  *models.Party
	}{{"customer", r.Customer}, {"contractor", r.Contractor}} {
		if p.party == nil {
			continue
		}
		add(p.prefix+".inn", p.party.INN)
		add(p.prefix+".kpp", p.party.KPP)
		add(p.prefix+".full_name", p.party.FullName)
		add(p.prefix+".short_name", p.party.ShortName)
	}

	for i, person := range r.ResponsiblePersons {
		parts := []string{}
		for _, s := range []string{person.Name, person.Position, person.Phone, person.Email} {
			if s != "" {
				parts = append(parts, s)
			}
		}
		add(fmt.Sprintf("responsible_persons[%d]", i), strings.Join(parts, "; "))
	}
	for i, loc := range r.ServiceLocations {
		add(fmt.Sprintf("service_locations[%d]", i), loc.Address)
	}
	return fields
}
