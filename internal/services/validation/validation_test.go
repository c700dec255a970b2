package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func validRecord() *models.ContractRecord {
	return &models.ContractRecord{
		INN:                "7701234567",
		KPP:                "770101001",
		FullName:           "Общество с ограниченной ответственностью «Ромашка»",
		OrganizationalForm: "Общество с ограниченной ответственностью",
		LegalEntityType:    models.LegalEntityLegal,
		ContractNumber:     "15-A",
		ContractDate:       "2024-03-01",
		ContractPrice:      floatPtr(7702.40),
		VATPercent:         floatPtr(20),
		ServiceStartDate:   "2024-03-05",
		ServiceEndDate:     "2024-12-31",
	}
}

func TestValidate_ValidRecord(t *testing.T) {
	s := New(false, arbor.NewLogger())

	report := s.Validate(validRecord())

	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	assert.NoError(t, report.Err())
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	s := New(false, arbor.NewLogger())
	record := validRecord()
	record.INN = "ИНН: 7701234567"
	record.Customer = &models.Party{INN: " 7709 999 999 "}

	report := s.Validate(record)

	assert.Equal(t, "ИНН: 7701234567", record.INN)
	assert.Equal(t, " 7709 999 999 ", record.Customer.INN)
	assert.Equal(t, "7701234567", report.Record.INN)
	assert.Equal(t, "7709999999", report.Record.Customer.INN)
}

func TestAutoCorrect(t *testing.T) {
	t.Run("promotes customer and derives entity type", func(t *testing.T) {
		record := &models.ContractRecord{
			Customer: &models.Party{INN: "770123456789", KPP: "770101001", FullName: "ИП Иванов И.И."},
		}
		changes := AutoCorrect(record)

		assert.Equal(t, "770123456789", record.INN)
		assert.Equal(t, "ИП Иванов И.И.", record.FullName)
		assert.Equal(t, models.LegalEntityIndividual, record.LegalEntityType)
		assert.Empty(t, record.KPP, "12-digit INN drops KPP")
		assert.Empty(t, record.Customer.KPP)
		require.NotNil(t, record.IsBuyer)
		assert.True(t, *record.IsBuyer)
		assert.Nil(t, record.IsSupplier)
		assert.NotEmpty(t, changes)
	})

	t.Run("promotes contractor as supplier", func(t *testing.T) {
		record := &models.ContractRecord{Contractor: &models.Party{INN: "7801234567"}}
		AutoCorrect(record)

		assert.Equal(t, "7801234567", record.INN)
		assert.Equal(t, models.LegalEntityLegal, record.LegalEntityType)
		require.NotNil(t, record.IsSupplier)
		assert.True(t, *record.IsSupplier)
	})

	t.Run("cleans identifiers text and dates", func(t *testing.T) {
		record := &models.ContractRecord{
			INN:              "ИНН 7701234567, КПП 770101001",
			KPP:              "7701-01-001",
			LegalEntityType:  models.LegalEntityIndividual,
			FullName:         "  ООО   \n «Ромашка» ",
			ContractDate:     "01.03.2024",
			ServiceStartDate: "5.3.2024",
		}
		AutoCorrect(record)

		assert.Equal(t, "7701234567", record.INN)
		assert.Equal(t, "770101001", record.KPP)
		assert.Equal(t, models.LegalEntityLegal, record.LegalEntityType)
		assert.Equal(t, "ООО «Ромашка»", record.FullName)
		assert.Equal(t, "2024-03-01", record.ContractDate)
		assert.Equal(t, "2024-03-05", record.ServiceStartDate)
	})

	t.Run("changes are reported in field order", func(t *testing.T) {
		want := []string{
			`customer.inn: " 7709 999 999 " -> "7709999999"`,
			`customer.legal_entity_type: "" -> "Юридическое лицо"`,
			`contractor.kpp: "7801-01-001" -> "780101001"`,
			`full_name: "ООО  «Ромашка»" -> "ООО «Ромашка»"`,
			`contract_name: " Договор оказания услуг " -> "Договор оказания услуг"`,
			`contract_date: "01.03.2024" -> "2024-03-01"`,
			`service_end_date: "31.12.2024" -> "2024-12-31"`,
		}
		for i := 0; i < 10; i++ {
			record := &models.ContractRecord{
				INN:             "7701234567",
				KPP:             "770101001",
				LegalEntityType: models.LegalEntityLegal,
				FullName:        "ООО  «Ромашка»",
				ContractName:    " Договор оказания услуг ",
				ContractDate:    "01.03.2024",
				ServiceEndDate:  "31.12.2024",
				Customer:        &models.Party{INN: " 7709 999 999 "},
				Contractor:      &models.Party{INN: "7801234567", KPP: "7801-01-001", LegalEntityType: models.LegalEntityLegal},
			}
			require.Equal(t, want, AutoCorrect(record))
		}
	})

	t.Run("valid record is unchanged", func(t *testing.T) {
		assert.Empty(t, AutoCorrect(validRecord()))
	})
}

func TestValidate_StructRules(t *testing.T) {
	s := New(false, arbor.NewLogger())
	record := validRecord()
	record.INN = "12345"
	record.LegalEntityType = ""
	record.ContractPrice = floatPtr(-1)
	record.VATPercent = floatPtr(120)
	record.ContractDate = "March 2024"
	record.Contractor = &models.Party{INN: "12", KPP: "77"}
	record.LineItems = []models.LineItem{{Name: ""}}

	report := s.Validate(record)

	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors, "inn: ИНН должен содержать 10 или 12 цифр")
	assert.Contains(t, report.Errors, "contract_price: должно быть больше 0")
	assert.Contains(t, report.Errors, "vat_percent: должно быть не больше 100")
	assert.Contains(t, report.Errors, "contract_date: дата должна быть в формате ГГГГ-ММ-ДД")
	assert.Contains(t, report.Errors, "contractor.inn: ИНН должен содержать 10 или 12 цифр")
	assert.Contains(t, report.Errors, "contractor.kpp: должно содержать 9 символов")
	assert.Contains(t, report.Errors, "line_items[0].name: обязательное поле")
	assert.ErrorIs(t, report.Err(), ErrInvalidRecord)
}

func TestValidate_BusinessRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *models.ContractRecord)
		err     string
		warning string
	}{
		{
			name:    "legal entity without KPP",
			mutate:  func(r *models.ContractRecord) { r.KPP = "" },
			warning: "Для юридического лица рекомендуется указать КПП",
		},
		{
			name:    "KPP region differs from INN",
			mutate:  func(r *models.ContractRecord) { r.KPP = "780101001" },
			warning: "Первые 4 цифры КПП обычно совпадают с первыми 4 цифрами ИНН",
		},
		{
			name:    "organizational form missing from name",
			mutate:  func(r *models.ContractRecord) { r.FullName = "«Ромашка»" },
			warning: "ОПФ 'Общество с ограниченной ответственностью' не найдена в полном наименовании",
		},
		{
			name: "VAT percent without VAT",
			mutate: func(r *models.ContractRecord) {
				r.VATType = models.VATWithout
			},
			warning: "Указан процент НДС при типе 'Без НДС'",
		},
		{
			name:   "service starts before contract",
			mutate: func(r *models.ContractRecord) { r.ServiceStartDate = "2024-02-01" },
			err:    "Дата начала услуг не может быть раньше даты договора",
		},
		{
			name:   "service ends before start",
			mutate: func(r *models.ContractRecord) { r.ServiceEndDate = "2024-03-04" },
			err:    "Дата окончания услуг не может быть раньше даты начала",
		},
		{
			name: "bad email",
			mutate: func(r *models.ContractRecord) {
				r.ResponsiblePersons = []models.ResponsiblePerson{{Name: "Иванов", Email: "ivanov@example.ru, not-an-email"}}
			},
			warning: `responsible_persons[0].email: некорректный адрес "not-an-email"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := validRecord()
			tt.mutate(record)

			report := New(false, arbor.NewLogger()).Validate(record)
			if tt.err != "" {
				assert.False(t, report.Valid)
				assert.Contains(t, report.Errors, tt.err)
			}
			if tt.warning != "" {
				assert.True(t, report.Valid, "warnings alone keep the record valid: %v", report.Errors)
				assert.Contains(t, report.Warnings, tt.warning)

				strict := New(true, arbor.NewLogger()).Validate(record)
				assert.False(t, strict.Valid)
				assert.ErrorIs(t, strict.Err(), ErrInvalidRecord)
			}
		})
	}
}
