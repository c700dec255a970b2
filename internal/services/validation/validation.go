package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/models"
)

// ErrInvalidRecord is returned by Report.Err when the record failed validation
var ErrInvalidRecord = errors.New("contract record failed validation")

// Report is the outcome of validating one record
type Report struct {
	Valid       bool                   `json:"valid"`
	Errors      []string               `json:"errors,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
	Corrections []string               `json:"corrections,omitempty"`
	Record      *models.ContractRecord `json:"record"`
}

// Err wraps ErrInvalidRecord with the failure messages, nil for a valid record
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	msgs := r.Errors
	if len(msgs) == 0 {
		msgs = r.Warnings
	}
	return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(msgs, "; "))
}

// Service validates aggregated contract records
type Service struct {
	validate *validator.Validate
	strict   bool
	logger   arbor.ILogger
}

// New creates a validation Service. In strict mode warnings also make a record invalid.
func New(strict bool, logger arbor.ILogger) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// registration only fails for an empty tag or nil func
	_ = v.RegisterValidation("inn", validateINN)

	return &Service{validate: v, strict: strict, logger: logger}
}

func validateINN(fl validator.FieldLevel) bool {
	inn := fl.Field().String()
	if len(inn) != 10 && len(inn) != 12 {
		return false
	}
	for _, r := range inn {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Validate auto-corrects a copy of the record, then applies struct rules and business rules
func (s *Service) Validate(record *models.ContractRecord) Report {
	corrected := copyRecord(record)
	report := Report{Record: corrected}
	report.Corrections = AutoCorrect(corrected)
	for _, c := range report.Corrections {
		s.logger.Debug().Str("change", c).Msg("Auto-corrected extracted field")
	}

	if err := s.validate.Struct(corrected); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			report.Errors = append(report.Errors, err.Error())
		}
		for _, fe := range fieldErrs {
			report.Errors = append(report.Errors, describe(fe))
		}
	}

	errs, warnings := s.businessRules(corrected)
	report.Errors = append(report.Errors, errs...)
	report.Warnings = append(report.Warnings, warnings...)

	report.Valid = len(report.Errors) == 0 && !(s.strict && len(report.Warnings) > 0)

	event := s.logger.Info()
	if !report.Valid {
		event = s.logger.Warn()
	}
	event.
		Bool("valid", report.Valid).
		Int("errors", len(report.Errors)).
		Int("warnings", len(report.Warnings)).
		Int("corrections", len(report.Corrections)).
		Bool("strict", s.strict).
		Msg("Contract record validated")

	return report
}

func (s *Service) businessRules(r *models.ContractRecord) (errs, warnings []string) {
	if r.INN != "" {
		switch {
		case len(r.INN) == 10 && r.KPP == "":
			warnings = append(warnings, "Для юридического лица рекомендуется указать КПП")
		case len(r.INN) == 12 && r.KPP != "":
			errs = append(errs, "КПП не должен присутствовать для физического лица (12-значный ИНН)")
		}
		if len(r.INN) == 10 && r.LegalEntityType == models.LegalEntityIndividual {
			errs = append(errs, "ИНН из 10 цифр не соответствует типу 'Физическое лицо'")
		}
		if len(r.INN) == 12 && r.LegalEntityType == models.LegalEntityLegal {
			errs = append(errs, "ИНН из 12 цифр не соответствует типу 'Юридическое лицо'")
		}
		if len(r.INN) == 10 && len(r.KPP) == 9 && r.INN[:4] != r.KPP[:4] {
			warnings = append(warnings, "Первые 4 цифры КПП обычно совпадают с первыми 4 цифрами ИНН")
		}
	}

	if r.OrganizationalForm != "" && r.FullName != "" &&
		!strings.Contains(strings.ToLower(r.FullName), strings.ToLower(r.OrganizationalForm)) {
		warnings = append(warnings, fmt.Sprintf("ОПФ '%s' не найдена в полном наименовании", r.OrganizationalForm))
	}

	if r.VATType == models.VATWithout && r.VATPercent != nil && *r.VATPercent > 0 {
		warnings = append(warnings, "Указан процент НДС при типе 'Без НДС'")
	}

	// ISO dates compare correctly as strings; malformed ones were already reported
	if isISODate(r.ContractDate) && isISODate(r.ServiceStartDate) && r.ServiceStartDate < r.ContractDate {
		errs = append(errs, "Дата начала услуг не может быть раньше даты договора")
	}
	if isISODate(r.ServiceStartDate) && isISODate(r.ServiceEndDate) && r.ServiceEndDate < r.ServiceStartDate {
		errs = append(errs, "Дата окончания услуг не может быть раньше даты начала")
	}

	for i, person := range r.ResponsiblePersons {
		for _, email := range strings.Split(person.Email, ",") {
			email = strings.TrimSpace(email)
			if email != "" && s.validate.Var(email, "email") != nil {
				warnings = append(warnings, fmt.Sprintf("responsible_persons[%d].email: некорректный адрес %q", i, email))
			}
		}
	}

	return errs, warnings
}

func isISODate(s string) bool {
	return s != "" && isoDate(s) == s && len(s) == len("2006-01-02")
}

// describe renders a field error as "path: message" using JSON field names
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	var msg string
	switch fe.Tag() {
	case "inn":
		msg = "ИНН должен содержать 10 или 12 цифр"
	case "numeric":
		msg = "должно содержать только цифры"
	case "len":
		msg = fmt.Sprintf("должно содержать %s символов", fe.Param())
	case "datetime":
		msg = "дата должна быть в формате ГГГГ-ММ-ДД"
	case "gt":
		msg = fmt.Sprintf("должно быть больше %s", fe.Param())
	case "gte":
		msg = fmt.Sprintf("должно быть не меньше %s", fe.Param())
	case "lte":
		msg = fmt.Sprintf("должно быть не больше %s", fe.Param())
	case "oneof":
		msg = fmt.Sprintf("допустимые значения: %s", fe.Param())
	case "required":
		msg = "обязательное поле"
	default:
		msg = fmt.Sprintf("не прошло проверку %s", fe.Tag())
	}
	return fmt.Sprintf("%s: %s", field, msg)
}

// copyRecord deep-copies the parts AutoCorrect mutates
func copyRecord(record *models.ContractRecord) *models.ContractRecord {
	if record == nil {
		return &models.ContractRecord{}
	}
	out := *record
	if record.Customer != nil {
		customer := *record.Customer
		out.Customer = &customer
	}
	if record.Contractor != nil {
		contractor := *record.Contractor
		out.Contractor = &contractor
	}
	out.ResponsiblePersons = append([]models.ResponsiblePerson(nil), record.ResponsiblePersons...)
	out.ServiceLocations = append([]models.Location(nil), record.ServiceLocations...)
	out.Locations = append([]models.Location(nil), record.Locations...)
	out.LineItems = append([]models.LineItem(nil), record.LineItems...)
	return &out
}
