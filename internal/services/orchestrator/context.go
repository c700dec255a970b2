package orchestrator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/pactum/internal/models"
)

// BuildChunkContext summarises the fields extracted so far for the prompts of later chunks.
// It returns "" when nothing is known yet.
func BuildChunkContext(r *models.ContractRecord) string {
	if r == nil {
		return ""
	}

	var sections []string
	section := func(title string, lines []string) {
		if len(lines) > 0 {
			sections = append(sections, title+":\n"+strings.Join(lines, "\n"))
		}
	}
	var lines []string
	item := func(label, value string) {
		if value != "" {
			lines = append(lines, "- "+label+": "+value)
		}
	}

	item("Название договора", r.ContractName)
	item("Номер договора", r.ContractNumber)
	item("Дата договора", r.ContractDate)
	item("Цена договора", number(r.ContractPrice))
	item("Тип НДС", r.VATType)
	item("Процент НДС", number(r.VATPercent))
	section("ОСНОВНАЯ ИНФОРМАЦИЯ О ДОГОВОРЕ", lines)

	lines = nil
	if r.ServiceDescription != "" {
		lines = append(lines, "- "+truncate(r.ServiceDescription, 500))
	}
	section("ОПИСАНИЕ УСЛУГ/ТОВАРОВ", lines)

	lines = nil
	item("Начало периода услуг", r.ServiceStartDate)
	item("Окончание периода услуг", r.ServiceEndDate)
	section("ДАТЫ ОКАЗАНИЯ УСЛУГ", lines)

	lines = nil
	if r.PaymentTerms != "" {
		lines = append(lines, "- "+truncate(r.PaymentTerms, 300))
	}
	section("УСЛОВИЯ ОПЛАТЫ", lines)

	section("КОНТРАГЕНТЫ", counterpartyLines(r))

	lines = nil
	for i, p := range r.ResponsiblePersons {
		if p.Name == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %d. ФИО: %s", i+1, p.Name))
		for _, f := range [][2]string{{"Должность", p.Position}, {"Телефон", p.Phone}, {"Email", p.Email}} {
			if f[1] != "" {
				lines = append(lines, "     "+f[0]+": "+f[1])
			}
		}
	}
	section("АГЕНТЫ И ОТВЕТСТВЕННЫЕ ЛИЦА", lines)

	return strings.Join(sections, "\n\n")
}

func counterpartyLines(r *models.ContractRecord) []string {
	var lines []string
	party := func(title string, p *models.Party) {
		if p == nil {
			return
		}
		var info []string
		for _, f := range [][2]string{
			{"ИНН", p.INN},
			{"Полное наименование", p.FullName},
			{"Краткое наименование", p.ShortName},
			{"ОПФ", p.OrganizationalForm},
			{"КПП", p.KPP},
		} {
			if f[1] != "" {
				info = append(info, "  "+f[0]+": "+f[1])
			}
		}
		if len(info) > 0 {
			lines = append(lines, title+":")
			lines = append(lines, info...)
		}
	}
	party("ЗАКАЗЧИК", r.Customer)
	party("ИСПОЛНИТЕЛЬ", r.Contractor)
	if len(lines) > 0 {
		return lines
	}

	for _, f := range [][2]string{
		{"ИНН", r.INN},
		{"Полное наименование", r.FullName},
		{"Краткое наименование", r.ShortName},
		{"Организационно-правовая форма", r.OrganizationalForm},
		{"КПП", r.KPP},
	} {
		if f[1] != "" {
			lines = append(lines, "- "+f[0]+": "+f[1])
		}
	}
	var roles []string
	if r.IsSupplier != nil && *r.IsSupplier {
		roles = append(roles, "Поставщик")
	}
	if r.IsBuyer != nil && *r.IsBuyer {
		roles = append(roles, "Покупатель")
	}
	if len(roles) > 0 {
		lines = append(lines, "- Роль: "+strings.Join(roles, ", "))
	}
	return lines
}

// previousFragment is the head of the chunk before index, carried into its prompt
func previousFragment(chunks []models.Chunk, pos, chars int) string {
	if pos == 0 || chars <= 0 {
		return ""
	}
	return truncate(chunks[pos-1].Content(), chars)
}

func number(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
