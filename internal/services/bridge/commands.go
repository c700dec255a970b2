package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
)

// Entity kinds accepted by attach_file
const (
	EntityCounterparty = "counterparty"
	EntityAgreement    = "agreement"
)

// Agreement kinds, by the counterparty's role
const (
	AgreementWithBuyer    = "СПокупателем"
	AgreementWithSupplier = "СПоставщиком"
)

// Counterparty is the remote view of a counterparty entity
type Counterparty struct {
	UUID               string `json:"uuid"`
	INN                string `json:"inn"`
	KPP                string `json:"kpp,omitempty"`
	FullName           string `json:"full_name,omitempty"`
	ShortName          string `json:"short_name,omitempty"`
	OrganizationalForm string `json:"organizational_form,omitempty"`
	LegalEntityType    string `json:"legal_entity_type,omitempty"`
	IsSupplier         bool   `json:"is_supplier,omitempty"`
	IsBuyer            bool   `json:"is_buyer,omitempty"`
}

// Agreement is the create_agreement payload
type Agreement struct {
	CounterpartyUUID string   `json:"counterparty_uuid"`
	Name             string   `json:"name"`
	Number           string   `json:"number,omitempty"`
	Date             string   `json:"date,omitempty"`
	AgreementType    string   `json:"agreement_type"`
	Price            *float64 `json:"price,omitempty"`
	TermDate         string   `json:"term_date,omitempty"`
}

// FileAttachment is the attach_file payload
type FileAttachment struct {
	EntityType string `json:"entity_type"`
	UUID       string `json:"uuid"`
	FileName   string `json:"file_name"`
	FileData   string `json:"file_data"` // base64
}

type lookupResult struct {
	Found        bool          `json:"found"`
	Counterparty *Counterparty `json:"counterparty,omitempty"`
}

type createResult struct {
	UUID string `json:"uuid"`
}

// Commands are the typed line-of-business operations over a BridgeClient
type Commands struct {
	client interfaces.BridgeClient
}

// NewCommands wraps client
func NewCommands(client interfaces.BridgeClient) *Commands {
	return &Commands{client: client}
}

// LookupCounterparty finds a counterparty by INN; found is false when none exists
func (c *Commands) LookupCounterparty(ctx context.Context, inn string) (*Counterparty, bool, error) {
	raw, err := c.client.Do(ctx, CommandCheckCounterparty, map[string]string{"inn": inn})
	if err != nil {
		return nil, false, err
	}
	var res lookupResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, fmt.Errorf("decode %s result: %w", CommandCheckCounterparty, err)
	}
	if !res.Found || res.Counterparty == nil {
		return nil, false, nil
	}
	return res.Counterparty, true, nil
}

// CreateCounterparty creates a counterparty from the record and returns its UUID
func (c *Commands) CreateCounterparty(ctx context.Context, record *models.ContractRecord) (string, error) {
	return c.create(ctx, CommandCreateCounterparty, CounterpartyFromRecord(record))
}

// UpdateCounterparty overwrites the counterparty's fields with the record's
func (c *Commands) UpdateCounterparty(ctx context.Context, uuid string, record *models.ContractRecord) error {
	cp := CounterpartyFromRecord(record)
	cp.UUID = uuid
	_, err := c.client.Do(ctx, CommandUpdateCounterparty, cp)
	return err
}

// CreateAgreement creates an agreement under the counterparty and returns its UUID
func (c *Commands) CreateAgreement(ctx context.Context, counterpartyUUID string, record *models.ContractRecord) (string, error) {
	return c.create(ctx, CommandCreateAgreement, AgreementFromRecord(counterpartyUUID, record, time.Now()))
}

// AttachFile attaches a file to the entity of the given kind
func (c *Commands) AttachFile(ctx context.Context, entityKind, entityUUID, fileName string, content []byte) error {
	_, err := c.client.Do(ctx, CommandAttachFile, FileAttachment{
		EntityType: entityKind,
		UUID:       entityUUID,
		FileName:   fileName,
		FileData:   base64.StdEncoding.EncodeToString(content),
	})
	return err
}

func (c *Commands) create(ctx context.Context, command string, params interface{}) (string, error) {
	raw, err := c.client.Do(ctx, command, params)
	if err != nil {
		return "", err
	}
	var res createResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode %s result: %w", command, err)
	}
	if res.UUID == "" {
		return "", &CommandError{Command: command, Message: "response carries no uuid"}
	}
	return res.UUID, nil
}

// CounterpartyFromRecord maps the root counterparty fields of a record
func CounterpartyFromRecord(record *models.ContractRecord) Counterparty {
	cp := Counterparty{
		INN:                record.NaturalKey(),
		KPP:                record.KPP,
		FullName:           record.FullName,
		ShortName:          record.ShortName,
		OrganizationalForm: record.OrganizationalForm,
		LegalEntityType:    record.LegalEntityType,
	}
	if record.IsSupplier != nil {
		cp.IsSupplier = *record.IsSupplier
	}
	if record.IsBuyer != nil {
		cp.IsBuyer = *record.IsBuyer
	}
	return cp
}

// AgreementFromRecord names the agreement "Договор №<number> от <dd.mm.yyyy>". The term runs to
// the service end date, else one year past the contract date, else one year past now.
func AgreementFromRecord(counterpartyUUID string, record *models.ContractRecord, now time.Time) Agreement {
	name := "Договор"
	if record.ContractNumber != "" {
		name += " №" + record.ContractNumber
	}
	contractDate, hasDate := parseISO(record.ContractDate)
	if hasDate {
		name += " от " + contractDate.Format("02.01.2006")
	}

	kind := AgreementWithSupplier
	if record.IsBuyer != nil && *record.IsBuyer {
		kind = AgreementWithBuyer
	}

	term := now.AddDate(1, 0, 0)
	if end, ok := parseISO(record.ServiceEndDate); ok {
		term = end
	} else if hasDate {
		term = contractDate.AddDate(1, 0, 0)
	}

	return Agreement{
		CounterpartyUUID: counterpartyUUID,
		Name:             name,
		Number:           record.ContractNumber,
		Date:             record.ContractDate,
		AgreementType:    kind,
		Price:            record.ContractPrice,
		TermDate:         term.Format("2006-01-02") + "T00:00:00",
	}
}

func parseISO(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}
