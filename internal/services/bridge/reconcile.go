package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
)

// ErrNoNaturalKey is returned when the record carries no INN to look the counterparty up by
var ErrNoNaturalKey = errors.New("record has no tax identifier to reconcile by")

// File is the source document attached to the reconciled entity
type File struct {
	Name    string
	Content []byte
}

// Reconciler runs lookup-then-create against the line-of-business system
type Reconciler struct {
	commands *Commands
	config   common.BridgeConfig
	logger   arbor.ILogger
}

// NewReconciler creates a Reconciler over client
func NewReconciler(client interfaces.BridgeClient, config common.BridgeConfig, logger arbor.ILogger) *Reconciler {
	return &Reconciler{commands: NewCommands(client), config: config, logger: logger}
}

// Reconcile looks the counterparty up by INN. An existing one is optionally updated; a missing
// one is created together with an agreement when the record describes one. The file goes to
// the most specific entity: the new agreement if any, else the counterparty.
func (r *Reconciler) Reconcile(ctx context.Context, record *models.ContractRecord, file File) (models.ExternalRecordLink, error) {
	key := record.NaturalKey()
	if key == "" {
		return models.ExternalRecordLink{}, ErrNoNaturalKey
	}
	link := models.ExternalRecordLink{NaturalKey: key}

	existing, found, err := r.commands.LookupCounterparty(ctx, key)
	if err != nil {
		return link, fmt.Errorf("lookup counterparty %s: %w", key, err)
	}

	target, targetKind := "", EntityCounterparty
	if found {
		link.FoundExisting = true
		link.ExternalUUID = existing.UUID
		target = existing.UUID

		if r.config.UpdateExisting {
			if err := r.commands.UpdateCounterparty(ctx, existing.UUID, record); err != nil {
				return link, fmt.Errorf("update counterparty %s: %w", existing.UUID, err)
			}
			link.Updated = true
		}
		r.logger.Info().Str("inn", key).Str("uuid", existing.UUID).Bool("updated", link.Updated).Msg("Counterparty found")
	} else {
		uuid, err := r.commands.CreateCounterparty(ctx, record)
		if err != nil {
			return link, fmt.Errorf("create counterparty %s: %w", key, err)
		}
		link.ExternalUUID = uuid
		target = uuid
		r.logger.Info().Str("inn", key).Str("uuid", uuid).Msg("Counterparty created")

		if r.config.CreateAgreement && record.HasAgreementFields() {
			agreement, err := r.commands.CreateAgreement(ctx, uuid, record)
			if err != nil {
				return link, fmt.Errorf("create agreement for %s: %w", uuid, err)
			}
			link.RelatedExternalUUID = agreement
			target, targetKind = agreement, EntityAgreement
			r.logger.Info().Str("counterparty", uuid).Str("agreement", agreement).Msg("Agreement created")
		}
	}

	if r.config.AttachFile && len(file.Content) > 0 {
		if err := r.commands.AttachFile(ctx, targetKind, target, file.Name, file.Content); err != nil {
			return link, fmt.Errorf("attach %s to %s %s: %w", file.Name, targetKind, target, err)
		}
		link.AttachedTo = target
	}

	link.CreatedAt = time.Now()
	return link, nil
}
