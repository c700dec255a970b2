package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/models"
	"github.com/ternarybob/pactum/internal/services/bridge"
	"github.com/ternarybob/pactum/internal/services/bridge/bridgetest"
)

func startServer(t *testing.T, options bridgetest.Options) (*bridgetest.Server, string) {
	t.Helper()
	if options.HeartbeatInterval == 0 {
		options.HeartbeatInterval = 10 * time.Millisecond
	}
	srv := bridgetest.NewServer(options, arbor.NewLogger())
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, bridgetest.WebSocketURL(ts.URL)
}

func clientConfig(url string) common.BridgeConfig {
	return common.BridgeConfig{
		URL:               url,
		ClientID:          "test",
		HeartbeatInterval: common.Duration(10 * time.Millisecond),
		HeartbeatGrace:    common.Duration(80 * time.Millisecond),
		CommandTimeout:    common.Duration(5 * time.Second),
		DialTimeout:       common.Duration(2 * time.Second),
		CreateAgreement:   true,
		AttachFile:        true,
	}
}

func newClient(t *testing.T, cfg common.BridgeConfig) *bridge.Client {
	t.Helper()
	client := bridge.NewClient(cfg, arbor.NewLogger())
	t.Cleanup(func() { client.Close() })
	return client
}

func contractRecord() *models.ContractRecord {
	price := 120000.0
	return &models.ContractRecord{
		INN:            "7701234567",
		KPP:            "770101001",
		FullName:       "ООО «Ромашка»",
		ContractNumber: "15",
		ContractDate:   "2024-03-01",
		ContractPrice:  &price,
	}
}

func TestReconcile_CreatesAndAttachesToAgreement(t *testing.T) {
	srv, url := startServer(t, bridgetest.Options{})
	cfg := clientConfig(url)
	reconciler := bridge.NewReconciler(newClient(t, cfg), cfg, arbor.NewLogger())

	link, err := reconciler.Reconcile(context.Background(), contractRecord(), bridge.File{Name: "contract.pdf", Content: []byte("%PDF-1.4")})
	require.NoError(t, err)

	assert.Equal(t, []string{
		bridge.CommandCheckCounterparty,
		bridge.CommandCreateCounterparty,
		bridge.CommandCreateAgreement,
		bridge.CommandAttachFile,
	}, srv.Commands())

	assert.False(t, link.FoundExisting)
	assert.Equal(t, "7701234567", link.NaturalKey)
	require.NotEmpty(t, link.RelatedExternalUUID)
	assert.NotEqual(t, link.ExternalUUID, link.RelatedExternalUUID)
	assert.Equal(t, link.RelatedExternalUUID, link.AttachedTo)

	attachments := srv.Attachments()
	require.Len(t, attachments, 1)
	assert.Equal(t, bridge.EntityAgreement, attachments[0].EntityType)
	assert.Equal(t, link.RelatedExternalUUID, attachments[0].UUID)
	assert.Equal(t, 8, attachments[0].Size)

	agreement, ok := srv.Agreement(link.RelatedExternalUUID)
	require.True(t, ok)
	assert.Equal(t, link.ExternalUUID, agreement.CounterpartyUUID)
	assert.Equal(t, "Договор №15 от 01.03.2024", agreement.Name)

	cp, ok := srv.Counterparty(link.ExternalUUID)
	require.True(t, ok)
	assert.Equal(t, "ООО «Ромашка»", cp.FullName)
}

func TestReconcile_ExistingCounterparty(t *testing.T) {
	srv, url := startServer(t, bridgetest.Options{})
	existing := srv.AddCounterparty(bridge.Counterparty{INN: "7701234567", FullName: "Ромашка"})
	cfg := clientConfig(url)
	cfg.UpdateExisting = true
	reconciler := bridge.NewReconciler(newClient(t, cfg), cfg, arbor.NewLogger())

	link, err := reconciler.Reconcile(context.Background(), contractRecord(), bridge.File{Name: "contract.pdf", Content: []byte("x")})
	require.NoError(t, err)

	assert.True(t, link.FoundExisting)
	assert.True(t, link.Updated)
	assert.Equal(t, existing, link.ExternalUUID)
	assert.Empty(t, link.RelatedExternalUUID)
	assert.Equal(t, existing, link.AttachedTo)
	assert.Equal(t, []string{
		bridge.CommandCheckCounterparty,
		bridge.CommandUpdateCounterparty,
		bridge.CommandAttachFile,
	}, srv.Commands())

	cp, _ := srv.Counterparty(existing)
	assert.Equal(t, "ООО «Ромашка»", cp.FullName)
}

func TestReconcile_NoAgreementFieldsAttachesToCounterparty(t *testing.T) {
	srv, url := startServer(t, bridgetest.Options{})
	cfg := clientConfig(url)
	reconciler := bridge.NewReconciler(newClient(t, cfg), cfg, arbor.NewLogger())

	record := &models.ContractRecord{Customer: &models.Party{INN: "770123456789"}}
	link, err := reconciler.Reconcile(context.Background(), record, bridge.File{Name: "a.txt", Content: []byte("a")})
	require.NoError(t, err)

	assert.Equal(t, "770123456789", link.NaturalKey)
	assert.Equal(t, link.ExternalUUID, link.AttachedTo)
	assert.Equal(t, []string{
		bridge.CommandCheckCounterparty,
		bridge.CommandCreateCounterparty,
		bridge.CommandAttachFile,
	}, srv.Commands())
}

func TestReconcile_NoNaturalKey(t *testing.T) {
	srv, url := startServer(t, bridgetest.Options{})
	cfg := clientConfig(url)
	reconciler := bridge.NewReconciler(newClient(t, cfg), cfg, arbor.NewLogger())

	_, err := reconciler.Reconcile(context.Background(), &models.ContractRecord{FullName: "x"}, bridge.File{})
	assert.ErrorIs(t, err, bridge.ErrNoNaturalKey)
	assert.Empty(t, srv.Received())
}

func TestClient_ReconnectsOnceAfterHeartbeatLoss(t *testing.T) {
	srv, url := startServer(t, bridgetest.Options{})
	client := newClient(t, clientConfig(url))
	require.NoError(t, client.Connect(context.Background()))

	srv.DropHeartbeats()
	commands := bridge.NewCommands(client)
	_, found, err := commands.LookupCounterparty(context.Background(), "7701234567")

	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 2, client.Connects())
	assert.Equal(t, 2, srv.Connections())
	assert.Equal(t, []string{bridge.CommandCheckCounterparty, bridge.CommandCheckCounterparty}, srv.Received())
	assert.Equal(t, []string{bridge.CommandCheckCounterparty}, srv.Commands())
}

func TestClient_SecondTransportFailureSurfaces(t *testing.T) {
	srv, url := startServer(t, bridgetest.Options{})
	client := newClient(t, clientConfig(url))
	require.NoError(t, client.Connect(context.Background()))

	srv.StallNewConnections(true)
	srv.DropHeartbeats()
	_, err := client.Do(context.Background(), bridge.CommandCheckCounterparty, map[string]string{"inn": "7701234567"})

	assert.ErrorIs(t, err, bridge.ErrHeartbeatLost)
	assert.ErrorIs(t, err, bridge.ErrTransport)
	assert.Equal(t, 2, client.Connects())
	assert.Len(t, srv.Received(), 2)
	assert.Empty(t, srv.Commands())
}

func TestClient_CommandErrorIsNotRetried(t *testing.T) {
	srv, url := startServer(t, bridgetest.Options{})
	client := newClient(t, clientConfig(url))

	_, err := client.Do(context.Background(), "drop_database", nil)

	var cmdErr *bridge.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "drop_database", cmdErr.Command)
	assert.Contains(t, cmdErr.Message, "unknown command")
	assert.False(t, errors.Is(err, bridge.ErrTransport))
	assert.Len(t, srv.Received(), 1)
	assert.Equal(t, 1, client.Connects())
}

func TestClient_ConcurrentCommandsAreCorrelated(t *testing.T) {
	srv, url := startServer(t, bridgetest.Options{})
	want := map[string]string{}
	for i := 0; i < 20; i++ {
		inn := fmt.Sprintf("77%08d", i)
		want[inn] = srv.AddCounterparty(bridge.Counterparty{INN: inn})
	}
	commands := bridge.NewCommands(newClient(t, clientConfig(url)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := map[string]string{}
	for inn := range want {
		wg.Add(1)
		go func(inn string) {
			defer wg.Done()
			cp, found, err := commands.LookupCounterparty(context.Background(), inn)
			if assert.NoError(t, err) && assert.True(t, found) {
				mu.Lock()
				got[inn] = cp.UUID
				mu.Unlock()
			}
		}(inn)
	}
	wg.Wait()

	assert.Equal(t, want, got)
}

func TestClient_ClosedAndUnconfigured(t *testing.T) {
	_, url := startServer(t, bridgetest.Options{})
	client := bridge.NewClient(clientConfig(url), arbor.NewLogger())
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())

	_, err := client.Do(context.Background(), bridge.CommandCheckCounterparty, nil)
	assert.ErrorIs(t, err, bridge.ErrClosed)

	unconfigured := bridge.NewClient(common.BridgeConfig{}, arbor.NewLogger())
	assert.ErrorIs(t, unconfigured.Connect(context.Background()), bridge.ErrNotConfigured)
}

func TestClient_TokenRequired(t *testing.T) {
	_, url := startServer(t, bridgetest.Options{Token: "secret"})

	cfg := clientConfig(url)
	assert.ErrorIs(t, newClient(t, cfg).Connect(context.Background()), bridge.ErrTransport)

	cfg.Token = "secret"
	assert.NoError(t, newClient(t, cfg).Connect(context.Background()))
}

func TestAgreementFromRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	buyer := true

	a := bridge.AgreementFromRecord("cp-1", &models.ContractRecord{
		ContractNumber: "7/А",
		ContractDate:   "2024-03-01",
		ServiceEndDate: "2024-12-31",
		IsBuyer:        &buyer,
	}, now)
	assert.Equal(t, "Договор №7/А от 01.03.2024", a.Name)
	assert.Equal(t, bridge.AgreementWithBuyer, a.AgreementType)
	assert.Equal(t, "2024-12-31T00:00:00", a.TermDate)

	a = bridge.AgreementFromRecord("cp-1", &models.ContractRecord{ContractDate: "2024-03-01"}, now)
	assert.Equal(t, "Договор от 01.03.2024", a.Name)
	assert.Equal(t, bridge.AgreementWithSupplier, a.AgreementType)
	assert.Equal(t, "2025-03-01T00:00:00", a.TermDate)

	a = bridge.AgreementFromRecord("cp-1", &models.ContractRecord{ContractName: "Поставка"}, now)
	assert.Equal(t, "Договор", a.Name)
	assert.Equal(t, "2026-06-01T00:00:00", a.TermDate)
}
