package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"paletteledger/internal/pkg/events"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "palette.ledger.pending", events.Subject("palette", events.LedgerPending))
	assert.Equal(t, "ledger.pending", events.Subject("", events.LedgerPending))
}

func TestMemoryPublisher_RecordsInOrder(t *testing.T) {
	pub := events.NewMemoryPublisher()

	assert.NoError(t, pub.Publish(context.Background(), events.ChequeDeposited, map[string]string{"id": "c1"}))
	assert.NoError(t, pub.Publish(context.Background(), events.LedgerPending, map[string]string{"id": "c1"}))

	assert.Equal(t, []string{events.ChequeDeposited, events.LedgerPending}, pub.Names())
	assert.Equal(t, map[string]string{"id": "c1"}, pub.Events()[0].Payload)
}

func TestNopPublisher(t *testing.T) {
	var pub events.Publisher = events.NopPublisher{}
	assert.NoError(t, pub.Publish(context.Background(), events.ChequeIssued, nil))
	pub.Close()
}
