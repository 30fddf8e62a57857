package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newSaga(t *testing.T) *Saga {
	t.Helper()
	s, cmds := New(uuid.New(), t0, 15*time.Minute)
	require.Equal(t, []Command{{Type: CommandReserveStock}}, cmds)
	return s
}

func reply(trigger Trigger, ref string) Reply {
	return Reply{Trigger: trigger, MessageID: uuid.NewString(), Reference: ref, Reason: string(trigger)}
}

func commandTypes(cmds []Command) []CommandType {
	var out []CommandType
	for _, c := range cmds {
		out = append(out, c.Type)
	}
	return out
}

func TestNew_SetsDeadline(t *testing.T) {
	s := newSaga(t)
	assert.Equal(t, StateStarted, s.State)
	assert.Equal(t, t0.Add(15*time.Minute), s.DeadlineAt)
	assert.False(t, s.Expired(t0.Add(time.Minute)))
	assert.True(t, s.Expired(t0.Add(15*time.Minute)))
}

func TestApply_HappyPath(t *testing.T) {
	s := newSaga(t)

	out := s.Apply(reply(TriggerStockReserved, "res-1"), t0)
	assert.Equal(t, []CommandType{CommandProcessPayment}, commandTypes(out.Commands))
	assert.Equal(t, StateStockReserved, s.State)

	out = s.Apply(reply(TriggerPaymentProcessed, "tx-1"), t0)
	assert.Equal(t, []CommandType{CommandCreateShipment}, commandTypes(out.Commands))
	assert.Equal(t, OrderConfirm, out.Order)

	out = s.Apply(reply(TriggerShipmentCreated, "TRK-1"), t0)
	assert.Empty(t, out.Commands)
	assert.Equal(t, OrderShip, out.Order)
	assert.Equal(t, []State{StateShipmentCreated, StateCompleted}, out.Path)
	assert.Equal(t, StateCompleted, s.State)
	assert.Len(t, s.Steps, 3)
}

// Cada punto de fallo compensa exactamente los pasos completados, en orden inverso.
func TestApply_FailurePermutations(t *testing.T) {
	tests := []struct {
		name          string
		replies       []Reply
		compensations []Command
		failedVia     []State
	}{
		{
			name:      "falla la reserva",
			replies:   []Reply{reply(TriggerStockReservationFailed, "")},
			failedVia: []State{StateFailed},
		},
		{
			name: "falla el pago",
			replies: []Reply{
				reply(TriggerStockReserved, "res-1"),
				reply(TriggerPaymentFailed, ""),
			},
			compensations: []Command{{Type: CommandReleaseStock, Reference: "res-1"}},
			failedVia:     []State{StateCompensating, StateFailed},
		},
		{
			name: "falla el envío",
			replies: []Reply{
				reply(TriggerStockReserved, "res-1"),
				reply(TriggerPaymentProcessed, "tx-1"),
				reply(TriggerShipmentCreationFailed, ""),
			},
			compensations: []Command{
				{Type: CommandRefundPayment, Reference: "tx-1"},
				{Type: CommandReleaseStock, Reference: "res-1"},
			},
			failedVia: []State{StateCompensating, StateFailed},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newSaga(t)
			var last Outcome
			for _, r := range tc.replies {
				last = s.Apply(r, t0)
				require.False(t, last.Ignored)
			}
			assert.Equal(t, StateFailed, s.State)
			assert.Equal(t, OrderCancel, last.Order)
			assert.Equal(t, tc.failedVia, last.Path)
			assert.Equal(t, tc.compensations, last.Commands)
			assert.NotEmpty(t, s.FailureReason)
		})
	}
}

func TestApply_TimeoutFromEveryLiveState(t *testing.T) {
	prefixes := map[State][]Reply{
		StateStarted:          nil,
		StateStockReserved:    {reply(TriggerStockReserved, "res-1")},
		StatePaymentProcessed: {reply(TriggerStockReserved, "res-1"), reply(TriggerPaymentProcessed, "tx-1")},
	}
	expected := map[State][]CommandType{
		StateStarted:          nil,
		StateStockReserved:    {CommandReleaseStock},
		StatePaymentProcessed: {CommandRefundPayment, CommandReleaseStock},
	}

	for state, prefix := range prefixes {
		t.Run(string(state), func(t *testing.T) {
			s := newSaga(t)
			for _, r := range prefix {
				s.Apply(r, t0)
			}
			require.Equal(t, state, s.State)

			out := s.Apply(Reply{Trigger: TriggerSagaTimeout, Reason: "saga timed out"}, t0.Add(time.Hour))
			assert.True(t, out.Alert)
			assert.Equal(t, StateFailed, s.State)
			assert.Equal(t, expected[state], commandTypes(out.Commands))
			assert.Equal(t, "saga timed out", s.FailureReason)
		})
	}
}

func TestApply_OutOfOrderIsIgnored(t *testing.T) {
	s := newSaga(t)

	out := s.Apply(reply(TriggerPaymentProcessed, "tx-1"), t0)
	assert.True(t, out.Ignored)
	assert.Equal(t, StateStarted, s.State)
	assert.Empty(t, s.Steps)
}

func TestApply_DuplicateReplyIsIgnored(t *testing.T) {
	s := newSaga(t)
	first := reply(TriggerStockReserved, "res-1")

	out := s.Apply(first, t0)
	require.Len(t, out.Commands, 1)

	out = s.Apply(first, t0)
	assert.True(t, out.Ignored)
	assert.Len(t, s.Steps, 1)
}

func TestApply_TerminalSagaIsImmutable(t *testing.T) {
	s := newSaga(t)
	s.Apply(reply(TriggerStockReservationFailed, ""), t0)
	require.Equal(t, StateFailed, s.State)

	for _, tr := range []Trigger{TriggerStockReserved, TriggerPaymentProcessed, TriggerSagaTimeout} {
		out := s.Apply(reply(tr, "x"), t0)
		assert.True(t, out.Ignored)
	}
	assert.Equal(t, StateFailed, s.State)
	assert.Empty(t, s.Steps)
}

func TestLookup_UnknownCombination(t *testing.T) {
	_, ok := Lookup(StateCompleted, TriggerSagaTimeout)
	assert.False(t, ok)
	_, ok = Lookup(StateStarted, TriggerShipmentCreated)
	assert.False(t, ok)
	_, ok = Lookup(StateCompensating, TriggerSagaTimeout)
	assert.True(t, ok)
}
