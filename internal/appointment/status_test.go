package appointment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		current Status
		event   Event
		want    Status
		ok      bool
	}{
		{StatusPendingProviderConfirmation, EventConfirm, StatusConfirmed, true},
		{StatusPendingProviderConfirmation, EventReject, StatusRejectedByProvider, true},
		{StatusPendingProviderConfirmation, EventExpire, StatusExpiredWithoutProviderAction, true},
		{StatusPendingProviderConfirmation, EventCancelByClient, "", false},
		{StatusPendingProviderConfirmation, EventMarkArrived, "", false},

		{StatusConfirmed, EventRequestRescheduleByClient, StatusRescheduleRequestedByClient, true},
		{StatusConfirmed, EventRequestRescheduleByProvider, StatusRescheduleRequestedByProvider, true},
		{StatusConfirmed, EventCancelByClient, StatusCancelledByClient, true},
		{StatusConfirmed, EventCancelByProvider, StatusCancelledByProvider, true},
		{StatusConfirmed, EventMarkArrived, StatusArrived, true},
		{StatusConfirmed, EventConfirm, "", false},
		{StatusConfirmed, EventComplete, "", false},

		{StatusRescheduleConfirmed, EventMarkArrived, StatusArrived, true},
		{StatusRescheduleConfirmed, EventCancelByProvider, StatusCancelledByProvider, true},

		{StatusRescheduleRequestedByClient, EventAcceptReschedule, StatusRescheduleConfirmed, true},
		{StatusRescheduleRequestedByClient, EventCancelByClient, "", false},
		{StatusRescheduleRequestedByProvider, EventAcceptReschedule, StatusRescheduleConfirmed, true},

		{StatusArrived, EventStartExecution, StatusInProgress, true},
		{StatusArrived, EventComplete, "", false},
		{StatusInProgress, EventComplete, StatusCompleted, true},
		{StatusInProgress, EventCancelByClient, "", false},
	}

	for _, tc := range cases {
		got, ok := nextStatus(tc.current, tc.event)
		require.Equal(t, tc.ok, ok, "%s + %s", tc.current, tc.event)
		if tc.ok {
			require.Equal(t, tc.want, got, "%s + %s", tc.current, tc.event)
		}
	}
}

func TestTerminalStatusesAcceptNoEvent(t *testing.T) {
	terminals := []Status{
		StatusRejectedByProvider,
		StatusExpiredWithoutProviderAction,
		StatusCancelledByClient,
		StatusCancelledByProvider,
		StatusCompleted,
	}

	events := []Event{
		EventConfirm, EventReject, EventExpire,
		EventRequestRescheduleByClient, EventRequestRescheduleByProvider,
		EventAcceptReschedule,
		EventCancelByClient, EventCancelByProvider,
		EventMarkArrived, EventStartExecution, EventComplete,
	}

	for _, status := range terminals {
		require.True(t, status.Terminal(), status)
		for _, event := range events {
			_, ok := nextStatus(status, event)
			require.False(t, ok, "%s + %s", status, event)
		}
	}
}

func TestBlockingStatuses(t *testing.T) {
	blocking := []Status{
		StatusPendingProviderConfirmation,
		StatusConfirmed,
		StatusRescheduleRequestedByClient,
		StatusRescheduleRequestedByProvider,
		StatusRescheduleConfirmed,
		StatusArrived,
		StatusInProgress,
	}
	for _, s := range blocking {
		require.True(t, s.Blocking(), s)
		require.False(t, s.Terminal(), s)
	}

	for _, s := range []Status{
		StatusRejectedByProvider,
		StatusExpiredWithoutProviderAction,
		StatusCancelledByClient,
		StatusCancelledByProvider,
		StatusCompleted,
	} {
		require.False(t, s.Blocking(), s)
	}
}

func TestOperationalTransitions(t *testing.T) {
	allowed := []struct{ from, to OperationalStatus }{
		{OperationalOnTheWay, OperationalOnSite},
		{OperationalOnSite, OperationalInService},
		{OperationalInService, OperationalWaitingParts},
		{OperationalInService, OperationalCompleted},
		{OperationalWaitingParts, OperationalInService},
	}
	for _, tc := range allowed {
		require.True(t, operationalTransitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to OperationalStatus }{
		{OperationalOnTheWay, OperationalInService},
		{OperationalOnTheWay, OperationalCompleted},
		{OperationalOnSite, OperationalCompleted},
		{OperationalWaitingParts, OperationalCompleted},
		{OperationalCompleted, OperationalInService},
		{OperationalInService, OperationalOnTheWay},
	}
	for _, tc := range denied {
		require.False(t, operationalTransitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
