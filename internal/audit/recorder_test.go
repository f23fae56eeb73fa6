package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	records []Record
	failErr error
	nextSeq int64
}

func (s *memoryStore) Insert(ctx context.Context, record Record) (Record, error) {
	if s.failErr != nil {
		return Record{}, s.failErr
	}
	s.nextSeq++
	record.ID = s.nextSeq
	record.Seq = s.nextSeq
	s.records = append(s.records, record)
	return record, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecordDerivesSeverityFromAction(t *testing.T) {
	store := &memoryStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recorder := NewRecorder(store, nil, WithClock(fixedClock(now)))

	rec, err := recorder.Record(context.Background(), Entry{
		ActorID:    7,
		Action:     ActionPermissionGranted,
		TargetType: "role",
		TargetID:   "3",
		Success:    true,
	})
	require.NoError(t, err)
	require.Equal(t, SeverityCritical, rec.Severity)
	require.Equal(t, now, rec.CreatedAt)
	require.Equal(t, int64(1), rec.Seq)

	rec, err = recorder.Record(context.Background(), Entry{Action: ActionLoginFailed, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, SeverityMedium, rec.Severity)
	require.Equal(t, int64(2), rec.Seq, "sequence grows monotonically")
}

func TestRecordUnknownActionDefaultsMedium(t *testing.T) {
	store := &memoryStore{}
	recorder := NewRecorder(store, nil)

	rec, err := recorder.Record(context.Background(), Entry{Action: Action("something_new"), ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, SeverityMedium, rec.Severity)
}

func TestRecordSwallowsStorageFailure(t *testing.T) {
	store := &memoryStore{failErr: errors.New("connection refused")}
	recorder := NewRecorder(store, nil)

	rec, err := recorder.Record(context.Background(), Entry{Action: ActionLoginFailed, ActorID: 7})
	require.NoError(t, err, "best-effort recording never fails the caller")
	require.Equal(t, ActionLoginFailed, rec.Action)
	require.Empty(t, store.records)
}

func TestStrictModePropagatesCriticalMutationFailure(t *testing.T) {
	store := &memoryStore{failErr: errors.New("connection refused")}
	recorder := NewRecorder(store, nil, WithStrictMode(true))

	_, err := recorder.Record(context.Background(), Entry{Action: ActionPermissionRevoked, ActorID: 7})
	require.Error(t, err)

	// Non-critical actions stay best-effort even in strict mode.
	_, err = recorder.Record(context.Background(), Entry{Action: ActionLoginFailed, ActorID: 7})
	require.NoError(t, err)

	// High-severity mutations below critical stay best-effort too.
	_, err = recorder.Record(context.Background(), Entry{Action: ActionRoleAssigned, ActorID: 7})
	require.NoError(t, err)
}

func TestHooksRunAfterDurableWrite(t *testing.T) {
	store := &memoryStore{}
	var seen []Record
	recorder := NewRecorder(store, nil, WithHook(func(ctx context.Context, rec Record) {
		seen = append(seen, rec)
	}))

	_, err := recorder.Record(context.Background(), Entry{Action: ActionPermissionDenied, ActorID: 7})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.Equal(t, int64(1), seen[0].Seq)

	// A failed write must not fire hooks.
	store.failErr = errors.New("down")
	_, err = recorder.Record(context.Background(), Entry{Action: ActionPermissionDenied, ActorID: 7})
	require.NoError(t, err)
	require.Len(t, seen, 1)
}

func TestSeverityRankOrdering(t *testing.T) {
	require.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	require.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	require.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
}

func TestPermissionMutationClassification(t *testing.T) {
	require.True(t, ActionPermissionGranted.IsPermissionMutation())
	require.True(t, ActionGroupRoleAdded.IsPermissionMutation())
	require.False(t, ActionLoginFailed.IsPermissionMutation())
	require.False(t, ActionAlertResolved.IsPermissionMutation())
}
