package ledgerkit

import (
	"encoding/json"
)

// DefaultSnapshotInterval is how many events an account accrues between
// snapshots.
const DefaultSnapshotInterval = 50

// Snapshot is the persisted form of account state. It deliberately omits
// ProcessedTransactionIDs: a state resumed from a snapshot starts with an
// empty processed set, so duplicate suppression only covers events after
// the snapshot point.
type Snapshot struct {
	AccountID       string        `json:"accountId"`
	OwnerName       string        `json:"ownerName"`
	Balance         int64         `json:"balance"`
	Currency        string        `json:"currency"`
	Status          AccountStatus `json:"status"`
	LastEventNumber int64         `json:"lastEventNumber"`
}

// SnapshotFromState captures the persistable fields of an account state.
func SnapshotFromState(state AccountState) Snapshot {
	return Snapshot{
		AccountID:       state.AccountID,
		OwnerName:       state.OwnerName,
		Balance:         state.Balance,
		Currency:        state.Currency,
		Status:          state.Status,
		LastEventNumber: state.Version,
	}
}

// State restores an account state from the snapshot. The processed
// transaction set starts empty.
func (s Snapshot) State() AccountState {
	return AccountState{
		AccountID:               s.AccountID,
		OwnerName:               s.OwnerName,
		Balance:                 s.Balance,
		Currency:                s.Currency,
		Status:                  s.Status,
		ProcessedTransactionIDs: make(map[string]struct{}),
		Version:                 s.LastEventNumber,
	}
}

// Marshal encodes the snapshot for storage.
func (s Snapshot) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, NewSerializationError("Snapshot", "serialize", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a stored snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, NewSerializationError("Snapshot", "deserialize", err)
	}
	return s, nil
}

// ShouldSnapshot reports whether an account that just reached version
// should be snapshotted, given the version of its last snapshot (0 if
// none) and the snapshot interval. An account snapshots exactly when its
// version lands on a positive multiple of the interval it has not
// snapshotted at yet; a multi-event append that jumps over a multiple
// waits for the next one.
func ShouldSnapshot(version, lastSnapshotVersion, interval int64) bool {
	if interval <= 0 {
		return false
	}
	return version > lastSnapshotVersion && version%interval == 0
}
