package pipeline

import (
	"fmt"

	"savekit/internal/backup"
	"savekit/internal/document"
	"savekit/internal/saveerr"
)

type State int

const (
	Idle State = iota
	Loading
	LoadSucceeded
	LoadFailed
	BackupRecovery
	RecoverySucceeded
	RecoveryFailed
	Saving
	SaveSucceeded
	SaveFailed
)

var stateNames = [...]string{
	Idle:              "idle",
	Loading:           "loading",
	LoadSucceeded:     "load_succeeded",
	LoadFailed:        "load_failed",
	BackupRecovery:    "backup_recovery",
	RecoverySucceeded: "recovery_succeeded",
	RecoveryFailed:    "recovery_failed",
	Saving:            "saving",
	SaveSucceeded:     "save_succeeded",
	SaveFailed:        "save_failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Source string

const (
	SourceNone    Source = "none"
	SourcePrimary Source = "primary"
	SourceBackup  Source = "backup"
)

// LoadFailure describes one source that could not be loaded.
type LoadFailure struct {
	Source    Source
	Iteration int
	Err       error
}

func (f LoadFailure) Error() string {
	if f.Source == SourceBackup {
		return fmt.Sprintf("backup %d: %v", f.Iteration, f.Err)
	}
	return fmt.Sprintf("%s: %v", f.Source, f.Err)
}

type LoadReport struct {
	Source    Source
	Iteration int
	Migrated  bool
	Issues    []*saveerr.Error
	Failures  []LoadFailure
	Document  *document.Document
}

type SaveReport struct {
	Bytes     int
	Backup    backup.Record
	BackupErr error
	Issues    []*saveerr.Error
	Document  *document.Document
}

// Events are the hooks external callers observe. Handlers run after the
// Manager releases its lock, in the order the events occurred, so they may
// call back into the Manager.
type Events struct {
	OnGameLoadCalled           func()
	OnGameLoadFailed           func(LoadFailure)
	OnGameLoadFailedCompletely func(*LoadReport)
	OnGameLoadCompleted        func(*LoadReport)
	OnGameSaveCompleted        func(*SaveReport)
	OnGameSaveFailed           func(error)
	OnStateChange              func(from, to State)
}
