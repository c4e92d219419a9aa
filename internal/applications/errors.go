package applications

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("application not found")
	ErrInvalidApplication = errors.New("invalid application")

	// ErrRemoteNotFound is returned when the remote indexer does not exist.
	ErrRemoteNotFound = errors.New("remote indexer not found")
	// ErrRemoteRejected is a 4xx validation failure from the application.
	ErrRemoteRejected = errors.New("remote application rejected the request")
	// ErrRemoteUnavailable covers connection failures and 5xx responses.
	ErrRemoteUnavailable = errors.New("remote application unavailable")
	ErrUnauthorized      = errors.New("remote application rejected the api key")

	ErrSchemaMissing      = errors.New("remote application has no schema for protocol")
	ErrUnsupportedVersion = errors.New("remote application version is not supported")
	// ErrSyncConflict is reported when remote state cannot be reconciled
	// with the mapping table, such as two remote indexers claiming one
	// local indexer.
	ErrSyncConflict = errors.New("sync conflict")
)

// SyncError wraps a failed sync operation with its context.
type SyncError struct {
	App       string
	Op        string
	IndexerID int64
	Err       error
}

func (e *SyncError) Error() string {
	if e.IndexerID != 0 {
		return fmt.Sprintf("%s %s indexer %d: %v", e.App, e.Op, e.IndexerID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.App, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func wrapSync(app, op string, indexerID int64, err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{App: app, Op: op, IndexerID: indexerID, Err: err}
}

// IsRemoteRejected reports whether the application refused a write.
func IsRemoteRejected(err error) bool {
	return errors.Is(err, ErrRemoteRejected)
}

// IsConnectionError reports whether the application could not be reached.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, ErrUnauthorized)
}
