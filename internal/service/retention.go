package service

import (
	"context"
	"io"
	"time"

	"github.com/Ning0612/Cargoback/internal/domain"
	"github.com/Ning0612/Cargoback/internal/inspect"
	"github.com/Ning0612/Cargoback/internal/state"
)

// DeleteFrom removes the increment started at threshold and every later
// increment up to, not including, the next FULL backup. Increments are
// removed newest first, each manifest moved to the history directory before
// its archive files are deleted.
func (s *Session) DeleteFrom(ctx context.Context, threshold time.Time) ([]*domain.BackupIncrementManifest, error) {
	started := s.opts.now()

	var deleted []*domain.BackupIncrementManifest
	err := s.locked(state.OperationDelete, func() error {
		h, err := s.History(ctx)
		if err != nil {
			return err
		}
		deleted, err = s.store.DeleteFrom(ctx, h, threshold.Unix())
		for _, m := range deleted {
			s.log.Info("Increment deleted", "increment", m.BaseName(), "type", m.BackupType)
		}
		return err
	})

	s.record(state.RunRecord{
		Operation:     state.OperationDelete,
		StartTime:     started,
		EndTime:       s.opts.now(),
		Status:        runStatus(err, 0),
		FilesArchived: len(deleted),
		Error:         errorText(err),
	})
	if err != nil {
		s.log.Error("Delete failed", "threshold", threshold.Unix(), "deleted", len(deleted), "error", err)
		return deleted, err
	}
	return deleted, nil
}

// Increments returns every manifest of the job, oldest first
func (s *Session) Increments(ctx context.Context) ([]*domain.BackupIncrementManifest, error) {
	h, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	return h.All(), nil
}

// WriteSummaries prints a summary of every increment
func (s *Session) WriteSummaries(ctx context.Context, w io.Writer) error {
	manifests, err := s.Increments(ctx)
	if err != nil {
		return err
	}
	return inspect.WriteSummaries(w, manifests)
}

// WriteContent prints the file records of the newest increment started at
// or before at as tab separated values. The zero time selects the latest.
func (s *Session) WriteContent(ctx context.Context, w io.Writer, at time.Time) error {
	h, err := s.History(ctx)
	if err != nil {
		return err
	}
	now := s.opts.now()
	if at.IsZero() {
		at = now
	}
	m, err := h.LatestAtOrBefore(at, now)
	if err != nil {
		return err
	}
	return inspect.WriteContent(w, m)
}
