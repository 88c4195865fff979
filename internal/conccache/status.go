package conccache

import (
	"fmt"
	"time"

	apperrors "github.com/corpustools/concord/pkg/errors"
)

// CalcStatus tracks the progress of one concordance calculation, stored
// alongside the cached snapshot. Workers update it after every partial
// save; readers poll it to decide whether enough lines are available.
type CalcStatus struct {
	TaskID      string  `json:"task_id,omitempty"`
	Created     int64   `json:"created"`
	LastUpd     int64   `json:"last_upd"`
	ConcSize    int     `json:"concsize"`
	FullSize    int     `json:"fullsize"`
	RelConcSize float64 `json:"relconcsize"`
	Finished    bool    `json:"finished"`
	Error       string  `json:"error,omitempty"`
}

// NewCalcStatus creates a running status stamped with the current time.
func NewCalcStatus(taskID string) *CalcStatus {
	now := time.Now().Unix()
	return &CalcStatus{
		TaskID:  taskID,
		Created: now,
		LastUpd: now,
	}
}

// TestError returns a non-nil error when the calculation failed or has not
// been updated within timeLimit (a stalled worker).
func (s *CalcStatus) TestError(timeLimit time.Duration) error {
	if s.Error != "" {
		return fmt.Errorf("%w: %s", apperrors.ErrCalcFailed, s.Error)
	}
	if !s.Finished && time.Since(time.Unix(s.LastUpd, 0)) > timeLimit {
		return fmt.Errorf("%w: no status update for more than %v", apperrors.ErrCalcTimeout, timeLimit)
	}
	return nil
}

// HasSomeResult reports whether the calculation satisfies minsize:
// minsize == -1 demands the whole concordance, any other value is a
// minimum number of available lines (0 = the record merely exists).
func (s *CalcStatus) HasSomeResult(minsize int) bool {
	if minsize == -1 {
		return s.Finished
	}
	return s.ConcSize >= minsize
}

// Touch bumps the last-update timestamp.
func (s *CalcStatus) Touch() {
	s.LastUpd = time.Now().Unix()
}
