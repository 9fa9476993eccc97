package staging

import (
	"errors"
	"fmt"
)

// ErrPromotion is the sentinel for every *PromotionError.
var ErrPromotion = errors.New("promotion failed")

// ErrSnapshot is returned when the target graph could not be exported
// before promotion. The target is untouched.
var ErrSnapshot = errors.New("pre-promotion snapshot failed")

// Stage names the promotion step that failed.
type Stage string

const (
	StageClear  Stage = "clear"
	StageLoad   Stage = "load"
	StageVerify Stage = "verify"
)

// PromotionError reports a failed promotion and the outcome of the
// rollback that followed it.
type PromotionError struct {
	Repository string
	Graph      string
	Stage      Stage
	Err        error

	// RolledBack is true when the snapshot was restored.
	RolledBack bool

	// RollbackErr is set when restoring the snapshot failed. The target
	// graph is then in an unknown state.
	RollbackErr error

	// SnapshotStatements is the number of statements in the pre-clear
	// snapshot.
	SnapshotStatements int
}

func (e *PromotionError) Error() string {
	target := e.Repository
	if e.Graph != "" {
		target += " <" + e.Graph + ">"
	}
	msg := fmt.Sprintf("promotion of %s failed at %s: %v", target, e.Stage, e.Err)
	switch {
	case e.RollbackErr != nil:
		msg += fmt.Sprintf("; rollback failed: %v", e.RollbackErr)
	case e.RolledBack:
		msg += fmt.Sprintf("; rolled back to %d statements", e.SnapshotStatements)
	}
	return msg
}

func (e *PromotionError) Unwrap() []error {
	return []error{ErrPromotion, e.Err}
}
