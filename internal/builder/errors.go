package builder

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/ladder/internal/rules"
)

var (
	// ErrSequenceInvalid matches a PreconditionError carrying sequence errors.
	ErrSequenceInvalid = errors.New("reward sequence is invalid")

	// ErrSaveFailed wraps store failures during save. The session is unchanged.
	ErrSaveFailed = errors.New("failed to save the program")

	// ErrDeleteFailed wraps store failures during a confirmed delete.
	ErrDeleteFailed = errors.New("failed to delete the program")

	// ErrDeleteNotConfirmed is returned when a delete is attempted without a
	// valid confirmation token. Nothing is deleted.
	ErrDeleteNotConfirmed = errors.New("program deletion was not confirmed")

	ErrUnknownReward    = errors.New("unknown reward")
	ErrUnknownCondition = errors.New("unknown condition")
)

// PreconditionError aborts a save. Reasons holds one entry per failed
// precondition in reporting order.
type PreconditionError struct {
	Reasons  []rules.Violation
	Sequence rules.ValidationErrors
}

func (e *PreconditionError) Error() string {
	if len(e.Reasons) == 0 {
		return "program cannot be saved"
	}
	if len(e.Reasons) == 1 {
		return e.Reasons[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e.Reasons[0].Error(), len(e.Reasons)-1)
}

// Is reports ErrSequenceInvalid when the save was blocked by sequence errors.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrSequenceInvalid && len(e.Sequence) > 0
}
