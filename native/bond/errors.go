package bond

import (
	"errors"
	"fmt"

	nativecommon "bondvault/native/common"
)

var (
	// ErrValidation covers malformed input, unknown claims and locked claims.
	ErrValidation = errors.New("bond: validation failed")
	// ErrInsufficientReserve is returned when a deposit would commit more
	// reserve asset than is uncommitted in custody.
	ErrInsufficientReserve = errors.New("bond: insufficient uncommitted reserve")
	// ErrArithmetic signals division by zero, overflow, or obligations that
	// exceed holdings.
	ErrArithmetic = errors.New("bond: arithmetic error")
	// ErrTransferFailed wraps a failure reported by the asset transfer
	// primitive.
	ErrTransferFailed = errors.New("bond: asset transfer failed")
	// ErrAccessDenied is returned for owner-only operations invoked by
	// anyone else.
	ErrAccessDenied = errors.New("bond: access denied")
	// ErrPaused is returned for deposits while the module is paused.
	ErrPaused = fmt.Errorf("bond: %w", nativecommon.ErrModulePaused)

	errNilState  = errors.New("bond engine: state not configured")
	errNilAssets = errors.New("bond engine: assets not configured")
	errNilOracle = errors.New("bond engine: oracle not configured")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func arithmeticf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrArithmetic, fmt.Sprintf(format, args...))
}

// ErrorReason maps an error onto a stable class name used for metrics and
// transport status codes.
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientReserve):
		return "insufficient_reserve"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	default:
		return "internal"
	}
}
