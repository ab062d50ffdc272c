package suite

import "github.com/san-kum/knobsuite/internal/fault"

var (
	ErrArity        = fault.ErrArity
	ErrDidNotSettle = fault.ErrDidNotSettle
)

type (
	ArityError        = fault.ArityError
	DidNotSettleError = fault.DidNotSettleError
)
