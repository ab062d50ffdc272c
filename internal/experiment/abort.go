package experiment

import (
	"context"

	"github.com/san-kum/knobsuite/internal/bus"
)

// AbortFunc is polled between moves; returning true ends the experiment.
type AbortFunc func(ctx context.Context) (bool, error)

// Retrier repeats op while it fails with a bus error. *suite.Suite is one.
type Retrier interface {
	Retry(ctx context.Context, channel int, op func(context.Context) error) error
}

// SwitchAbort watches an ADC channel wired to a switch and aborts once it
// reads above threshold. Reads go through retry when it is not nil.
func SwitchAbort(drv bus.Driver, channel int, threshold uint8, retry Retrier) AbortFunc {
	return func(ctx context.Context) (bool, error) {
		var v uint8
		read := func(ctx context.Context) error {
			var err error
			v, err = drv.ReadPosition(ctx, channel)
			return err
		}
		var err error
		if retry != nil {
			err = retry.Retry(ctx, channel, read)
		} else {
			err = read(ctx)
		}
		if err != nil {
			return false, err
		}
		return v > threshold, nil
	}
}
