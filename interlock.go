package gateway

import "fmt"

// InterlockRule decides whether value may be applied to dp. A non-nil error
// denies the control. Rules run with the session lock held and must not block.
type InterlockRule func(dp *Datapoint, value *MmsValue) error

// DefaultInterlock is the data-class interlock applied when a client requests
// the interlock check:
//   - the current state must be operable (good quality, not blocked, not test)
//   - a double point must not be in intermediate or bad position
//   - setpoints must lie within the configured min/max
func DefaultInterlock(dp *Datapoint, value *MmsValue) error {
	if dp.value == nil {
		return fmt.Errorf("%s: state unknown", dp.ID)
	}
	if !dp.quality.IsOperable() {
		return fmt.Errorf("%s: state not operable (%s)", dp.ID, dp.quality)
	}
	switch dp.CDC {
	case CDC_DPC:
		pos, err := dp.value.Int64()
		if err != nil {
			return fmt.Errorf("%s: %w", dp.ID, err)
		}
		if Dbpos(pos) == DBPOS_INTERMEDIATE_STATE || Dbpos(pos) == DBPOS_BAD_STATE {
			return fmt.Errorf("%s: switch in %s", dp.ID, Dbpos(pos))
		}
	case CDC_APC, CDC_INC, CDC_ENC:
		f, err := value.Float64()
		if err != nil {
			return fmt.Errorf("%s: %w", dp.ID, err)
		}
		if dp.Min != nil && f < *dp.Min {
			return fmt.Errorf("%s: setpoint %g below minimum %g", dp.ID, f, *dp.Min)
		}
		if dp.Max != nil && f > *dp.Max {
			return fmt.Errorf("%s: setpoint %g above maximum %g", dp.ID, f, *dp.Max)
		}
	}
	return nil
}
