package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexInt decodes a JSON field that observed traffic sends as either a
// number or a numeric string (chores_limit, gpus counts, owner). It
// marshals back out as a plain JSON number.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("flexint: cannot decode %s as number or string", data)
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("flexint: cannot parse %q as integer: %w", s, err)
	}
	*f = FlexInt(n)
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(f))
}

func (f FlexInt) Int() int { return int(f) }
