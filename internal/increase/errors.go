package increase

import "errors"

var (
	ErrInvalidParameters   = errors.New("invalid evaluation parameters")
	ErrOutOfRangeSample    = errors.New("sample timestamp outside evaluation span")
	ErrOutOfOrderSample    = errors.New("sample timestamp earlier than previous sample")
	ErrInvalidSample       = errors.New("invalid counter sample value")
	ErrDegenerateWindow    = errors.New("window samples share a single timestamp")
	ErrUnmergeablePartials = errors.New("partial states cannot be merged")
	ErrStateConsumed       = errors.New("state already finalized or merged")
)
