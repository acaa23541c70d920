package httpout

import "time"

// ErrorClass is one of the wire-protocol error categories the reply parser
// can classify a failed exchange into (spec.md §4.6).
type ErrorClass int

const (
	HTTPInvalid ErrorClass = iota
	HTTP3xx
	HTTP4xx
	HTTP5xx
	HTTPUnknown
	TypeUnknown
	TypeInvalid
	MusicInvalid
	Music2xx
	Music3xx
	MusicUnknown
	Transport
)

func (c ErrorClass) String() string {
	switch c {
	case HTTPInvalid:
		return "HTTP_INVALID"
	case HTTP3xx:
		return "HTTP_3xx"
	case HTTP4xx:
		return "HTTP_4xx"
	case HTTP5xx:
		return "HTTP_5xx"
	case HTTPUnknown:
		return "HTTP_UNKNOWN"
	case TypeUnknown:
		return "TYPE_UNKNOWN"
	case TypeInvalid:
		return "TYPE_INVALID"
	case MusicInvalid:
		return "MUSIC_INVALID"
	case Music2xx:
		return "MUSIC_2xx"
	case Music3xx:
		return "MUSIC_3xx"
	case MusicUnknown:
		return "MUSIC_UNKNOWN"
	case Transport:
		return "TRANSPORT"
	default:
		return "UNKNOWN"
	}
}

type backoffSpec struct {
	initial time.Duration
	ceiling time.Duration
}

// backoffTable is the per-error-class (initial, ceiling) table from
// spec.md §4.6, verbatim.
var backoffTable = map[ErrorClass]backoffSpec{
	HTTPInvalid:  {900 * time.Second, 1800 * time.Second},
	HTTP3xx:      {600 * time.Second, 3600 * time.Second},
	HTTP4xx:      {900 * time.Second, 3600 * time.Second},
	HTTP5xx:      {300 * time.Second, 1800 * time.Second},
	HTTPUnknown:  {900 * time.Second, 1800 * time.Second},
	TypeUnknown:  {600 * time.Second, 3600 * time.Second},
	TypeInvalid:  {600 * time.Second, 3600 * time.Second},
	MusicInvalid: {600 * time.Second, 1800 * time.Second},
	Music2xx:     {300 * time.Second, 1800 * time.Second},
	Music3xx:     {900 * time.Second, 3600 * time.Second},
	MusicUnknown: {600 * time.Second, 1800 * time.Second},
	Transport:    {900 * time.Second, 1800 * time.Second},
}

// backoffState tracks the single shared lastWait/waitTill pair an output
// carries across calls; which (initial, ceiling) pair feeds a given
// computation depends on the class of the failure that triggered it.
// Grounded on original_source/out_http.c's cfg->lastWait/cfg->waitTill.
type backoffState struct {
	lastWait time.Duration
	waitTill time.Time
}

// recordFailure applies wait := clamp(lastWait < initial(class) ? initial(class) : lastWait*2, ceiling(class)).
// The first failure of a class is not doubled: it starts the backoff at
// initial(class); only a failure that arrives while already at or past
// initial(class) doubles the previous wait.
func (b *backoffState) recordFailure(class ErrorClass, now time.Time) {
	spec := backoffTable[class]
	var wait time.Duration
	if b.lastWait < spec.initial {
		wait = spec.initial
	} else {
		wait = b.lastWait * 2
	}
	if wait > spec.ceiling {
		wait = spec.ceiling
	}
	b.lastWait = wait
	b.waitTill = now.Add(wait)
}

// recordSuccess resets backoff state on a fully successful exchange.
func (b *backoffState) recordSuccess() {
	b.lastWait = 0
	b.waitTill = time.Time{}
}

// inBackoff reports whether now is still inside the current backoff window.
func (b *backoffState) inBackoff(now time.Time) bool {
	return !b.waitTill.IsZero() && now.Before(b.waitTill)
}
