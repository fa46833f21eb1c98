package exchange

import "strings"

// RejectKind classifies an order rejection so the engine reasons on variants
// instead of matching API error strings itself. Classification happens once,
// here at the façade boundary.
type RejectKind int

const (
	// RejectNone: the order was not rejected.
	RejectNone RejectKind = iota
	// RejectNoMatch: the IOC order crossed nothing.
	RejectNoMatch
	// RejectBalance: balance/allowance error. May be a false positive when
	// shares are locked in another open order — never trust it alone.
	RejectBalance
	// RejectDust: the encoded order amounts round to zero; the position is
	// effectively closed.
	RejectDust
	// RejectUnknown: anything else.
	RejectUnknown
)

func (k RejectKind) String() string {
	switch k {
	case RejectNone:
		return "none"
	case RejectNoMatch:
		return "no_match"
	case RejectBalance:
		return "balance"
	case RejectDust:
		return "dust"
	default:
		return "unknown"
	}
}

var balanceSubstrings = []string{
	"not enough balance",
	"insufficient balance",
	"allowance",
}

var dustSubstrings = []string{
	"invalid amounts",
	"maker and taker",
	"must be higher than 0",
}

var noMatchSubstrings = []string{
	"no orders found to match",
	"fak",
	"fok",
}

// ClassifyReject maps an API errorMsg to a RejectKind. Dust wins over
// balance wins over no-match, mirroring how the branches consume them.
func ClassifyReject(errorMsg string) RejectKind {
	if errorMsg == "" {
		return RejectNone
	}
	lower := strings.ToLower(errorMsg)
	for _, s := range dustSubstrings {
		if strings.Contains(lower, s) {
			return RejectDust
		}
	}
	for _, s := range balanceSubstrings {
		if strings.Contains(lower, s) {
			return RejectBalance
		}
	}
	for _, s := range noMatchSubstrings {
		if strings.Contains(lower, s) {
			return RejectNoMatch
		}
	}
	return RejectUnknown
}
