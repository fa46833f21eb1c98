package exchange

import "testing"

func TestClassifyReject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want RejectKind
	}{
		{"", RejectNone},
		{"not enough balance / allowance", RejectBalance},
		{"Insufficient Balance", RejectBalance},
		{"order allowance exceeded", RejectBalance},
		{"invalid amounts", RejectDust},
		{"maker and taker amounts must be higher than 0", RejectDust},
		{"no orders found to match", RejectNoMatch},
		{"internal server error", RejectUnknown},
	}
	for _, c := range cases {
		if got := ClassifyReject(c.msg); got != c.want {
			t.Errorf("ClassifyReject(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestClassifyRejectTIFTagMeansNoMatch(t *testing.T) {
	t.Parallel()

	if got := ClassifyReject("order could not be fully filled, FAK cancelled"); got != RejectNoMatch {
		t.Errorf("FAK tag = %v, want RejectNoMatch", got)
	}
	if got := ClassifyReject("FOK order killed"); got != RejectNoMatch {
		t.Errorf("FOK tag = %v, want RejectNoMatch", got)
	}
}

func TestClassifyRejectDustWinsOverBalance(t *testing.T) {
	t.Parallel()

	// A message naming both conditions must take the terminal dust path.
	if got := ClassifyReject("invalid amounts: not enough balance"); got != RejectDust {
		t.Errorf("got %v, want RejectDust", got)
	}
}
