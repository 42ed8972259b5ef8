package market

// Side is the direction of an order or position.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Sign returns +1 for buy, -1 for sell.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}
