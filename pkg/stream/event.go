package stream

// PriceEvent is one decoded pricing frame. Optional fields are pointers:
// a field absent from the frame stays nil rather than reading as zero,
// since zero is a valid price, size, or volume.
type PriceEvent struct {
	// ID is the instrument identifier and the only field every frame
	// carries.
	ID string

	Price         *float64
	Time          *int64
	Currency      *string
	Exchange      *string
	QuoteType     *int64
	MarketHours   *int64
	ChangePercent *float64
	DayVolume     *int64
	DayHigh       *float64
	DayLow        *float64
	Change        *float64
	ShortName     *string
	ExpireDate    *int64
	OpenPrice     *float64
	PreviousClose *float64
	StrikePrice   *float64

	UnderlyingSymbol *string
	OpenInterest     *int64
	OptionsType      *int64
	MiniOption       *int64
	LastSize         *int64

	Bid     *float64
	BidSize *int64
	Ask     *float64
	AskSize *int64

	PriceHint           *int64
	Volume24Hr          *int64
	VolumeAllCurrencies *int64
	FromCurrency        *string
	LastMarket          *string
	CirculatingSupply   *float64
	MarketCap           *float64
}
