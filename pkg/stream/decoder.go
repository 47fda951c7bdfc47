package stream

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
)

// ErrMalformedFrame is returned for frames that cannot be decoded:
// unparseable envelope or base64, truncated buffer, or an unsupported
// wire type. The feed drops such frames and keeps the connection.
var ErrMalformedFrame = errors.New("malformed pricing frame")

// protobuf wire types
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

// fieldSpec binds a field number to its wire type and event destination.
// A frame field whose wire type disagrees with the table is skipped, not
// an error; the provider occasionally repurposes numbers.
type fieldSpec struct {
	wire   uint64
	zigzag bool
	setStr func(*PriceEvent, string)
	setNum func(*PriceEvent, float64)
	setInt func(*PriceEvent, int64)
}

// pricingFields is the published field layout of the pricing payload.
// Numbers absent here are skipped by wire type, which keeps the decoder
// forward compatible with schema additions.
var pricingFields = map[uint64]fieldSpec{
	1:  {wire: wireBytes, setStr: func(e *PriceEvent, v string) { e.ID = v }},
	2:  {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.Price = &v }},
	3:  {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.Time = &v }},
	4:  {wire: wireBytes, setStr: func(e *PriceEvent, v string) { e.Currency = &v }},
	5:  {wire: wireBytes, setStr: func(e *PriceEvent, v string) { e.Exchange = &v }},
	6:  {wire: wireVarint, setInt: func(e *PriceEvent, v int64) { e.QuoteType = &v }},
	7:  {wire: wireVarint, setInt: func(e *PriceEvent, v int64) { e.MarketHours = &v }},
	8:  {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.ChangePercent = &v }},
	9:  {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.DayVolume = &v }},
	10: {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.DayHigh = &v }},
	11: {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.DayLow = &v }},
	12: {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.Change = &v }},
	13: {wire: wireBytes, setStr: func(e *PriceEvent, v string) { e.ShortName = &v }},
	14: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.ExpireDate = &v }},
	15: {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.OpenPrice = &v }},
	16: {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.PreviousClose = &v }},
	17: {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.StrikePrice = &v }},
	18: {wire: wireBytes, setStr: func(e *PriceEvent, v string) { e.UnderlyingSymbol = &v }},
	19: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.OpenInterest = &v }},
	20: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.OptionsType = &v }},
	21: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.MiniOption = &v }},
	22: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.LastSize = &v }},
	23: {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.Bid = &v }},
	24: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.BidSize = &v }},
	25: {wire: wireFixed32, setNum: func(e *PriceEvent, v float64) { e.Ask = &v }},
	26: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.AskSize = &v }},
	27: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.PriceHint = &v }},
	28: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.Volume24Hr = &v }},
	29: {wire: wireVarint, zigzag: true, setInt: func(e *PriceEvent, v int64) { e.VolumeAllCurrencies = &v }},
	30: {wire: wireBytes, setStr: func(e *PriceEvent, v string) { e.FromCurrency = &v }},
	31: {wire: wireBytes, setStr: func(e *PriceEvent, v string) { e.LastMarket = &v }},
	32: {wire: wireFixed64, setNum: func(e *PriceEvent, v float64) { e.CirculatingSupply = &v }},
	33: {wire: wireFixed64, setNum: func(e *PriceEvent, v float64) { e.MarketCap = &v }},
}

// envelope is the text frame wrapper around the binary payload.
type envelope struct {
	Message string `json:"message"`
}

// DecodeFrame parses one inbound text frame: the JSON envelope, the
// base64 payload, then the binary pricing message.
func DecodeFrame(frame []byte) (*PriceEvent, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, ErrMalformedFrame
	}
	if env.Message == "" {
		return nil, ErrMalformedFrame
	}
	payload, err := base64.StdEncoding.DecodeString(env.Message)
	if err != nil {
		return nil, ErrMalformedFrame
	}
	return DecodeEvent(payload)
}

// DecodeEvent decodes the binary pricing payload into an event.
func DecodeEvent(payload []byte) (*PriceEvent, error) {
	r := &reader{buf: payload}
	event := &PriceEvent{}

	for !r.done() {
		tag, err := r.readVarint()
		if err != nil {
			return nil, err
		}
		field := tag >> 3
		wire := tag & 7

		spec, known := pricingFields[field]
		if !known || spec.wire != wire {
			if err := r.skip(wire); err != nil {
				return nil, err
			}
			continue
		}

		switch wire {
		case wireVarint:
			raw, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			v := int64(raw)
			if spec.zigzag {
				v = zigzag(raw)
			}
			spec.setInt(event, v)
		case wireFixed32:
			raw, err := r.readFixed32()
			if err != nil {
				return nil, err
			}
			spec.setNum(event, float64(math.Float32frombits(raw)))
		case wireFixed64:
			raw, err := r.readFixed64()
			if err != nil {
				return nil, err
			}
			spec.setNum(event, math.Float64frombits(raw))
		case wireBytes:
			raw, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			spec.setStr(event, string(raw))
		}
	}
	return event, nil
}

// zigzag decodes a zig-zag-encoded signed integer.
func zigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// reader is a cursor over the binary payload. Every read that would run
// past the buffer fails with ErrMalformedFrame.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) done() bool {
	return r.pos >= len(r.buf)
}

func (r *reader) readVarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if r.pos >= len(r.buf) || shift > 63 {
			return 0, ErrMalformedFrame
		}
		b := r.buf[r.pos]
		r.pos++
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

func (r *reader) readFixed32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, ErrMalformedFrame
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) readFixed64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, ErrMalformedFrame
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) readBytes() ([]byte, error) {
	n, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)-r.pos) {
		return nil, ErrMalformedFrame
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// skip consumes an unrecognized field by its wire type's length rule.
func (r *reader) skip(wire uint64) error {
	switch wire {
	case wireVarint:
		_, err := r.readVarint()
		return err
	case wireFixed64:
		_, err := r.readFixed64()
		return err
	case wireBytes:
		_, err := r.readBytes()
		return err
	case wireFixed32:
		_, err := r.readFixed32()
		return err
	default:
		// Group wire types are not used by the provider.
		return ErrMalformedFrame
	}
}
