package perfetto

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when bytes do not parse as protobuf wire data.
var ErrMalformed = errors.New("perfetto: malformed message")

// field is one decoded wire field. raw holds the complete encoding, tag included.
type field struct {
	num protowire.Number
	typ protowire.Type
	raw []byte
	u   uint64
	b   []byte
}

func (f field) isVarint(num protowire.Number) bool {
	return f.num == num && f.typ == protowire.VarintType
}

func (f field) isBytes(num protowire.Number) bool {
	return f.num == num && f.typ == protowire.BytesType
}

func eachField(msg []byte, fn func(f field) error) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		m := protowire.ConsumeFieldValue(num, typ, msg[n:])
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		f := field{num: num, typ: typ, raw: msg[:n+m]}
		val := msg[n : n+m]
		switch typ {
		case protowire.VarintType:
			f.u, _ = protowire.ConsumeVarint(val)
		case protowire.Fixed64Type:
			f.u, _ = protowire.ConsumeFixed64(val)
		case protowire.Fixed32Type:
			v, _ := protowire.ConsumeFixed32(val)
			f.u = uint64(v)
		case protowire.BytesType:
			f.b, _ = protowire.ConsumeBytes(val)
		}
		if err := fn(f); err != nil {
			return err
		}
		msg = msg[n+m:]
	}
	return nil
}

// rewrite re-encodes msg field by field. fn appends the replacement for f to out;
// appending f.raw keeps the field unchanged and returning out unchanged drops it.
func rewrite(msg []byte, fn func(out []byte, f field) ([]byte, error)) ([]byte, error) {
	out := make([]byte, 0, len(msg))
	err := eachField(msg, func(f field) error {
		var err error
		out, err = fn(out, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendInt32 sign-extends v the way protobuf encodes int32 fields.
func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	return appendVarint(b, num, uint64(int64(v)))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// AppendPacket appends one serialized TracePacket to a serialized Trace.
func AppendPacket(trace, packet []byte) []byte {
	return appendBytes(trace, fieldTracePacket, packet)
}

// Packets splits a serialized Trace into its serialized TracePackets.
func Packets(trace []byte) ([][]byte, error) {
	var out [][]byte
	err := eachField(trace, func(f field) error {
		if f.isBytes(fieldTracePacket) {
			out = append(out, f.b)
		}
		return nil
	})
	return out, err
}

// FirstTimestamp returns the timestamp of the first packet that carries one.
func FirstTimestamp(trace []byte) (uint64, bool, error) {
	packets, err := Packets(trace)
	if err != nil {
		return 0, false, err
	}
	for _, p := range packets {
		var (
			ts    uint64
			found bool
		)
		err := eachField(p, func(f field) error {
			if f.isVarint(fieldPacketTimestamp) {
				ts, found = f.u, true
			}
			return nil
		})
		if err != nil {
			return 0, false, err
		}
		if found {
			return ts, true, nil
		}
	}
	return 0, false, nil
}

// Concat joins serialized traces. Trace is a repeated field, so the
// concatenation of two valid traces is itself a valid trace.
func Concat(traces ...[]byte) []byte {
	var n int
	for _, t := range traces {
		n += len(t)
	}
	out := make([]byte, 0, n)
	for _, t := range traces {
		out = append(out, t...)
	}
	return out
}
