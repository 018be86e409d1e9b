package sae

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// fieldFunc разбирает значение одного поля и возвращает число прочитанных байт.
// Ноль означает, что поле не обработано и его нужно пропустить.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func parseFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireErr(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return wireErr(n)
			}
		}
		b = b[n:]
	}
	return nil
}

func wireErr(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}

func typeErr(want, got protowire.Type) error {
	return fmt.Errorf("%w: wire type %d, expected %d", ErrMalformed, got, want)
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, typeErr(protowire.BytesType, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireErr(n)
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, typeErr(protowire.VarintType, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, wireErr(n)
	}
	return v, n, nil
}

func consumeFixed32(typ protowire.Type, b []byte) (uint32, int, error) {
	if typ != protowire.Fixed32Type {
		return 0, 0, typeErr(protowire.Fixed32Type, typ)
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, 0, wireErr(n)
	}
	return v, n, nil
}

func consumeFixed64(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, typeErr(protowire.Fixed64Type, typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, wireErr(n)
	}
	return v, n, nil
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendFloat(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(float32(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}
