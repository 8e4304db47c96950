package astarte

import "bytes"

// Equal reports whether a received value matches the expected one. It is
// structural: arrays compare element-wise in order, blobs by exact bytes,
// timestamps by instant. Integer and double values compare numerically
// across kinds, mirroring the cloud API's loose JSON number typing. It is
// total and symmetric.
func Equal(received, expected Value) bool {
	if received.kind == KindArray && expected.kind == KindArray {
		if len(received.arr) != len(expected.arr) {
			return false
		}
		for i := range received.arr {
			if !Equal(received.arr[i], expected.arr[i]) {
				return false
			}
		}
		return true
	}

	if isNumeric(received.kind) && isNumeric(expected.kind) {
		if received.kind == KindInteger && expected.kind == KindInteger {
			return received.i == expected.i
		}
		return received.float() == expected.float()
	}

	if received.kind != expected.kind {
		return false
	}

	switch received.kind {
	case KindBool:
		return received.b == expected.b
	case KindString:
		return received.s == expected.s
	case KindBlob:
		return bytes.Equal(received.blob, expected.blob)
	case KindTimestamp:
		return received.t.Equal(expected.t)
	default:
		return false
	}
}

func isNumeric(k Kind) bool {
	return k == KindInteger || k == KindDouble
}

func (v Value) float() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}
