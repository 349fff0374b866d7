package hotpatch

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// checkedCall implements checked-mode dispatch: instead of trusting the
// 128-bit identity hash alone to have pinned down the C-ABI shape of a
// site's arguments and return values, it round-trips every value
// through msgpack's self-describing encoding before and after the real
// call. A marshal or unmarshal failure here means the hash check let
// through a signature change it should have caught — a programmer
// error, not a recoverable one, so this panics rather than returning an
// error.
func checkedCall(site string, fn reflect.Value, ftype reflect.Type, args []reflect.Value) []reflect.Value {
	wire, err := encodeTuple(args)
	if err != nil {
		panic(fmt.Sprintf("hotpatch: checked call %q: marshal args: %v", site, err))
	}
	callArgs, err := decodeTuple(wire, ftype.NumIn(), ftype.In)
	if err != nil {
		panic(fmt.Sprintf("hotpatch: checked call %q: unmarshal args: %v", site, err))
	}

	results := fn.Call(callArgs)

	wireOut, err := encodeTuple(results)
	if err != nil {
		panic(fmt.Sprintf("hotpatch: checked call %q: marshal results: %v", site, err))
	}
	out, err := decodeTuple(wireOut, ftype.NumOut(), ftype.Out)
	if err != nil {
		panic(fmt.Sprintf("hotpatch: checked call %q: unmarshal results: %v", site, err))
	}
	return out
}

// encodeTuple marshals vals as a msgpack array, one element at a time,
// the self-describing wire form the far side of a real dlopen boundary
// would decode.
func encodeTuple(vals []reflect.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(len(vals)); err != nil {
		return nil, err
	}
	for _, v := range vals {
		if err := enc.Encode(v.Interface()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// decodeTuple decodes a msgpack array produced by encodeTuple back into
// exactly n values, each into the concrete type typeAt(i) names — unlike
// decoding into a bare []any, this gives every element its declared
// static type back instead of whatever msgpack would infer generically.
func decodeTuple(wire []byte, n int, typeAt func(int) reflect.Type) ([]reflect.Value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(wire))
	count, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if count != n {
		return nil, fmt.Errorf("expected %d values, wire carried %d", n, count)
	}

	out := make([]reflect.Value, n)
	for i := 0; i < n; i++ {
		target := reflect.New(typeAt(i))
		if err := dec.Decode(target.Interface()); err != nil {
			return nil, err
		}
		out[i] = target.Elem()
	}
	return out, nil
}
