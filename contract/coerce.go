package contract

import (
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ErrArgument reports a value that cannot be converted to its ABI type.
var ErrArgument = errors.New("contract: bad argument")

var bigType = reflect.TypeOf((*big.Int)(nil))

// coerceArgs converts plain Go values (ints, strings, named byte arrays)
// into the exact Go types go-ethereum's packer expects for args.
func coerceArgs(args abi.Arguments, values []interface{}) ([]interface{}, error) {
	if len(args) != len(values) {
		return nil, errors.Wrapf(ErrArgument, "want %d arguments, got %d", len(args), len(values))
	}
	out := make([]interface{}, len(values))
	for i, arg := range args {
		v, err := coerce(arg.Type, values[i])
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d (%s %s)", i, arg.Type.String(), arg.Name)
		}
		out[i] = v
	}
	return out, nil
}

func coerce(t abi.Type, v interface{}) (interface{}, error) {
	want := t.GetType()
	integer := t.T == abi.IntTy || t.T == abi.UintTy
	if v != nil && reflect.TypeOf(v) == want && !integer {
		return v, nil
	}
	switch t.T {
	case abi.AddressTy:
		return toAddress(v)
	case abi.UintTy, abi.IntTy:
		return toInteger(t, v)
	case abi.FixedBytesTy:
		return toFixedBytes(t, v)
	case abi.SliceTy, abi.ArrayTy:
		return toList(t, v)
	}
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Type().ConvertibleTo(want) {
		return rv.Convert(want).Interface(), nil
	}
	return nil, errors.Wrapf(ErrArgument, "cannot use %T as %s", v, t.String())
}

func toAddress(v interface{}) (interface{}, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case *common.Address:
		return *a, nil
	case string:
		if !common.IsHexAddress(a) {
			return nil, errors.Wrapf(ErrArgument, "invalid address %q", a)
		}
		return common.HexToAddress(a), nil
	case interface{ Addr() common.Address }:
		return a.Addr(), nil
	}
	return nil, errors.Wrapf(ErrArgument, "cannot use %T as address", v)
}

func toBig(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		return n, n != nil
	case big.Int:
		return &n, true
	case int:
		return big.NewInt(int64(n)), true
	case int8:
		return big.NewInt(int64(n)), true
	case int16:
		return big.NewInt(int64(n)), true
	case int32:
		return big.NewInt(int64(n)), true
	case int64:
		return big.NewInt(n), true
	case uint:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	}
	return nil, false
}

func toInteger(t abi.Type, v interface{}) (interface{}, error) {
	n, ok := toBig(v)
	if !ok {
		return nil, errors.Wrapf(ErrArgument, "cannot use %T as %s", v, t.String())
	}
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, errors.Wrapf(ErrArgument, "negative value %s for %s", n, t.String())
	}
	if !fits(t, n) {
		return nil, errors.Wrapf(ErrArgument, "value %s overflows %s", n, t.String())
	}
	want := t.GetType()
	if want == bigType {
		return new(big.Int).Set(n), nil
	}
	rv := reflect.New(want).Elem()
	if t.T == abi.UintTy {
		rv.SetUint(n.Uint64())
	} else {
		rv.SetInt(n.Int64())
	}
	return rv.Interface(), nil
}

// fits reports whether n is within the range of the integer type t. Signed
// types span [-2^(size-1), 2^(size-1)-1].
func fits(t abi.Type, n *big.Int) bool {
	if t.T == abi.UintTy {
		return n.BitLen() <= t.Size
	}
	bound := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	if n.Cmp(new(big.Int).Neg(bound)) < 0 {
		return false
	}
	return n.Cmp(bound) < 0
}

func toFixedBytes(t abi.Type, v interface{}) (interface{}, error) {
	var raw []byte
	switch b := v.(type) {
	case string:
		raw = []byte(b)
	case []byte:
		raw = b
	case common.Hash:
		raw = b.Bytes()
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Array || rv.Type().Elem().Kind() != reflect.Uint8 {
			return nil, errors.Wrapf(ErrArgument, "cannot use %T as %s", v, t.String())
		}
		raw = make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(raw), rv)
	}
	if len(raw) > t.Size {
		return nil, errors.Wrapf(ErrArgument, "%d bytes do not fit %s", len(raw), t.String())
	}
	// Short values are right-padded, as ethers does for UTF-8 codes.
	out := reflect.New(t.GetType()).Elem()
	reflect.Copy(out, reflect.ValueOf(raw))
	return out.Interface(), nil
}

func toList(t abi.Type, v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, errors.Wrapf(ErrArgument, "cannot use %T as %s", v, t.String())
	}
	if t.T == abi.ArrayTy && rv.Len() != t.Size {
		return nil, errors.Wrapf(ErrArgument, "want %d elements for %s, got %d", t.Size, t.String(), rv.Len())
	}
	want := t.GetType()
	var out reflect.Value
	if t.T == abi.SliceTy {
		out = reflect.MakeSlice(want, rv.Len(), rv.Len())
	} else {
		out = reflect.New(want).Elem()
	}
	for i := 0; i < rv.Len(); i++ {
		elem, err := coerce(*t.Elem, rv.Index(i).Interface())
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		out.Index(i).Set(reflect.ValueOf(elem))
	}
	return out.Interface(), nil
}
