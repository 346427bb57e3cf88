package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"runtime/debug"
)

func Fatal(v any) {
	fmt.Fprintf(os.Stderr, "mcld:\n\t\033[0;1;31mfatal\033[0m: %v\n", v)
	if os.Getenv("MCLD_DEBUG") != "" {
		debug.PrintStack()
	}
	os.Exit(1)
}

func MustNo(err error) {
	if err != nil {
		Fatal(err.Error())
	}
}

func Read[T any](data []byte) (val T) {
	reader := bytes.NewReader(data)
	err := binary.Read(reader, binary.LittleEndian, &val)
	MustNo(err)
	return val
}

// ReadSlice splits data into sz-sized records and decodes each of them.
func ReadSlice[T any](data []byte, sz int) []T {
	nums := len(data) / sz
	res := make([]T, 0, nums)
	for nums > 0 {
		res = append(res, Read[T](data))
		data = data[sz:]
		nums--
	}
	return res
}

func Write[T any](data []byte, e T) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, binary.LittleEndian, e)
	MustNo(err)
	copy(data, buf.Bytes())
}

func AlignTo(val, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) &^ (align - 1)
}

// NextPowerOf2 returns the smallest power of two that is >= n (1 for n == 0).
func NextPowerOf2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(n-1)
}

func Bit[T uint16 | uint32 | uint64](val T, pos int) T {
	return (val >> pos) & 1
}

func Bits[T uint16 | uint32 | uint64](val T, hi, lo int) T {
	return (val >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func SignExtend(val uint64, size int) uint64 {
	return uint64(int64(val<<(63-size)) >> (63 - size))
}

// IsInt reports whether v fits in a two's complement integer of n bits.
func IsInt(v int64, n int) bool {
	if n >= 64 {
		return true
	}
	min := -(int64(1) << (n - 1))
	max := int64(1)<<(n-1) - 1
	return v >= min && v <= max
}

// IsUint reports whether v fits in an unsigned integer of n bits.
func IsUint(v uint64, n int) bool {
	if n >= 64 {
		return true
	}
	return v>>n == 0
}
