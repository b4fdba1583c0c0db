package namespace

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeBlockID derives the block id for block blockNum of the file at path.
// The id is the path immediately followed by the decimal block number, with
// no separator: EncodeBlockID("/a/b/c.txt", 0) == "/a/b/c.txt0".
//
// Because there is no separator the encoding is ambiguous when the final
// path component already ends in a digit ("/f1" block 0 and "/f" block 10
// both encode to "/f10"). DecodeBlockID always prefers the longest run of
// trailing digits.
func EncodeBlockID(path string, blockNum int) string {
	return path + strconv.Itoa(blockNum)
}

// DecodeBlockID recovers the file path and block number from a block id by
// scanning the trailing run of digits in the final path component.
//
// Returns ErrInvalidBlockID if the final component has no trailing digits,
// consists only of digits, or the number does not fit in an int.
//
// Example:
//
//	path, n, err := DecodeBlockID("/a/b/c.txt12")
//	// path == "/a/b/c.txt", n == 12
func DecodeBlockID(blockID string) (string, int, error) {
	base := blockID[strings.LastIndex(blockID, Delimiter)+1:]

	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	if i == len(base) || i == 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidBlockID, blockID)
	}

	digits := base[i:]
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %v", ErrInvalidBlockID, blockID, err)
	}

	return blockID[:len(blockID)-len(digits)], n, nil
}
