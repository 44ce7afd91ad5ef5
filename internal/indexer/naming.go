package indexer

import (
	"fmt"
	"strconv"
	"strings"
)

// Physical indices behind the deflector alias are named
//
//	[configured_prefix]_0
//	[configured_prefix]_1
//	[configured_prefix]_2
//	...
//
// with strictly increasing numbers that are never reused. The alias itself is
// [configured_prefix]_deflector and is never a physical index.
const (
	DeflectorSuffix = "deflector"
	Separator       = "_"
)

func BuildIndexName(prefix string, number int) string {
	return prefix + Separator + strconv.Itoa(number)
}

func BuildAliasName(prefix string) string {
	return prefix + Separator + DeflectorSuffix
}

// ExtractIndexNumber parses the sequence number off an index name. It fails
// when the trailing segment is not an integer, which is how unmanaged or
// oddly named indices are told apart during a scan.
func ExtractIndexNumber(indexName string) (int, error) {
	parts := strings.Split(indexName, Separator)

	number, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("no index number in index name %q", indexName)
	}
	return number, nil
}

// IsManagedIndex reports whether a name belongs to this deflector's sequence
// of physical indices. The alias shares the prefix and is explicitly
// excluded.
func IsManagedIndex(prefix, indexName string) bool {
	return indexName != BuildAliasName(prefix) && strings.HasPrefix(indexName, prefix+Separator)
}
