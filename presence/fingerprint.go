package presence

import (
	"sort"
	"strconv"

	"github.com/mitchellh/hashstructure/v2"
)

// Fingerprint returns a short digest of a set of user ids. The order of ids does not matter, ids is not
// modified.
func Fingerprint(ids []string) (string, error) {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	h, err := hashstructure.Hash(sorted, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(h, 36), nil
}
