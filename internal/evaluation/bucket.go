package evaluation

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

// Bucket deterministically assigns a user to one of 100 buckets for a
// flag. It hashes the concatenation of user ID and flag key with MD5,
// takes the first 8 hex characters as a 32-bit integer, and reduces it
// mod 100. The same user lands in different buckets for different flags,
// so rollouts are independent across flags.
//
// MD5 is used for its distribution, not for security.
func Bucket(userID, flagKey string) int {
	sum := md5.Sum([]byte(userID + flagKey))
	prefix := hex.EncodeToString(sum[:])[:8]
	value, _ := strconv.ParseUint(prefix, 16, 32)
	return int(value % 100)
}
