// Package lock serialises mutations of the same account or record.
//
// Keys are always acquired in sorted order so two operations touching the
// same set of keys can never deadlock. Callers that need a record lock take
// it in a separate call before locking the accounts the record refers to.
package lock

import (
	"context"
	"errors"
	"sort"
)

var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker acquires every key or none. The returned func releases them.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

func AccountKey(id string) string     { return "account:" + id }
func TransactionKey(id string) string { return "txn:" + id }
func RequestKey(id string) string     { return "request:" + id }

// orderKeys sorts and de-duplicates keys.
func orderKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if k == "" || (i > 0 && k == out[i-1]) {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
