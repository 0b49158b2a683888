package shard

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Router decides which accounts this node owns. Ownership is
// accountId mod total == index and is fixed for the lifetime of a run;
// changing the topology requires a restart with fresh caches.
type Router struct {
	index int64
	total int64
}

// NewRouter validates the topology and returns a router
func NewRouter(index, total int) (*Router, error) {
	if total < 1 {
		return nil, fmt.Errorf("invalid shard total %d", total)
	}
	if index < 0 || index >= total {
		return nil, fmt.Errorf("shard index %d out of range [0,%d)", index, total)
	}

	r := &Router{index: int64(index), total: int64(total)}
	logrus.WithField("component", "shard").Infof("Shard router: index %d of %d", index, total)
	return r, nil
}

// Owns reports whether this node owns the account. With a single
// shard every account is owned. Negative account ids map onto the
// same residue classes as their positive counterparts.
func (r *Router) Owns(accountID int64) bool {
	residue := accountID % r.total
	if residue < 0 {
		residue += r.total
	}
	return residue == r.index
}

// Index returns this node's shard index
func (r *Router) Index() int { return int(r.index) }

// Total returns the shard count
func (r *Router) Total() int { return int(r.total) }
