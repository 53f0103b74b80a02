package caches

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fbonalair/crowdsec-stream-bouncer/model"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

/*
DecisionsCache holds the decisions currently active according to the stream.
One value (an IP, a range...) can carry several decisions at once, a CAPI ban next to a local captcha for example,
so entries are keyed by decision identity and indexed by value.
Entries expire on their own when the decision lifetime ends.
*/
type DecisionsCache struct {
	cache           *cache.Cache
	defaultDuration time.Duration

	mu sync.Mutex
	// value -> identities currently cached for it
	byValue map[string]map[string]struct{}
}

// NewDecisionsCache uses defaultDuration for decisions whose lifetime cannot be read.
func NewDecisionsCache(defaultDuration time.Duration) *DecisionsCache {
	dc := &DecisionsCache{
		cache:           cache.New(defaultDuration, 5*time.Minute),
		defaultDuration: defaultDuration,
		byValue:         map[string]map[string]struct{}{},
	}
	dc.cache.OnEvicted(dc.unindex)
	return dc
}

// identity is the LAPI id when there is one, the fields making a decision unique otherwise.
func identity(decision model.Decision) string {
	if decision.Id != nil {
		return "id:" + strconv.FormatInt(*decision.Id, 10)
	}
	return strings.Join([]string{decision.Value, decision.Type.String(), decision.Scenario, decision.Origin.String()}, "|")
}

func (dc *DecisionsCache) index(value string, key string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	keys, ok := dc.byValue[value]
	if !ok {
		keys = map[string]struct{}{}
		dc.byValue[value] = keys
	}
	keys[key] = struct{}{}
}

// unindex runs on every eviction, deletes and expirations alike. go-cache calls it outside its own lock.
func (dc *DecisionsCache) unindex(key string, cached interface{}) {
	decision, ok := cached.(model.Decision)
	if !ok {
		return
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	keys := dc.byValue[decision.Value]
	delete(keys, key)
	if len(keys) == 0 {
		delete(dc.byValue, decision.Value)
	}
}

// Apply adds new decisions then removes deleted ones. With full set, the answer lists every active decision:
// whatever was cached and is not part of it is dropped, once the new entries are in place.
func (dc *DecisionsCache) Apply(decisions model.DecisionsResponse, full bool) {
	var stale map[string]struct{}
	if full {
		stale = map[string]struct{}{}
		for key := range dc.cache.Items() {
			stale[key] = struct{}{}
		}
	}

	now := time.Now()
	for _, decision := range decisions.New {
		key := identity(decision)
		expiration := decision.Expiration(now, dc.defaultDuration)
		if expiration <= 0 {
			log.Debug().Str("value", decision.Value).Msg("Skipping already expired decision")
			continue
		}
		dc.index(decision.Value, key)
		dc.cache.Set(key, decision, expiration)
		delete(stale, key)
	}
	for key := range stale {
		dc.cache.Delete(key)
	}
	for _, decision := range decisions.Deleted {
		dc.cache.Delete(identity(decision))
	}
}

// GetDecisions returns the active decisions for a value, the longest lived first.
func (dc *DecisionsCache) GetDecisions(value string) []model.Decision {
	dc.mu.Lock()
	keys := make([]string, 0, len(dc.byValue[value]))
	for key := range dc.byValue[value] {
		keys = append(keys, key)
	}
	dc.mu.Unlock()

	type entry struct {
		decision   model.Decision
		expiration time.Time
	}
	var entries []entry
	for _, key := range keys {
		cacheValue, expiration, cacheHit := dc.cache.GetWithExpiration(key)
		if !cacheHit {
			continue
		}
		if decision, castSucceed := cacheValue.(model.Decision); castSucceed && decision.Value == value {
			entries = append(entries, entry{decision: decision, expiration: expiration})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].expiration.After(entries[j].expiration)
	})

	decisions := make([]model.Decision, 0, len(entries))
	for _, e := range entries {
		decisions = append(decisions, e.decision)
	}
	return decisions
}

// Count may include expired entries not yet cleaned up.
func (dc *DecisionsCache) Count() int {
	return dc.cache.ItemCount()
}
