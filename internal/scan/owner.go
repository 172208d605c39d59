package scan

import (
	"os/user"
	"sync"
)

// ownerCache memoizes user and group name lookups
type ownerCache struct {
	mu     sync.Mutex
	users  map[string]string
	groups map[string]string
}

func newOwnerCache() *ownerCache {
	return &ownerCache{users: make(map[string]string), groups: make(map[string]string)}
}

func (c *ownerCache) userName(uid string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.users[uid]; ok {
		return name
	}
	name := uid
	if u, err := user.LookupId(uid); err == nil {
		name = u.Username
	}
	c.users[uid] = name
	return name
}

func (c *ownerCache) groupName(gid string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.groups[gid]; ok {
		return name
	}
	name := gid
	if g, err := user.LookupGroupId(gid); err == nil {
		name = g.Name
	}
	c.groups[gid] = name
	return name
}
