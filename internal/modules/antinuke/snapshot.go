package antinuke

import (
	"aegis-antinuke/internal/actions"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SnapshotCache remembers the last known state of channels and roles so
// update and delete events can record what they replaced.
type SnapshotCache struct {
	channels *lru.Cache[string, actions.ChannelSnapshot]
	roles    *lru.Cache[string, actions.RoleSnapshot]
}

func NewSnapshotCache(size int) (*SnapshotCache, error) {
	if size <= 0 {
		size = 20000
	}
	channels, err := lru.New[string, actions.ChannelSnapshot](size)
	if err != nil {
		return nil, err
	}
	roles, err := lru.New[string, actions.RoleSnapshot](size)
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{channels: channels, roles: roles}, nil
}

func (c *SnapshotCache) PutChannel(snap actions.ChannelSnapshot) {
	c.channels.Add(snap.ID, snap)
}

// SwapChannel stores snap and returns the state it replaced.
func (c *SnapshotCache) SwapChannel(snap actions.ChannelSnapshot) (actions.ChannelSnapshot, bool) {
	prev, ok := c.channels.Get(snap.ID)
	c.channels.Add(snap.ID, snap)
	return prev, ok
}

func (c *SnapshotCache) TakeChannel(id string) (actions.ChannelSnapshot, bool) {
	prev, ok := c.channels.Get(id)
	if ok {
		c.channels.Remove(id)
	}
	return prev, ok
}

func (c *SnapshotCache) PutRole(snap actions.RoleSnapshot) {
	c.roles.Add(snap.ID, snap)
}

func (c *SnapshotCache) SwapRole(snap actions.RoleSnapshot) (actions.RoleSnapshot, bool) {
	prev, ok := c.roles.Get(snap.ID)
	c.roles.Add(snap.ID, snap)
	return prev, ok
}

func (c *SnapshotCache) TakeRole(id string) (actions.RoleSnapshot, bool) {
	prev, ok := c.roles.Get(id)
	if ok {
		c.roles.Remove(id)
	}
	return prev, ok
}

func (c *SnapshotCache) Len() (channels, roles int) {
	return c.channels.Len(), c.roles.Len()
}
