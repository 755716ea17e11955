package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache 容量加 TTL 双限的进程内缓存
// 显式注入给使用方，不做包级全局，测试可注入时钟
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // 最近使用在队首
	now      func() time.Time
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// New 创建缓存，capacity<=0 表示不限容量，ttl<=0 表示不过期
func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// WithClock 注入时钟，测试用
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get 取值，过期条目当场剔除
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*entry)
	if c.ttl > 0 && c.now().After(ent.expiresAt) {
		c.removeLocked(elem)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return ent.value, true
}

// Set 写值，超容时淘汰最久未用的条目
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	})
	c.entries[key] = elem

	if c.capacity > 0 && c.order.Len() > c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}
}

// Delete 删除单条
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// Purge 清空
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Len 当前条目数，含尚未被访问剔除的过期条目
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	delete(c.entries, ent.key)
	c.order.Remove(elem)
}
