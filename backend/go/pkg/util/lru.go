package util

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// LRUConfig 用于配置 LRU 缓存的行为。
type LRUConfig struct {
	// Capacity 是缓存的最大元素数量，必须大于 0。
	Capacity int
	// TTL 是元素的存活时间。如果为 0，则元素永不过期。
	TTL time.Duration
	// Now 返回当前时间，为 nil 时使用 time.Now。
	Now func() time.Time
}

// entry 结构体用于存储链表节点中的实际数据。
type entry[K comparable, V any] struct {
	key        K
	value      V
	expiration time.Time // 元素的过期时间
}

// LRU 是一个支持泛型、可配置且线程安全的 LRU 缓存。
type LRU[K comparable, V any] struct {
	config LRUConfig
	ll     *list.List
	items  map[K]*list.Element
	lock   sync.Mutex
}

// NewLRU 使用指定的配置创建一个 LRU 缓存实例。
func NewLRU[K comparable, V any](config LRUConfig) (*LRU[K, V], error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("LRU 缓存容量必须大于 0，当前为 %d", config.Capacity)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &LRU[K, V]{
		config: config,
		ll:     list.New(),
		items:  make(map[K]*list.Element),
	}, nil
}

// Get 方法根据键获取一个值，并将其标记为最近使用。
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var zero V
	element, ok := c.items[key]
	if !ok {
		return zero, false
	}

	// 检查TTL是否过期（被动淘汰）
	e := element.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeElement(element)
		return zero, false
	}

	c.ll.MoveToFront(element)
	return e.value, true
}

// Put 方法向缓存中添加或更新一个键值对。
func (c *LRU[K, V]) Put(key K, value V) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var expiration time.Time
	if c.config.TTL > 0 {
		expiration = c.config.Now().Add(c.config.TTL)
	}

	if element, ok := c.items[key]; ok {
		e := element.Value.(*entry[K, V])
		e.value = value
		e.expiration = expiration
		c.ll.MoveToFront(element)
		return
	}

	c.items[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value, expiration: expiration})
	for c.ll.Len() > c.config.Capacity {
		c.removeElement(c.ll.Back())
	}
}

// Delete 从缓存中移除一个键。
func (c *LRU[K, V]) Delete(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if element, ok := c.items[key]; ok {
		c.removeElement(element)
	}
}

// Purge 清空缓存。
func (c *LRU[K, V]) Purge() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.ll.Init()
	c.items = make(map[K]*list.Element)
}

// Len 返回当前缓存中的条目数量（包括尚未被动淘汰的过期条目）。
func (c *LRU[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ll.Len()
}

func (c *LRU[K, V]) expired(e *entry[K, V]) bool {
	return c.config.TTL > 0 && !c.config.Now().Before(e.expiration)
}

// removeElement 从链表和 map 中移除元素。调用方需持有锁。
func (c *LRU[K, V]) removeElement(e *list.Element) {
	c.ll.Remove(e)
	delete(c.items, e.Value.(*entry[K, V]).key)
}
