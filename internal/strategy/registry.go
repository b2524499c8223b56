package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Metadata 记录一个策略的静态描述，供诊断端展示。
type Metadata struct {
	Key          Policy
	Description  string
	StoreRole    StoreRole
	Fallback     string
	NetworkOnHit bool
}

var globalRegistry = newRegistry()

type registry struct {
	mu       sync.RWMutex
	policies map[Policy]Metadata
}

func newRegistry() *registry {
	return &registry{policies: make(map[Policy]Metadata)}
}

func init() {
	MustRegister(Metadata{
		Key:         PolicyCacheFirst,
		Description: "Serve from any cache; on miss fetch and store into the static cache",
		StoreRole:   StoreRoleStatic,
		Fallback:    "none",
	})
	MustRegister(Metadata{
		Key:          PolicyNetworkFirstImage,
		Description:  "Fetch first; store successful responses into the dynamic cache in the background",
		StoreRole:    StoreRoleDynamic,
		Fallback:     "any-cache",
		NetworkOnHit: true,
	})
	MustRegister(Metadata{
		Key:          PolicyNetworkFirst,
		Description:  "Fetch first; fall back to any cache when the network fails",
		StoreRole:    StoreRoleNone,
		Fallback:     "any-cache",
		NetworkOnHit: true,
	})
}

// Register 将策略元数据加入全局注册表，重复键会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定策略的元数据。
func Resolve(key Policy) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的策略元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

func normalizeKey(key Policy) Policy {
	return Policy(strings.ToLower(strings.TrimSpace(string(key))))
}

func (r *registry) register(meta Metadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("policy key is required")
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[key]; exists {
		return fmt.Errorf("policy %s already registered", key)
	}
	r.policies[key] = meta
	return nil
}

func (r *registry) resolve(key Policy) (Metadata, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Metadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.policies[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.policies) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.policies))
	for key := range r.policies {
		keys = append(keys, string(key))
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.policies[Policy(key)])
	}
	return result
}
