package presence

import "sync"

// Handle 是一条存活连接的不透明引用，连接关闭后立即失效。
// Deliver 将一帧已编码事件推给该连接，不等待确认。
type Handle interface {
	Deliver(data []byte)
}

// Table 维护在线用户与连接的双向映射。同一用户最多对应一条连接，
// 后连接的覆盖先连接的（last-connect-wins），被覆盖方不会收到通知。
type Table struct {
	mu       sync.RWMutex
	byUser   map[string]Handle
	byHandle map[Handle]string
}

func NewTable() *Table {
	return &Table{
		byUser:   make(map[string]Handle),
		byHandle: make(map[Handle]string),
	}
}

// Register 无条件建立 identity 到 handle 的映射，覆盖同一 identity 的旧条目。
func (t *Table) Register(identity string, h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.byUser[identity]; ok {
		delete(t.byHandle, old)
	}
	t.byUser[identity] = h
	t.byHandle[h] = identity
}

// Unregister 移除 handle 对应的条目；handle 不存在时是 no-op。
// 仅当正向映射仍指向该 handle 时才删除，避免被覆盖的旧连接
// 迟到的清理把新连接挤掉。
func (t *Table) Unregister(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	identity, ok := t.byHandle[h]
	if !ok {
		return
	}
	delete(t.byHandle, h)
	if t.byUser[identity] == h {
		delete(t.byUser, identity)
	}
}

// Lookup 返回 identity 当前的连接，不在线时返回 nil。
func (t *Table) Lookup(identity string) Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byUser[identity]
}

// Online 返回当前在线连接数，供 REST 接口与指标复用。
func (t *Table) Online() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser)
}
