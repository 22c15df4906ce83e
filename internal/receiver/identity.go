package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// 设备 ID 有效范围
const (
	MinDeviceID uint8 = 1
	MaxDeviceID uint8 = 10
)

var ErrInvalidDeviceID = errors.New("device id out of range")

// ValidDeviceID 检查 ID 范围
func ValidDeviceID(id uint8) error {
	if id < MinDeviceID || id > MaxDeviceID {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidDeviceID, id, MinDeviceID, MaxDeviceID)
	}
	return nil
}

// IdentityStore 设备 ID 持久化；ok=false 表示尚未保存过
type IdentityStore interface {
	LoadDeviceID(ctx context.Context) (id uint8, ok bool, err error)
	SaveDeviceID(ctx context.Context, id uint8) error
}

// MemoryIdentityStore 进程内实现（未启用 Redis 时使用）
type MemoryIdentityStore struct {
	mu  sync.Mutex
	id  uint8
	set bool
}

func NewMemoryIdentityStore() *MemoryIdentityStore { return &MemoryIdentityStore{} }

func (s *MemoryIdentityStore) LoadDeviceID(context.Context) (uint8, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.set, nil
}

func (s *MemoryIdentityStore) SaveDeviceID(_ context.Context, id uint8) error {
	s.mu.Lock()
	s.id, s.set = id, true
	s.mu.Unlock()
	return nil
}

// Identity 设备身份：校验、持久化并通知订阅者
type Identity struct {
	store     IdentityStore
	logger    *zap.Logger
	mu        sync.Mutex
	current   uint8
	listeners []func(id uint8)
}

// NewIdentity 优先读取已保存的 ID，不存在或非法时使用 fallback
func NewIdentity(ctx context.Context, store IdentityStore, fallback uint8, logger *zap.Logger) (*Identity, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidDeviceID(fallback); err != nil {
		return nil, err
	}
	id := fallback
	saved, ok, err := store.LoadDeviceID(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device id: %w", err)
	}
	if ok {
		if ValidDeviceID(saved) == nil {
			id = saved
		} else {
			logger.Warn("stored device id invalid, using configured", zap.Uint8("stored", saved), zap.Uint8("configured", fallback))
		}
	}
	return &Identity{store: store, logger: logger, current: id}, nil
}

// DeviceID 当前 ID
func (i *Identity) DeviceID() uint8 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// OnChange 订阅 ID 变更
func (i *Identity) OnChange(fn func(id uint8)) {
	i.mu.Lock()
	i.listeners = append(i.listeners, fn)
	i.mu.Unlock()
}

// SetDeviceID 校验后保存并通知
func (i *Identity) SetDeviceID(ctx context.Context, id uint8) error {
	if err := ValidDeviceID(id); err != nil {
		return err
	}
	if err := i.store.SaveDeviceID(ctx, id); err != nil {
		return fmt.Errorf("save device id: %w", err)
	}
	i.mu.Lock()
	i.current = id
	listeners := append([]func(uint8){}, i.listeners...)
	i.mu.Unlock()
	for _, fn := range listeners {
		fn(id)
	}
	return nil
}
