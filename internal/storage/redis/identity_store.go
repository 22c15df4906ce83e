package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// IdentityStore 以节点名为键保存接收端设备 ID
type IdentityStore struct {
	client *Client
	key    string
}

func NewIdentityStore(client *Client, nodeName string) *IdentityStore {
	return &IdentityStore{client: client, key: keyPrefix + "node:" + nodeName + ":device_id"}
}

// LoadDeviceID 键不存在时 ok=false
func (s *IdentityStore) LoadDeviceID(ctx context.Context) (uint8, bool, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", s.key, err)
	}
	id, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, false, fmt.Errorf("parse device id %q: %w", v, err)
	}
	return uint8(id), true, nil
}

func (s *IdentityStore) SaveDeviceID(ctx context.Context, id uint8) error {
	return s.client.Set(ctx, s.key, strconv.Itoa(int(id)), 0).Err()
}
