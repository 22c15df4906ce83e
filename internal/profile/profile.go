package profile

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/mlab-sync/internal/transmitter"
)

// 取值范围与遥控器菜单一致
const (
	MaxDevices      = 10
	MaxDelayMinutes = 59
	MaxDelaySeconds = 59
	MinPlaySeconds  = 1
	MaxPlaySeconds  = 60
	msPerSecond     = 1000
	msPerMinute     = 60 * msPerSecond
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrEmptyGroup    = errors.New("no valid devices in group")
	ErrInvalid       = errors.New("invalid device profile")
)

// Device 单设备定时设置
type Device struct {
	ID           uint8 `yaml:"id" json:"id"`
	DelayMinutes uint8 `yaml:"delayMinutes" json:"delay_minutes"`
	DelaySeconds uint8 `yaml:"delaySeconds" json:"delay_seconds"`
	PlaySeconds  uint8 `yaml:"playSeconds" json:"play_seconds"`
	InGroup      bool  `yaml:"inGroup" json:"in_group"`
}

// Validate 范围检查
func (d Device) Validate() error {
	switch {
	case d.ID < 1 || d.ID > MaxDevices:
		return fmt.Errorf("%w: id %d", ErrInvalid, d.ID)
	case d.DelayMinutes > MaxDelayMinutes || d.DelaySeconds > MaxDelaySeconds:
		return fmt.Errorf("%w: device %d delay %d:%02d", ErrInvalid, d.ID, d.DelayMinutes, d.DelaySeconds)
	case d.PlaySeconds < MinPlaySeconds || d.PlaySeconds > MaxPlaySeconds:
		return fmt.Errorf("%w: device %d play %ds", ErrInvalid, d.ID, d.PlaySeconds)
	}
	return nil
}

// DelayMs 延时毫秒
func (d Device) DelayMs() uint32 {
	return uint32(d.DelayMinutes)*msPerMinute + uint32(d.DelaySeconds)*msPerSecond
}

// PlayMs 执行毫秒
func (d Device) PlayMs() uint32 { return uint32(d.PlaySeconds) * msPerSecond }

// Target 转换为运行目标
func (d Device) Target() transmitter.Target {
	return transmitter.Target{ID: d.ID, DelayMs: d.DelayMs(), PlayMs: d.PlayMs()}
}

type file struct {
	Devices []Device `yaml:"devices"`
}

// Set 设备配置集合
type Set struct {
	mu      sync.RWMutex
	devices map[uint8]Device
}

// Default 所有设备：无延时、1 秒、不在组内
func Default() *Set {
	s := &Set{devices: make(map[uint8]Device, MaxDevices)}
	for id := uint8(1); id <= MaxDevices; id++ {
		s.devices[id] = Device{ID: id, PlaySeconds: MinPlaySeconds}
	}
	return s
}

// Load 读取 YAML；文件中未出现的设备使用默认值
func Load(path string) (*Set, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	s := Default()
	for _, d := range f.Devices {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		s.devices[d.ID] = d
	}
	return s, nil
}

// Save 写回 YAML
func (s *Set) Save(path string) error {
	b, err := yaml.Marshal(file{Devices: s.All()})
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return nil
}

// Get 单设备配置
func (s *Set) Get(id uint8) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	return d, nil
}

// Put 更新单设备配置
func (s *Set) Put(d Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.devices[d.ID] = d
	s.mu.Unlock()
	return nil
}

// All 按 ID 排序
func (s *Set) All() []Device {
	s.mu.RLock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IndividualTargets 单设备运行
func (s *Set) IndividualTargets(id uint8) ([]transmitter.Target, error) {
	d, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return []transmitter.Target{d.Target()}, nil
}

// GroupTargets 组运行：组内有效设备按延时升序
func (s *Set) GroupTargets() ([]transmitter.Target, error) {
	var out []transmitter.Target
	for _, d := range s.All() {
		if !d.InGroup || d.Validate() != nil {
			continue
		}
		out = append(out, d.Target())
	}
	if len(out) == 0 {
		return nil, ErrEmptyGroup
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DelayMs < out[j].DelayMs })
	return out, nil
}

// PlaysLongerThan 执行时长超过 window 的设备；window<=0 时为空。
// FINAL 确认后发射端不再发包，接收端死人开关会在 window 处截断这些设备的执行。
func (s *Set) PlaysLongerThan(window time.Duration) []uint8 {
	if window <= 0 {
		return nil
	}
	var ids []uint8
	for _, d := range s.All() {
		if time.Duration(d.PlayMs())*time.Millisecond > window {
			ids = append(ids, d.ID)
		}
	}
	return ids
}
