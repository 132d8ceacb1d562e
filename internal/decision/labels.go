package decision

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownLabel 输入标签不在映射表中
var ErrUnknownLabel = errors.New("unknown label")

// Label 分类标签：Name 为输入名，Display 为展示名；在列表中的下标即线上字节值
type Label struct {
	Name    string `yaml:"name"`
	Display string `yaml:"display"`
}

// LabelMap 主/次分类标签表
type LabelMap struct {
	Primary   []Label `yaml:"primary"`
	Secondary []Label `yaml:"secondary"`
}

// DefaultLabelMap 与设备固件约定的默认映射
func DefaultLabelMap() *LabelMap {
	return &LabelMap{
		Primary: []Label{
			{Name: "left", Display: "Left Hand"},
			{Name: "right", Display: "Right Hand"},
		},
		Secondary: []Label{
			{Name: "rock", Display: "Rock"},
			{Name: "paper", Display: "Paper"},
			{Name: "scissors", Display: "Scissors"},
			{Name: "ok", Display: "OK"},
		},
	}
}

// LoadLabelMap 从 YAML 文件加载标签表
func LoadLabelMap(path string) (*LabelMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label map: %w", err)
	}
	var m LabelMap
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal label map: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("label map %s: %w", path, err)
	}
	return &m, nil
}

func (m *LabelMap) validate() error {
	for _, set := range []struct {
		name   string
		labels []Label
	}{{"primary", m.Primary}, {"secondary", m.Secondary}} {
		if len(set.labels) == 0 {
			return fmt.Errorf("%s labels empty", set.name)
		}
		if len(set.labels) > 256 {
			return fmt.Errorf("%s labels exceed one byte: %d", set.name, len(set.labels))
		}
		seen := make(map[string]struct{}, len(set.labels))
		for _, l := range set.labels {
			key := normalize(l.Name)
			if key == "" {
				return fmt.Errorf("%s label with empty name", set.name)
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%s label %q duplicated", set.name, l.Name)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

// Lookup 将一对输入名映射为指令
func (m *LabelMap) Lookup(primary, secondary string) (Decision, error) {
	pi, ok := index(m.Primary, primary)
	if !ok {
		return Decision{}, fmt.Errorf("%w: primary %q (choose from %s)", ErrUnknownLabel, primary, names(m.Primary))
	}
	si, ok := index(m.Secondary, secondary)
	if !ok {
		return Decision{}, fmt.Errorf("%w: secondary %q (choose from %s)", ErrUnknownLabel, secondary, names(m.Secondary))
	}
	return Decision{
		Primary:        uint8(pi),
		Secondary:      uint8(si),
		PrimaryLabel:   display(m.Primary[pi]),
		SecondaryLabel: display(m.Secondary[si]),
	}, nil
}

func index(labels []Label, name string) (int, bool) {
	key := normalize(name)
	for i, l := range labels {
		if normalize(l.Name) == key {
			return i, true
		}
	}
	return 0, false
}

func names(labels []Label) string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = l.Name
	}
	return strings.Join(out, ", ")
}

func display(l Label) string {
	if l.Display != "" {
		return l.Display
	}
	return l.Name
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
