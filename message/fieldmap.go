package message

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/fixengine/enum"
	"github.com/wyfcoding/fixengine/field"
	"github.com/wyfcoding/fixengine/tag"
	"github.com/wyfcoding/fixengine/xerrors"
)

// FieldMap 有序的字段容器.
// 同一层级内每个 Tag 至多出现一次，重复组通过计数 Tag 挂载子容器.
// 输出顺序: 先按 preferred 列表，其余按首次写入顺序.
type FieldMap struct {
	values    map[tag.Tag]string
	groups    map[tag.Tag]*RepeatingGroup
	inserted  []tag.Tag
	preferred []tag.Tag
}

// NewFieldMap 创建字段容器，order 为优先输出顺序.
func NewFieldMap(order ...tag.Tag) *FieldMap {
	return &FieldMap{
		values:    make(map[tag.Tag]string),
		preferred: order,
	}
}

// SetOrder 替换优先输出顺序.
func (m *FieldMap) SetOrder(order ...tag.Tag) {
	m.preferred = slices.Clone(order)
}

// Set 写入原始字符串值，已存在时覆盖且保留原位置.
func (m *FieldMap) Set(t tag.Tag, value string) {
	if _, ok := m.values[t]; !ok {
		if _, grp := m.groups[t]; !grp {
			m.inserted = append(m.inserted, t)
		}
		delete(m.groups, t)
	}
	m.values[t] = value
}

func (m *FieldMap) SetInt(t tag.Tag, v int) { m.Set(t, field.FormatInt(v)) }

func (m *FieldMap) SetBool(t tag.Tag, v bool) { m.Set(t, field.FormatBool(v)) }

func (m *FieldMap) SetChar(t tag.Tag, c byte) { m.Set(t, field.FormatChar(c)) }

func (m *FieldMap) SetFloat(t tag.Tag, v float64, minDecimals int) {
	m.Set(t, field.FormatFloat(v, minDecimals))
}

func (m *FieldMap) SetDecimal(t tag.Tag, d decimal.Decimal, minDecimals int) {
	m.Set(t, field.FormatDecimal(d, minDecimals))
}

func (m *FieldMap) SetUTCTimestamp(t tag.Tag, ts time.Time, p field.Precision) {
	m.Set(t, field.FormatUTCTimestamp(ts, p))
}

// Get 返回原始值；重复组计数 Tag 返回条目数.
func (m *FieldMap) Get(t tag.Tag) (string, bool) {
	if v, ok := m.values[t]; ok {
		return v, true
	}
	if g, ok := m.groups[t]; ok {
		return field.FormatInt(g.Len()), true
	}
	return "", false
}

// GetString 字段不存在时返回 ErrNotFound (RequiredTagMissing).
func (m *FieldMap) GetString(t tag.Tag) (string, error) {
	v, ok := m.Get(t)
	if !ok {
		return "", fieldNotFound(t)
	}
	return v, nil
}

func (m *FieldMap) GetInt(t tag.Tag) (int, error) {
	v, err := m.GetString(t)
	if err != nil {
		return 0, err
	}
	n, err := field.ParseInt(v)
	return n, withRefTag(err, t)
}

func (m *FieldMap) GetBool(t tag.Tag) (bool, error) {
	v, err := m.GetString(t)
	if err != nil {
		return false, err
	}
	b, err := field.ParseBool(v)
	return b, withRefTag(err, t)
}

func (m *FieldMap) GetChar(t tag.Tag) (byte, error) {
	v, err := m.GetString(t)
	if err != nil {
		return 0, err
	}
	c, err := field.ParseChar(v)
	return c, withRefTag(err, t)
}

func (m *FieldMap) GetFloat(t tag.Tag) (float64, error) {
	v, err := m.GetString(t)
	if err != nil {
		return 0, err
	}
	f, err := field.ParseFloat(v)
	return f, withRefTag(err, t)
}

func (m *FieldMap) GetDecimal(t tag.Tag) (decimal.Decimal, error) {
	v, err := m.GetString(t)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := field.ParseDecimal(v)
	return d, withRefTag(err, t)
}

func (m *FieldMap) GetUTCTimestamp(t tag.Tag) (time.Time, error) {
	v, err := m.GetString(t)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := field.ParseUTCTimestamp(v)
	return ts, withRefTag(err, t)
}

// Has 报告字段或重复组是否存在.
func (m *FieldMap) Has(t tag.Tag) bool {
	if _, ok := m.values[t]; ok {
		return true
	}
	_, ok := m.groups[t]
	return ok
}

// Remove 删除字段或重复组.
func (m *FieldMap) Remove(t tag.Tag) {
	if !m.Has(t) {
		return
	}
	delete(m.values, t)
	delete(m.groups, t)
	if i := slices.Index(m.inserted, t); i >= 0 {
		m.inserted = slices.Delete(m.inserted, i, i+1)
	}
}

// Len 当前层级的字段数 (重复组计一个).
func (m *FieldMap) Len() int {
	return len(m.inserted)
}

// Tags 返回输出顺序下的全部 Tag.
func (m *FieldMap) Tags() []tag.Tag {
	out := make([]tag.Tag, 0, len(m.inserted))
	seen := make(map[tag.Tag]struct{}, len(m.preferred))
	for _, t := range m.preferred {
		if _, dup := seen[t]; dup || !m.Has(t) {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range m.inserted {
		if _, ok := seen[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// SetGroup 挂载重复组，计数 Tag 的值由条目数决定.
func (m *FieldMap) SetGroup(g *RepeatingGroup) {
	t := g.template.CountTag
	if !m.Has(t) {
		m.inserted = append(m.inserted, t)
	}
	delete(m.values, t)
	if m.groups == nil {
		m.groups = make(map[tag.Tag]*RepeatingGroup)
	}
	m.groups[t] = g
}

// Group 按计数 Tag 取重复组.
func (m *FieldMap) Group(countTag tag.Tag) (*RepeatingGroup, bool) {
	g, ok := m.groups[countTag]
	return g, ok
}

// Clone 深拷贝，含重复组.
func (m *FieldMap) Clone() *FieldMap {
	c := &FieldMap{
		values:    make(map[tag.Tag]string, len(m.values)),
		inserted:  slices.Clone(m.inserted),
		preferred: slices.Clone(m.preferred),
	}
	for t, v := range m.values {
		c.values[t] = v
	}
	if len(m.groups) > 0 {
		c.groups = make(map[tag.Tag]*RepeatingGroup, len(m.groups))
		for t, g := range m.groups {
			c.groups[t] = g.clone()
		}
	}
	return c
}

func fieldNotFound(t tag.Tag) *xerrors.Error {
	return xerrors.New(xerrors.ErrNotFound, enum.RejectRequiredTagMissing, "required tag missing", "", nil).
		WithRefTag(int(t))
}

func withRefTag(err error, t tag.Tag) error {
	if err == nil {
		return nil
	}
	if e, ok := xerrors.FromError(err); ok {
		return e.WithRefTag(int(t))
	}
	return err
}
