package message

import (
	"github.com/wyfcoding/fixengine/tag"
)

// GroupTemplate 描述一个重复组: 计数 Tag、成员 Tag (首个为分隔符) 与嵌套组.
type GroupTemplate struct {
	CountTag tag.Tag
	Fields   []tag.Tag
	Nested   []GroupTemplate
}

// Delimiter 每个条目的起始 Tag.
func (g GroupTemplate) Delimiter() tag.Tag {
	if len(g.Fields) == 0 {
		return 0
	}
	return g.Fields[0]
}

func (g GroupTemplate) isMember(t tag.Tag) bool {
	for _, f := range g.Fields {
		if f == t {
			return true
		}
	}
	for _, n := range g.Nested {
		if n.CountTag == t {
			return true
		}
	}
	return false
}

func (g GroupTemplate) nested(t tag.Tag) (GroupTemplate, bool) {
	for _, n := range g.Nested {
		if n.CountTag == t {
			return n, true
		}
	}
	return GroupTemplate{}, false
}

// RepeatingGroup 重复组实例.
type RepeatingGroup struct {
	template GroupTemplate
	entries  []*FieldMap
}

// NewRepeatingGroup 按模板创建空的重复组.
func NewRepeatingGroup(tmpl GroupTemplate) *RepeatingGroup {
	return &RepeatingGroup{template: tmpl}
}

// Add 追加一个条目，条目内按模板顺序输出.
func (g *RepeatingGroup) Add() *FieldMap {
	entry := NewFieldMap(g.template.Fields...)
	g.entries = append(g.entries, entry)
	return entry
}

func (g *RepeatingGroup) Len() int { return len(g.entries) }

// Get 第 i 个条目.
func (g *RepeatingGroup) Get(i int) *FieldMap { return g.entries[i] }

func (g *RepeatingGroup) Template() GroupTemplate { return g.template }

func (g *RepeatingGroup) clone() *RepeatingGroup {
	c := &RepeatingGroup{template: g.template, entries: make([]*FieldMap, len(g.entries))}
	for i, e := range g.entries {
		c.entries[i] = e.Clone()
	}
	return c
}
