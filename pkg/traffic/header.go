package traffic

import "strings"

// Field 单个头部字段
type Field struct {
	Name  string
	Value string
}

// Header 有序、可重复、大小写不敏感的头部集合
//
// 零值可直接使用。同名字段按插入顺序保留。
type Header struct {
	fields []Field
}

// NewHeader 根据 name/value 对构造头部，奇数个参数时忽略最后一个
func NewHeader(kv ...string) Header {
	var h Header
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

// Get 获取指定 Header 的第一个值（大小写不敏感）
func (h Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Has 判断是否存在指定 Header
func (h Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Values 按插入顺序返回指定 Header 的全部值
func (h Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Add 追加一个值，不影响已有同名字段
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set 替换同名字段；保留第一个出现的位置
func (h *Header) Set(name, value string) {
	out := h.fields[:0:0]
	placed := false
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			if !placed {
				out = append(out, Field{Name: name, Value: value})
				placed = true
			}
			continue
		}
		out = append(out, f)
	}
	if !placed {
		out = append(out, Field{Name: name, Value: value})
	}
	h.fields = out
}

// Del 删除指定 Header 的全部值
func (h *Header) Del(name string) {
	out := h.fields[:0:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Len 字段数量（同名多值分别计数）
func (h Header) Len() int { return len(h.fields) }

// Fields 返回字段副本
func (h Header) Fields() []Field {
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return out
}

// Names 按首次出现顺序返回去重后的字段名
func (h Header) Names() []string {
	var names []string
	seen := make(map[string]bool, len(h.fields))
	for _, f := range h.fields {
		k := strings.ToLower(f.Name)
		if seen[k] {
			continue
		}
		seen[k] = true
		names = append(names, f.Name)
	}
	return names
}

// Clone 深拷贝
func (h Header) Clone() Header {
	return Header{fields: h.Fields()}
}

// Equal 判断两组头部是否完全一致（名字大小写不敏感，顺序敏感）
func (h Header) Equal(o Header) bool {
	if len(h.fields) != len(o.fields) {
		return false
	}
	for i := range h.fields {
		if !strings.EqualFold(h.fields[i].Name, o.fields[i].Name) || h.fields[i].Value != o.fields[i].Value {
			return false
		}
	}
	return true
}
