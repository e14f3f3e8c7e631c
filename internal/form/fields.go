package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"unicode"

	"github.com/spf13/cast"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// InvalidInputError 原始输入不是一个键值对象，是提取阶段唯一的硬失败
type InvalidInputError struct {
	Reason string
	Err    error
}

func (e *InvalidInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid input: %s: %v", e.Reason, e.Err)
	}
	return "invalid input: " + e.Reason
}

func (e *InvalidInputError) Unwrap() error {
	return e.Err
}

// IsInvalidInput 判断错误链中是否包含 InvalidInputError
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

// Fields 保留定义顺序的表单字段
type Fields struct {
	pairs *orderedmap.OrderedMap[string, any]
}

// ParseJSON 解析请求体，字段顺序与 JSON 中出现的顺序一致
func ParseJSON(data []byte) (*Fields, error) {
	pairs := orderedmap.New[string, any]()
	if err := pairs.UnmarshalJSON(data); err != nil {
		return nil, &InvalidInputError{Reason: "body is not a JSON object", Err: err}
	}
	return &Fields{pairs: pairs}, nil
}

// FromMap 从无序 map 构建 Fields。
// map 不携带定义顺序，这里按自然顺序排序键（数字段按数值比较），保证结果确定。
func FromMap(m map[string]any) *Fields {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return naturalLess(keys[i], keys[j])
	})

	pairs := orderedmap.New[string, any](len(keys))
	for _, k := range keys {
		pairs.Set(k, m[k])
	}
	return &Fields{pairs: pairs}
}

// Len 字段数量
func (f *Fields) Len() int {
	if f == nil || f.pairs == nil {
		return 0
	}
	return f.pairs.Len()
}

// Keys 按定义顺序返回所有键
func (f *Fields) Keys() []string {
	keys := make([]string, 0, f.Len())
	if f.Len() == 0 {
		return keys
	}
	for pair := f.pairs.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Get 读取原始值
func (f *Fields) Get(key string) (any, bool) {
	if f.Len() == 0 {
		return nil, false
	}
	return f.pairs.Get(key)
}

// String 读取字段并转换为字符串，缺失或无法转换时返回空串
func (f *Fields) String(key string) string {
	v, ok := f.Get(key)
	if !ok {
		return ""
	}
	return toString(v)
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}

// naturalLess 自然排序："q_2" < "q_10"
func naturalLess(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		if unicode.IsDigit(ra[i]) && unicode.IsDigit(rb[j]) {
			si := i
			for i < len(ra) && unicode.IsDigit(ra[i]) {
				i++
			}
			sj := j
			for j < len(rb) && unicode.IsDigit(rb[j]) {
				j++
			}
			na, errA := strconv.Atoi(string(ra[si:i]))
			nb, errB := strconv.Atoi(string(rb[sj:j]))
			if errA == nil && errB == nil && na != nb {
				return na < nb
			}
			if da, db := string(ra[si:i]), string(rb[sj:j]); da != db {
				return da < db
			}
			continue
		}
		if ra[i] != rb[j] {
			return ra[i] < rb[j]
		}
		i++
		j++
	}
	return len(ra)-i < len(rb)-j
}
