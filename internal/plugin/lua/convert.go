package lua

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// ToGo converts a Lua value to a plain Go value. Tables become []any when
// they are sequences and map[string]any otherwise; functions become nil.
func ToGo(lv lua.LValue) any {
	return toGo(lv, make(map[*lua.LTable]bool))
}

func toGo(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LUserData:
		return v.Value
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		if n := v.MaxN(); n > 0 && n == tableLen(v) {
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				arr[i-1] = toGo(v.RawGetInt(i), visited)
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			m[k.String()] = toGo(val, visited)
		})
		return m
	default:
		return nil
	}
}

func tableLen(t *lua.LTable) int {
	n := 0
	t.ForEach(func(_, _ lua.LValue) { n++ })
	return n
}

// ToLua converts a Go value into a Lua value owned by L.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(ToLua(L, item))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(val))
		for _, k := range sortedKeys(val) {
			t.RawSetString(k, lua.LString(val[k]))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for _, k := range sortedKeys(val) {
			t.RawSetString(k, ToLua(L, val[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
