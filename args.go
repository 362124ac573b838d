package rcluster

import (
	"fmt"
	"strconv"

	"github.com/gomodule/redigo/redis"
)

// flattenArgs flattens nested argument lists into a single positional
// list, so that Do("MSET", []interface{}{"a", 1, "b", 2}) and
// Do("MSET", "a", 1, "b", 2) are equivalent.
func flattenArgs(args []interface{}) []interface{} {
	out := make([]interface{}, 0, len(args))
	return appendFlat(out, args)
}

func appendFlat(out []interface{}, args []interface{}) []interface{} {
	for _, arg := range args {
		switch v := arg.(type) {
		case []interface{}:
			out = appendFlat(out, v)
		case redis.Args:
			out = appendFlat(out, v)
		case []string:
			for _, s := range v {
				out = append(out, s)
			}
		case [][]byte:
			for _, b := range v {
				out = append(out, b)
			}
		case []int:
			for _, n := range v {
				out = append(out, n)
			}
		case []int64:
			for _, n := range v {
				out = append(out, n)
			}
		case []float64:
			for _, f := range v {
				out = append(out, f)
			}
		default:
			out = append(out, arg)
		}
	}
	return out
}

// argString returns the string form of arg as it is written on the wire
// by redigo.
func argString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case nil:
		return ""
	case redis.Argument:
		return argString(v.RedisArg())
	default:
		return fmt.Sprint(v)
	}
}

func argStrings(args []interface{}) []string {
	strs := make([]string, len(args))
	for i, arg := range args {
		strs[i] = argString(arg)
	}
	return strs
}
