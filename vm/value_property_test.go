package vm

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Strings of any length behave the same whatever size class they land in.
func TestProperty_StringSizeClassInvisible(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("content, equality and hash ignore the size class", prop.ForAll(
		func(n int, fill string) bool {
			if fill == "" {
				fill = "x"
			}
			s := strings.Repeat(fill, n)
			a := FromString(s)
			b := FromBytes([]byte(s))
			return a.Text() == s &&
				string(b.Bytes()) == s &&
				a.Equal(b) &&
				a.Hash() == b.Hash() &&
				a.String() == s
		},
		gen.IntRange(0, 120),
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Adding the same literal twice yields the same pool index.
func TestProperty_ConstantDedup(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("equal constants share an index", prop.ForAll(
		func(words []string, nums []int64) bool {
			c := NewChunk("dedup")
			indices := make(map[string]int)
			for _, w := range words {
				i, err := c.AddConstant(FromString(w))
				if err != nil {
					return false
				}
				if prev, ok := indices["s:"+w]; ok && prev != i {
					return false
				}
				indices["s:"+w] = i
			}
			for _, n := range nums {
				i, err := c.AddConstant(FromInt(n))
				if err != nil {
					return false
				}
				key := "i:" + FromInt(n).String()
				if prev, ok := indices[key]; ok && prev != i {
					return false
				}
				indices[key] = i
			}
			return len(c.Constants) == len(indices)
		},
		gen.SliceOfN(40, gen.IntRange(0, 4).Map(func(i int) string {
			return []string{"a", "b", "print", "x", strings.Repeat("long", 20)}[i]
		})),
		gen.SliceOfN(40, gen.Int64Range(-5, 5)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Any sequence of integer-keyed sets reads back like a plain Go map, and no
// key lives in both stores.
func TestProperty_TableHybrid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("table matches a reference map", prop.ForAll(
		func(keys []int64) bool {
			tbl := NewTable(0, 0)
			ref := make(map[int64]int64)
			for i, k := range keys {
				tbl.Set(FromInt(k), FromInt(int64(i)))
				ref[k] = int64(i)
			}
			for k, v := range ref {
				got := tbl.Get(FromInt(k))
				if got.Kind() != KindInteger || got.Int() != v {
					return false
				}
			}
			return tbl.ArrayLen()+tbl.MapLen() == len(ref)
		},
		gen.SliceOf(gen.Int64Range(-3, 20)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
