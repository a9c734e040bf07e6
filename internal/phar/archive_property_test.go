//go:build property
// +build property

package phar

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestArchiveRoundTripProperties checks that every archive parses back to the
// entries it was built from.
func TestArchiveRoundTripProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("entries survive a round trip", prop.ForAll(
		func(names []string, body string, gz bool) bool {
			a := New("prop.phar", WithTimestamp(time.Unix(1700000000, 0)))
			if gz {
				if err := a.SetCompression(GZ); err != nil {
					return false
				}
			}
			want := map[string]string{}
			for _, n := range names {
				if n == "" {
					continue
				}
				contents := body + n
				if err := a.AddFromString("dir/"+n, contents); err != nil {
					return false
				}
				want["dir/"+n] = contents
			}

			data, err := a.Bytes()
			if err != nil {
				return false
			}
			b, err := Parse(data)
			if err != nil {
				return false
			}
			if b.Len() != len(want) {
				return false
			}
			for _, e := range b.Entries() {
				if want[e.Name] != string(e.Data) {
					return false
				}
			}

			return true
		},
		gen.SliceOf(gen.Identifier()),
		gen.AnyString(),
		gen.Bool(),
	))

	properties.Property("halt marker search is case insensitive", prop.ForAll(
		func(prefix string, upper bool) bool {
			marker := "__halt_compiler();"
			if upper {
				marker = HaltMarker
			}
			data := []byte(prefix + marker)
			i := haltIndex(data)

			return i >= 0 && i <= len(prefix)
		},
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
