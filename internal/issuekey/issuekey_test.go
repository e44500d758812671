package issuekey

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGrammar_RejectsEmpty(t *testing.T) {
	_, err := NewGrammar(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no project prefixes")
}

func TestNewGrammar_RejectsMalformedPrefix(t *testing.T) {
	for _, p := range []string{"S", "seco", "SECO_1", "ABCDEFGHIJK", "SE CO", ""} {
		_, err := NewGrammar([]string{p})
		assert.Error(t, err, "prefix %q should be rejected", p)
	}
}

func TestNewGrammar_Dedupes(t *testing.T) {
	g, err := NewGrammar([]string{"SECO", "OPS", "SECO"})
	require.NoError(t, err)
	assert.Equal(t, []string{"OPS", "SECO"}, g.Prefixes())
}

func TestExtract_Boundaries(t *testing.T) {
	g := MustGrammar("SECO", "OPS")

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"bare", "SECO-123", []string{"SECO-123"}},
		{"branch with slash", "feature/SECO-123-add-login", []string{"SECO-123"}},
		{"bracketed", "[SECO-123] fix bug", []string{"SECO-123"}},
		{"parenthesised", "fix (OPS-9)", []string{"OPS-9"}},
		{"embedded before", "XSECO-123", nil},
		{"embedded after", "SECO-123X", nil},
		{"lowercase letter before", "aSECO-1", nil},
		{"digit before", "1SECO-1", nil},
		{"lowercase prefix", "seco-123", nil},
		{"unconfigured prefix", "ABC-1", nil},
		{"no digits", "SECO-", nil},
		{"zero", "SECO-0", nil},
		{"leading zeros", "SECO-007", []string{"SECO-7"}},
		{"overflow", "SECO-99999999999999999999999", nil},
		{"empty", "", nil},
		{"multiple in order", "OPS-2 and SECO-1", []string{"OPS-2", "SECO-1"}},
		{"non-ascii boundary", "éSECO-5ü", []string{"SECO-5"}},
		{"trailing dash", "SECO-12-3", []string{"SECO-12"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Strings(g.Extract(tt.text))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_EveryPrefixWithBoundaries(t *testing.T) {
	prefixes := []string{"SECO", "OPS", "AB", "X1"}
	g := MustGrammar(prefixes...)

	for _, p := range prefixes {
		key := p + "-123"
		for _, wrap := range []string{"%s", " %s ", "(%s)", "[%s]", "/%s/", "%s:", "_%s_"} {
			text := fmt.Sprintf(wrap, key)
			keys := g.Extract(text)
			require.Len(t, keys, 1, "text %q", text)
			assert.Equal(t, Key{Prefix: p, Number: 123}, keys[0])
		}
		assert.Empty(t, g.Extract("X"+key), "embedded left in %q", "X"+key)
		assert.Empty(t, g.Extract(key+"X"), "embedded right in %q", key+"X")
	}
}

func TestExtract_LongestPrefixWins(t *testing.T) {
	g := MustGrammar("AB", "ABC")
	assert.Equal(t, []string{"ABC-1"}, Strings(g.Extract("ABC-1")))
	assert.Equal(t, []string{"AB-1"}, Strings(g.Extract("AB-1")))
}

func TestExtract_IdempotentAndDeduplicated(t *testing.T) {
	g := MustGrammar("SECO", "OPS")
	text := "SECO-1 OPS-4 SECO-1 SECO-001 OPS-4 SECO-2"

	first := g.Extract(text)
	second := g.Extract(text)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"SECO-1", "OPS-4", "SECO-2"}, Strings(first))
}

func TestFirst(t *testing.T) {
	g := MustGrammar("SECO")
	k, ok := g.First("fix SECO-4 and SECO-2")
	require.True(t, ok)
	assert.Equal(t, "SECO-4", k.String())

	_, ok = g.First("nothing here")
	assert.False(t, ok)
}

func TestLeadingBracketed(t *testing.T) {
	g := MustGrammar("SECO")

	k, ok := g.LeadingBracketed("[SECO-1] fix bug")
	require.True(t, ok)
	assert.Equal(t, Key{Prefix: "SECO", Number: 1}, k)

	for _, text := range []string{
		" [SECO-1] leading space",
		"[ SECO-1] space inside",
		"[SECO-1 ] space before close",
		"[SECO-1 fix",
		"fix [SECO-1]",
		"SECO-1 no brackets",
		"[OPS-1] unconfigured",
		"[SECO-1X] embedded",
		"[",
		"",
	} {
		_, ok := g.LeadingBracketed(text)
		assert.False(t, ok, "text %q", text)
	}
}

func TestParse(t *testing.T) {
	k, err := Parse("SECO-42")
	require.NoError(t, err)
	assert.Equal(t, Key{Prefix: "SECO", Number: 42}, k)
	assert.Equal(t, "SECO", k.Project())
	assert.Equal(t, "SECO-42", k.String())

	for _, s := range []string{"", "SECO", "SECO-", "-1", "seco-1", "SECO-x", "SECO-0"} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestAllows(t *testing.T) {
	g := MustGrammar("SECO")
	assert.True(t, g.Allows(Key{Prefix: "SECO", Number: 1}))
	assert.False(t, g.Allows(Key{Prefix: "OPS", Number: 1}))
}
