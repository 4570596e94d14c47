package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 123-4567": "15551234567",
		"555.123.4567":      "5551234567",
		"no digits":         "",
		"":                  "",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizePhone(input), "input %q", input)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "john@example.com", NormalizeEmail("  John@Example.COM  "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestNormalizeName(t *testing.T) {
	t.Run("lowercases and strips punctuation", func(t *testing.T) {
		assert.Equal(t, "obrien mary", NormalizeName("O'Brien, Mary"))
	})

	t.Run("removes suffixes", func(t *testing.T) {
		assert.Equal(t, "john smith", NormalizeName("John Smith Jr."))
		assert.Equal(t, "jane doe", NormalizeName("Jane Doe PhD"))
	})

	t.Run("collapses whitespace", func(t *testing.T) {
		assert.Equal(t, "john smith", NormalizeName("  John   Smith  "))
	})
}

func TestNormalizeAddress(t *testing.T) {
	t.Run("abbreviates street tokens", func(t *testing.T) {
		assert.Equal(t, "123 main st", NormalizeAddress("123 Main Street"))
		assert.Equal(t, "456 n oak ave apt 2", NormalizeAddress("456 North Oak Avenue Apartment 2"))
	})

	t.Run("already abbreviated is unchanged", func(t *testing.T) {
		assert.Equal(t, "123 main st", NormalizeAddress("123 main st"))
	})

	t.Run("equivalent forms converge", func(t *testing.T) {
		a := NormalizeAddress("123 Main Street")
		b := NormalizeAddress("123  MAIN   ST")
		assert.Equal(t, a, b)
	})
}

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "hello", ApplyChain("  HELLO  ", "trim", "lowercase"))
}

func TestApplyUnknownNormalizer(t *testing.T) {
	assert.Equal(t, "Unchanged", Apply("Unchanged", "does_not_exist"))
}

func TestRegister(t *testing.T) {
	Register("reverse_test", func(s string) string {
		runes := []rune(s)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes)
	})

	fn, ok := Get("reverse_test")
	assert.True(t, ok)
	assert.Equal(t, "cba", fn("abc"))
	assert.Equal(t, "cba", Apply("abc", "reverse_test"))
}
