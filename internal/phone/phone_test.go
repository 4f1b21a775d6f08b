package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantsExpandsNinthDigit(t *testing.T) {
	got := Variants("5511987654321")

	assert.Contains(t, got, "5511987654321@s.whatsapp.net")
	assert.Contains(t, got, "5511987654321@c.us")
	assert.Contains(t, got, "5511987654321")
	assert.Contains(t, got, "551187654321@s.whatsapp.net")
	assert.Contains(t, got, "551187654321")
}

func TestVariantsAddsNinthDigit(t *testing.T) {
	got := Variants("551187654321")

	assert.Contains(t, got, "551187654321@s.whatsapp.net")
	assert.Contains(t, got, "5511987654321@s.whatsapp.net")
}

func TestVariantsMutuallyDiscoverable(t *testing.T) {
	withNinth := Variants("5511987654321")
	withoutNinth := Variants("551187654321")

	set := make(map[string]struct{}, len(withNinth))
	for _, v := range withNinth {
		set[v] = struct{}{}
	}

	var overlap int
	for _, v := range withoutNinth {
		if _, ok := set[v]; ok {
			overlap++
		}
	}
	assert.Greater(t, overlap, 0, "ninth-digit forms must intersect")
}

func TestVariantsStripsFormatting(t *testing.T) {
	got := Variants("+55 (11) 98765-4321")
	assert.Contains(t, got, "5511987654321@s.whatsapp.net")
}

func TestVariantsPriorityOrder(t *testing.T) {
	got := Variants("5511987654321")
	require.NotEmpty(t, got)
	assert.Equal(t, "5511987654321@s.whatsapp.net", got[0])
}

func TestVariantsNonMobilePassthrough(t *testing.T) {
	// Landline-shaped or foreign numbers get no digit variants, only suffixes.
	got := Variants("14155552671")
	assert.Len(t, got, 3)
}

func TestVariantsEmpty(t *testing.T) {
	assert.Nil(t, Variants("   "))
	assert.Nil(t, Variants("abc"))
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "5511987654321", Digits("5511987654321@s.whatsapp.net"))
	assert.Equal(t, "5511987654321", Digits("+55 11 98765-4321"))
}
