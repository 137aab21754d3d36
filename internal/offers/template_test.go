package offers

import (
	"bytes"
	"errors"
	"regexp"
	"testing"
	"testing/iotest"
	"time"

	"recovery-caller/internal/calls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCode(t *testing.T) {
	re := regexp.MustCompile(`^SAVE[A-Z2-9]{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c := RandomCode("save")
		assert.Regexp(t, re, c)
		seen[c] = true
	}
	assert.Greater(t, len(seen), 40)
}

func TestRandomSuffix_RedrawsBytesThatWouldSkew(t *testing.T) {
	// 238 and above fall in the partial last cycle of the alphabet.
	src := bytes.NewReader([]byte{255, 240, 0, 33, 34, 237, 1, 2})
	got, err := randomSuffix(src, 6)
	require.NoError(t, err)
	assert.Equal(t, "A9A9BC", got)
}

func TestRandomSuffix_ReadFailure(t *testing.T) {
	_, err := randomSuffix(iotest.ErrReader(errors.New("entropy unavailable")), 6)
	assert.EqualError(t, err, "entropy unavailable")

	_, err = randomSuffix(bytes.NewReader([]byte{250, 251}), 6)
	assert.Error(t, err)
}

func TestRandomSuffix_Uniform(t *testing.T) {
	src := make([]byte, 0, 238*4)
	for i := 0; i < 4; i++ {
		for b := 0; b < 238; b++ {
			src = append(src, byte(b))
		}
	}
	got, err := randomSuffix(bytes.NewReader(src), len(src))
	require.NoError(t, err)
	counts := map[rune]int{}
	for _, c := range got {
		counts[c]++
	}
	assert.Len(t, counts, len(codeAlphabet))
	for c, n := range counts {
		assert.Equal(t, 28, n, "char %c", c)
	}
}

func TestRenderSMS_CustomTemplate(t *testing.T) {
	got := RenderSMS("{{shop_name}}: {{code}} = {{percent}}% for {{valid_hours}}h {{checkout_url}} {{unknown}}", calls.OfferDiscount, SMSVars{
		ShopName:    "Demo",
		Code:        "SAVEABC234",
		Percent:     10,
		ValidHours:  48,
		CheckoutURL: "https://x/r",
	})
	assert.Equal(t, "Demo: SAVEABC234 = 10% for 48h https://x/r {{unknown}}", got)
}

func TestRenderSMS_DefaultGreetsAnonymousCustomer(t *testing.T) {
	got := RenderSMS("  ", calls.OfferLinkOnly, SMSVars{ShopName: "Demo", CheckoutURL: "https://x/r"})
	assert.Equal(t, "Hi there, here is the link to finish your order at Demo: https://x/r", got)
}

func TestResultCache_Expires(t *testing.T) {
	c := NewResultCache(8, 20*time.Millisecond)
	c.Add("s", "j", "t", ToolResult{OfferCode: "A"})

	got, ok := c.Get("s", "j", "t")
	assert.True(t, ok)
	assert.Equal(t, "A", got.OfferCode)

	_, ok = c.Get("s", "j", "other")
	assert.False(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("s", "j", "t")
	assert.False(t, ok)
}

func TestResultCache_IsBounded(t *testing.T) {
	c := NewResultCache(2, time.Minute)
	c.Add("s", "j", "1", ToolResult{})
	c.Add("s", "j", "2", ToolResult{})
	c.Add("s", "j", "3", ToolResult{})
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("s", "j", "1")
	assert.False(t, ok)
}
