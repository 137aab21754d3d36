package offers

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"

	"recovery-caller/internal/calls"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ23456789"

const codeSuffixLen = 6

// CodeGenerator returns a fresh candidate code for prefix.
type CodeGenerator func(prefix string) string

// RandomCode appends six random characters from A-Z and 2-9 to prefix. It
// panics if the system random source fails.
func RandomCode(prefix string) string {
	suffix, err := randomSuffix(rand.Reader, codeSuffixLen)
	if err != nil {
		panic(fmt.Sprintf("offers: random code: %v", err))
	}
	return strings.ToUpper(prefix) + suffix
}

// unbiasedLimit is the largest multiple of len(codeAlphabet) that fits in a
// byte; bytes at or above it are redrawn.
const unbiasedLimit = 256 - 256%len(codeAlphabet)

func randomSuffix(r io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		chunk := buf[:n-len(out)]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return "", err
		}
		for _, b := range chunk {
			if int(b) < unbiasedLimit {
				out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			}
		}
	}
	return string(out), nil
}

var defaultTemplates = map[calls.OfferType]string{
	calls.OfferLinkOnly:     "Hi {{customer_name}}, here is the link to finish your order at {{shop_name}}: {{checkout_url}}",
	calls.OfferDiscount:     "Hi {{customer_name}}, use code {{code}} for {{percent}}% off at {{shop_name}}. Valid for {{valid_hours}} hours: {{checkout_url}}",
	calls.OfferFreeShipping: "Hi {{customer_name}}, use code {{code}} for free shipping at {{shop_name}}. Valid for {{valid_hours}} hours: {{checkout_url}}",
}

// SMSVars are the placeholder values of an offer message.
type SMSVars struct {
	ShopName     string
	CustomerName string
	CheckoutURL  string
	Code         string
	Percent      int
	ValidHours   int
}

// RenderSMS fills tmpl, or the default for offerType when tmpl is blank.
// Unknown placeholders are left as written.
func RenderSMS(tmpl string, offerType calls.OfferType, v SMSVars) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = defaultTemplates[offerType]
	}
	name := v.CustomerName
	if name == "" {
		name = "there"
	}
	percent := ""
	if v.Percent > 0 {
		percent = strconv.Itoa(v.Percent)
	}
	r := strings.NewReplacer(
		"{{shop_name}}", v.ShopName,
		"{{customer_name}}", name,
		"{{checkout_url}}", v.CheckoutURL,
		"{{code}}", v.Code,
		"{{percent}}", percent,
		"{{valid_hours}}", strconv.Itoa(v.ValidHours),
	)
	return r.Replace(tmpl)
}
