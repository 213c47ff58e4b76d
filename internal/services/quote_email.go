package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`,
	"<", "&lt;", ">", "&gt;", "|", `\|`, "#", `\#`,
)

// quoteEmail is a rendered quote email.
type quoteEmail struct {
	Subject  string
	Markdown string
	HTML     string
}

type quoteEmailRenderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

func newQuoteEmailRenderer() *quoteEmailRenderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("style").OnElements("td", "th")
	policy.RequireNoFollowOnLinks(true)
	return &quoteEmailRenderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.Table)),
		policy:   policy,
	}
}

func (r *quoteEmailRenderer) Render(q Quote) (quoteEmail, error) {
	md := quoteMarkdown(q)
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(md), &buf); err != nil {
		return quoteEmail{}, fmt.Errorf("render quote email: %w", err)
	}
	return quoteEmail{
		Subject:  fmt.Sprintf("Your treatment quote %s", q.Reference),
		Markdown: md,
		HTML:     r.policy.Sanitize(buf.String()),
	}, nil
}

func quoteMarkdown(q Quote) string {
	var b strings.Builder
	cur := q.Currency
	fmt.Fprintf(&b, "# Your treatment quote\n\n")
	if name := strings.TrimSpace(q.Patient.Name); name != "" {
		fmt.Fprintf(&b, "Dear %s,\n\n", escapeMarkdown(name))
	}
	fmt.Fprintf(&b, "Here is the quote you requested. Your reference is **%s**.\n\n", escapeMarkdown(q.Reference))

	b.WriteString("| Item | Qty | Amount |\n|---|---:|---:|\n")
	if q.Package != nil {
		fmt.Fprintf(&b, "| %s (package) | 1 | %s |\n", escapeMarkdown(q.Package.Name), FormatMoney(q.Package.Price, cur))
		for _, t := range q.Package.Treatments {
			fmt.Fprintf(&b, "| &nbsp;&nbsp;%s | | included |\n", escapeMarkdown(t.Name))
		}
	}
	for _, line := range q.Treatments {
		fmt.Fprintf(&b, "| %s | %d | %s |\n", escapeMarkdown(line.Treatment.Name), line.Quantity, FormatMoney(line.LineTotal(), cur))
	}
	b.WriteString("\n")

	t := q.Totals
	fmt.Fprintf(&b, "- Subtotal: %s\n", FormatMoney(t.Subtotal, cur))
	for _, d := range t.Discounts {
		if !d.Subtracted {
			continue
		}
		label := d.Description
		if label == "" {
			label = "Promo code"
		}
		if d.Code != "" {
			label += " (" + d.Code + ")"
		}
		fmt.Fprintf(&b, "- %s: -%s\n", escapeMarkdown(label), FormatMoney(d.Amount, cur))
	}
	if t.PackageSavings > 0 {
		fmt.Fprintf(&b, "- Package savings: %s\n", FormatMoney(t.PackageSavings, cur))
	}
	fmt.Fprintf(&b, "- **Total: %s**\n", FormatMoney(t.Total, cur))
	if t.TotalSavings > 0 {
		fmt.Fprintf(&b, "- You save %s\n", FormatMoney(t.TotalSavings, cur))
	}
	if date := strings.TrimSpace(q.Patient.PreferredDate); date != "" {
		fmt.Fprintf(&b, "\nPreferred treatment date: %s\n", escapeMarkdown(date))
	}
	b.WriteString("\nPrices are estimates and are confirmed after your clinical consultation.\n")
	return b.String()
}

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(strings.Join(strings.Fields(s), " "))
}

// signEmail authenticates a job payload for the email worker. An empty
// key disables signing.
func signEmail(key []byte, quoteID, to, html string) string {
	if len(key) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(quoteID))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(to))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(html))
	return hex.EncodeToString(mac.Sum(nil))
}
