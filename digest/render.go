package digest

import (
	"fmt"
	"net/url"
	"strings"

	"medreg-notifier/pkg/medreg"
)

func (a *Assembler) renderHTML(payload *medreg.DigestPayload) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".header { border-bottom: 2px solid #2c5f8a; padding-bottom: 10px; margin-bottom: 20px; }\n")
	b.WriteString(".entry { margin-bottom: 25px; padding-bottom: 25px; border-bottom: 1px solid #ddd; }\n")
	b.WriteString(".entry:last-of-type { border-bottom: none; padding-bottom: 0; margin-bottom: 0; }\n")
	b.WriteString(".entry h3 { margin: 0 0 6px 0; }\n")
	b.WriteString(".meta { color: #7f8c8d; font-size: 0.9em; margin-bottom: 10px; }\n")
	b.WriteString(".tier-high { color: #c0392b; font-weight: 600; }\n")
	b.WriteString(".tier-medium { color: #d68910; font-weight: 600; }\n")
	b.WriteString(".tier-low { color: #7f8c8d; }\n")
	b.WriteString(".tags { font-size: 0.9em; color: #555; margin-top: 8px; }\n")
	b.WriteString(".footer { margin-top: 30px; padding-top: 15px; border-top: 1px solid #ddd; font-size: 0.85em; color: #7f8c8d; }\n")
	b.WriteString(".footer a { color: #7f8c8d; text-decoration: underline; margin-right: 12px; }\n")
	b.WriteString("a { color: #2c5f8a; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString(".header { border-bottom-color: #5a9fd4; }\n")
	b.WriteString(".meta { color: #a0a0a0; }\n")
	b.WriteString(".entry { border-bottom-color: #444; }\n")
	b.WriteString(".footer { border-top-color: #444; color: #a0a0a0; }\n")
	b.WriteString(".footer a { color: #a0a0a0; }\n")
	b.WriteString("a { color: #5a9fd4; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	b.WriteString(fmt.Sprintf("<h2>%s</h2>\n", escapeHTML(payload.Title)))
	b.WriteString(fmt.Sprintf("<p>Hello %s,</p>\n", escapeHTML(greetingName(payload.Recipient))))
	b.WriteString("</div>\n")

	if len(payload.Entries) == 0 {
		b.WriteString("<p>No regulatory changes matched your interests this period. We are still monitoring all configured sources.</p>\n")
	}

	for _, entry := range payload.Entries {
		b.WriteString("<div class=\"entry\">\n")
		b.WriteString(fmt.Sprintf("<h3><a href=\"%s\">%s</a></h3>\n", escapeHTML(entry.URL), escapeHTML(entry.Title)))

		b.WriteString("<div class=\"meta\">\n")
		b.WriteString(fmt.Sprintf("<span class=\"tier-%s\">%s importance</span>", entry.Tier, entry.Tier))
		b.WriteString(fmt.Sprintf(" &bull; %s", escapeHTML(entry.Source)))
		b.WriteString(fmt.Sprintf(" &bull; %s", escapeHTML(string(entry.Classification))))
		if !entry.DetectedAt.IsZero() {
			b.WriteString(fmt.Sprintf(" &bull; detected %s", entry.DetectedAt.Format("Jan 2, 2006")))
		}
		b.WriteString("\n</div>\n")

		if entry.Summary != "" {
			b.WriteString(fmt.Sprintf("<p>%s</p>\n", escapeHTML(entry.Summary)))
		}

		var tags []string
		if len(entry.Regulations) > 0 {
			tags = append(tags, "Regulations: "+strings.Join(entry.Regulations, ", "))
		}
		if len(entry.Standards) > 0 {
			tags = append(tags, "Standards: "+strings.Join(entry.Standards, ", "))
		}
		if len(entry.Topics) > 0 {
			tags = append(tags, "Topics: "+strings.Join(entry.Topics, ", "))
		}
		if len(entry.Dates) > 0 {
			tags = append(tags, "Dates mentioned: "+strings.Join(entry.Dates, ", "))
		}
		if len(tags) > 0 {
			b.WriteString(fmt.Sprintf("<div class=\"tags\">%s</div>\n", escapeHTML(strings.Join(tags, " | "))))
		}

		b.WriteString("</div>\n")
	}

	b.WriteString("<div class=\"footer\">\n")
	b.WriteString(fmt.Sprintf("<a href=\"%s\">Unsubscribe</a>\n", escapeHTML(a.unsubscribeURL(payload.Recipient))))
	b.WriteString(fmt.Sprintf("<a href=\"%s\">Settings</a>\n", escapeHTML(a.settingsURL(payload.Recipient))))
	b.WriteString("<p>This digest is generated automatically from publicly available regulatory sources. It does not constitute legal or regulatory advice. Always verify changes against the original publication.</p>\n")
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")

	return b.String()
}

func (a *Assembler) renderText(payload *medreg.DigestPayload) string {
	var b strings.Builder

	b.WriteString(payload.Title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", len(payload.Title)))
	b.WriteString("\n\n")

	b.WriteString("Hello " + greetingName(payload.Recipient) + ",\n\n")

	if len(payload.Entries) == 0 {
		b.WriteString("No regulatory changes matched your interests this period. We are still monitoring all configured sources.\n")
	}

	for i, entry := range payload.Entries {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, entry.Title))
		b.WriteString(fmt.Sprintf("   %s | %s | %s importance\n", entry.Source, entry.Classification, entry.Tier))
		b.WriteString("   " + entry.URL + "\n")
		if entry.Summary != "" {
			b.WriteString("   " + entry.Summary + "\n")
		}
		if len(entry.Regulations) > 0 {
			b.WriteString("   Regulations: " + strings.Join(entry.Regulations, ", ") + "\n")
		}
		if len(entry.Standards) > 0 {
			b.WriteString("   Standards: " + strings.Join(entry.Standards, ", ") + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("--\n")
	b.WriteString("Unsubscribe: " + a.unsubscribeURL(payload.Recipient) + "\n")
	b.WriteString("Settings: " + a.settingsURL(payload.Recipient) + "\n")
	b.WriteString("This digest is generated automatically from publicly available regulatory sources. It does not constitute legal or regulatory advice.\n")

	return b.String()
}

func greetingName(rcpt *medreg.Recipient) string {
	if rcpt.Name != "" {
		return rcpt.Name
	}
	return rcpt.Email
}

func (a *Assembler) unsubscribeURL(rcpt *medreg.Recipient) string {
	return fmt.Sprintf("%s/unsubscribe?token=%s", a.opts.BaseURL, url.QueryEscape(rcpt.Token))
}

func (a *Assembler) settingsURL(rcpt *medreg.Recipient) string {
	return fmt.Sprintf("%s/subscribe?token=%s", a.opts.BaseURL, url.QueryEscape(rcpt.Token))
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
