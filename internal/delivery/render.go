package delivery

import (
	"fmt"
	"strings"

	"contentsync/internal/source"
)

// Render assembles the channel payload for a document. It is a pure
// function: no I/O, no clock, same input same output.
func Render(doc source.Document, ch Channel, correlationID string) Payload {
	items := doc.Items()

	subject := "Content update"
	if len(items) > 0 && strings.TrimSpace(items[0].Title) != "" {
		subject = strings.TrimSpace(items[0].Title)
		if len(items) > 1 {
			subject = fmt.Sprintf("%s (+%d more)", subject, len(items)-1)
		}
	}

	var b strings.Builder
	for _, cat := range doc.Categories() {
		if len(doc[cat]) == 0 {
			continue
		}
		switch ch {
		case ChannelTelegram:
			fmt.Fprintf(&b, "*%s*\n", strings.ToUpper(cat))
		default:
			fmt.Fprintf(&b, "## %s\n", cat)
		}
		for _, it := range doc[cat] {
			writeItem(&b, ch, it)
		}
		b.WriteString("\n")
	}

	return Payload{
		Channel:       ch,
		Subject:       subject,
		Body:          strings.TrimRight(b.String(), "\n"),
		Items:         items,
		CorrelationID: correlationID,
	}
}

func writeItem(b *strings.Builder, ch Channel, it source.Item) {
	title := strings.TrimSpace(it.Title)
	switch ch {
	case ChannelTelegram:
		// Keep telegram posts short: title + link, body omitted.
		if it.URL != "" {
			fmt.Fprintf(b, "• [%s](%s)\n", title, it.URL)
		} else {
			fmt.Fprintf(b, "• %s\n", title)
		}
	default:
		fmt.Fprintf(b, "### %s\n", title)
		if body := strings.TrimSpace(it.Body); body != "" {
			b.WriteString(body)
			b.WriteString("\n")
		}
		if it.URL != "" {
			fmt.Fprintf(b, "%s\n", it.URL)
		}
	}
}
