package channel

import (
	"fmt"
	"strings"

	"github.com/convograph/convograph/internal/models"
)

// FormatEnvelope flattens an envelope into plain text for channels without
// native support for structured messages. Quick replies and buttons become
// numbered options; paged content becomes one line per element with a
// view-more hint when another page exists.
func FormatEnvelope(envelope models.StdOutgoingEnvelope) string {
	msg := envelope.Message

	switch envelope.Format {
	case models.FormatText:
		return msg.Text

	case models.FormatQuickReplies:
		var b strings.Builder
		b.WriteString(msg.Text)
		for i, qr := range msg.QuickReplies {
			fmt.Fprintf(&b, "\n%d) %s", i+1, qr.Title)
		}
		return b.String()

	case models.FormatButtons:
		var b strings.Builder
		b.WriteString(msg.Text)
		for i, btn := range msg.Buttons {
			if btn.Type == models.ButtonTypeWebURL {
				fmt.Fprintf(&b, "\n%d) %s: %s", i+1, btn.Title, btn.URL)
			} else {
				fmt.Fprintf(&b, "\n%d) %s", i+1, btn.Title)
			}
		}
		return b.String()

	case models.FormatAttachment:
		if msg.Attachment != nil {
			return fmt.Sprintf("[%s attachment %s]", msg.Attachment.Type, msg.Attachment.AttachmentID)
		}
		return ""

	case models.FormatList, models.FormatCarousel:
		var lines []string
		for _, el := range msg.Elements {
			line := el.Title
			if el.Subtitle != "" {
				line += " - " + el.Subtitle
			}
			lines = append(lines, line)
		}
		if p := msg.Pagination; p != nil && p.Skip+p.Limit < p.Total {
			lines = append(lines, fmt.Sprintf("Reply %s to see more.", models.ViewMorePayload))
		}
		return strings.Join(lines, "\n")

	default:
		return msg.Text
	}
}
