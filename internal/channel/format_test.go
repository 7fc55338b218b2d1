package channel

import (
	"testing"

	"github.com/convograph/convograph/internal/models"
)

func TestFormatEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		envelope models.StdOutgoingEnvelope
		want     string
	}{
		{
			"plain text",
			models.StdOutgoingEnvelope{
				Format:  models.FormatText,
				Message: models.StdOutgoingMessage{Text: "Hello"},
			},
			"Hello",
		},
		{
			"quick replies numbered",
			models.StdOutgoingEnvelope{
				Format: models.FormatQuickReplies,
				Message: models.StdOutgoingMessage{
					Text: "Pick one",
					QuickReplies: []models.QuickReply{
						{Title: "Yes", Payload: "YES"},
						{Title: "No", Payload: "NO"},
					},
				},
			},
			"Pick one\n1) Yes\n2) No",
		},
		{
			"buttons with url",
			models.StdOutgoingEnvelope{
				Format: models.FormatButtons,
				Message: models.StdOutgoingMessage{
					Text: "Visit us",
					Buttons: []models.Button{
						{Type: models.ButtonTypePostback, Title: "Order", Payload: "ORDER"},
						{Type: models.ButtonTypeWebURL, Title: "Website", URL: "https://example.com"},
					},
				},
			},
			"Visit us\n1) Order\n2) Website: https://example.com",
		},
		{
			"attachment",
			models.StdOutgoingEnvelope{
				Format: models.FormatAttachment,
				Message: models.StdOutgoingMessage{
					Attachment: &models.AttachmentPayload{Type: models.AttachmentTypeImage, AttachmentID: "att-1"},
				},
			},
			"[image attachment att-1]",
		},
		{
			"list with more pages",
			models.StdOutgoingEnvelope{
				Format: models.FormatList,
				Message: models.StdOutgoingMessage{
					Elements: []models.ContentElement{
						{Title: "Item 1", Subtitle: "First"},
						{Title: "Item 2"},
					},
					Pagination: &models.Pagination{Total: 25, Skip: 0, Limit: 10},
				},
			},
			"Item 1 - First\nItem 2\nReply VIEW_MORE to see more.",
		},
		{
			"last page has no view-more hint",
			models.StdOutgoingEnvelope{
				Format: models.FormatCarousel,
				Message: models.StdOutgoingMessage{
					Elements:   []models.ContentElement{{Title: "Item 24"}},
					Pagination: &models.Pagination{Total: 25, Skip: 20, Limit: 10},
				},
			},
			"Item 24",
		},
		{
			"exactly full last page",
			models.StdOutgoingEnvelope{
				Format: models.FormatList,
				Message: models.StdOutgoingMessage{
					Elements:   []models.ContentElement{{Title: "Item 10"}},
					Pagination: &models.Pagination{Total: 20, Skip: 10, Limit: 10},
				},
			},
			"Item 10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatEnvelope(tt.envelope); got != tt.want {
				t.Errorf("FormatEnvelope = %q, want %q", got, tt.want)
			}
		})
	}
}
