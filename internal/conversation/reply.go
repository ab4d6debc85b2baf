package conversation

import "github.com/nugget/gitbot/internal/assistant"

// ImagePlaceholder stands in for image content, which is not posted.
const ImagePlaceholder = "An image file was returned, but images are not supported yet."

// ExtractReply collects the assistant's reply from a newest-first
// message list: everything after the most recent user message. Segments
// come out newest message first, content in stored order.
func ExtractReply(msgs []assistant.Message) []string {
	var segments []string
	for _, m := range msgs {
		if m.Role == "user" {
			break
		}
		for _, c := range m.Content {
			switch c.Type {
			case assistant.ContentText:
				segments = append(segments, c.Text)
			case assistant.ContentImageFile:
				segments = append(segments, ImagePlaceholder)
			}
		}
	}
	return segments
}
