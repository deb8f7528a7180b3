package chat

// Bubble is a display-ready rendering of one message for a given perspective.
// Own messages sit on the right, the counterpart's on the left, each with its
// perspective-stable background color.
type Bubble struct {
	Text  string `json:"text"`
	Align string `json:"align"`
	Color string `json:"color"`
}

const (
	alignLeft  = "left"
	alignRight = "right"

	colorTheirs = "#DEEAFD"
	colorOwn    = "#F5EFFE"
)

// FormatFor renders the history from the point of view of the given role. The
// bot surface and the client surface show mirrored alignments of the same
// shared history.
func FormatFor(perspective Role, msgs []Message) []Bubble {
	bubbles := make([]Bubble, 0, len(msgs))
	for _, m := range msgs {
		b := Bubble{Text: m.Text}
		switch m.Role {
		case perspective:
			b.Align = alignRight
			b.Color = colorOwn
		case RoleBot, RoleClient:
			b.Align = alignLeft
			b.Color = colorTheirs
		default:
			// Unknown roles render like the counterpart's so a bad record
			// degrades visibly instead of disappearing.
			b.Align = alignLeft
			b.Color = colorTheirs
		}
		bubbles = append(bubbles, b)
	}
	return bubbles
}
