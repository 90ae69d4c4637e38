// Package compose builds the outbound text/caption for relayed posts.
//
// Everything here is pure: inputs in, HTML-safe string out.
package compose

import (
	"relaybot/pkg/tghtml"
)

// Settings decorate every relayed post.
type Settings struct {
	ChannelName string
	ChannelLink string
	Separator   string
	ButtonText  string
	ShowAuthor  bool
}

// Suffix is the fixed channel-attribution block appended to every post.
func Suffix(s Settings) string {
	return "\n\n" + tghtml.Esc(s.ChannelName).String() + tghtml.Esc(s.Separator).String() +
		tghtml.Link(s.ButtonText, s.ChannelLink).String() + "\n\n#news"
}

// Compose renders the final text/caption for one post. An empty base is
// fine: the result then starts directly with the suffix block.
func Compose(base, senderName string, s Settings) string {
	out := tghtml.Esc(base).String() + Suffix(s)
	if s.ShowAuthor {
		out += "\n\nby " + tghtml.B(senderName).String()
	}
	return out
}
