package mailstore

import (
	"github.com/rbaliyan/mailstore/label"
	"github.com/rbaliyan/mailstore/mime"
)

// Filter classifies a parsed message before storage. Filters may add
// labels but never remove them, and must not depend on storage state.
type Filter interface {
	Apply(msg *mime.Message) *mime.Message
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(msg *mime.Message) *mime.Message

func (f FilterFunc) Apply(msg *mime.Message) *mime.Message {
	return f(msg)
}

// Chain applies filters in order. The delivery agent always runs the
// spam filter first and the default routing filter last, with any
// user-supplied filters in between.
type Chain []Filter

func (c Chain) Apply(msg *mime.Message) *mime.Message {
	for _, f := range c {
		msg = f.Apply(msg)
	}
	return msg
}

// SpamFilter labels messages the upstream scanner flagged via the
// X-Spam-Flag header. A spam-labeled message skips the inbox because
// the default filter only fires on unlabeled messages.
func SpamFilter() Filter {
	return FilterFunc(func(msg *mime.Message) *mime.Message {
		if msg.MinorHeader(mime.HeaderSpamFlag) == "YES" {
			msg.AddLabel(label.Spam)
		}
		return msg
	})
}

// DefaultFilter routes otherwise-unlabeled messages to the inbox, so
// every stored message carries at least one label. With pop3 set the
// message is additionally exposed to POP3 retrieval.
func DefaultFilter(pop3 bool) Filter {
	return FilterFunc(func(msg *mime.Message) *mime.Message {
		if msg.LabelCount() > 0 {
			return msg
		}
		msg.AddLabel(label.Inbox)
		if pop3 {
			msg.AddLabel(label.POP3)
		}
		return msg
	})
}
