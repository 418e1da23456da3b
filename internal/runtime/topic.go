package runtime

import (
	"strings"

	errspkg "github.com/drblury/rtpsbridge/internal/runtime/errors"
)

// Topic names a data stream and carries its QoS. The name is the wire
// identity: a reader and a writer on the same name meet even when their
// QoS differs.
type Topic struct {
	Name           string
	Reliable       bool
	TransientLocal bool
}

// NewTopic returns a topic descriptor.
func NewTopic(name string, reliable, transientLocal bool) Topic {
	return Topic{Name: name, Reliable: reliable, TransientLocal: transientLocal}
}

func (t Topic) String() string {
	return t.Name
}

func (t Topic) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errspkg.ErrTopicRequired
	}
	return nil
}
