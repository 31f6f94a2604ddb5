package countertop

import (
	"regexp"

	"github.com/c360/countertop/broker"
)

var topicUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeTopic replaces every character outside [A-Za-z0-9._-] with '-'
// and truncates the result to broker.MaxTopicLength.
func SanitizeTopic(name string) string {
	out := topicUnsafe.ReplaceAllString(name, "-")
	if len(out) > broker.MaxTopicLength {
		out = out[:broker.MaxTopicLength]
	}
	return out
}

// TopicName is the topic carrying payloads of dataType produced at the
// mouth of s.
func TopicName(dataType string, s *Stream) string {
	return SanitizeTopic(dataType + "::" + s.ID())
}
