package channel

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	topicPrefix     = "stream:"
	reactionsSuffix = ":reactions"
)

// StreamTopic is the chat, presence and lifecycle channel of a stream.
func StreamTopic(streamID uint) string {
	return fmt.Sprintf("%s%d", topicPrefix, streamID)
}

// ReactionsTopic is the broadcast-only reaction channel of a stream.
func ReactionsTopic(streamID uint) string {
	return StreamTopic(streamID) + reactionsSuffix
}

// TopicPattern matches every stream topic; used by pattern subscriptions.
func TopicPattern() string {
	return topicPrefix + "*"
}

// ParseTopic extracts the stream id from a topic name.
func ParseTopic(topic string) (uint, bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return 0, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(topic, topicPrefix), reactionsSuffix)
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
