package chat

import "github.com/lithammer/shortuuid/v4"

const (
	conversationIDAlphabet = "abcdefghijklmnopqrstuvwxyz1234567890"
	// ConversationIDLength is the length of generated chat ids
	ConversationIDLength = 12
)

// NewConversationID returns a random chat id of ConversationIDLength
// lowercase letters and digits.
func NewConversationID() string {
	id := shortuuid.NewWithAlphabet(conversationIDAlphabet)
	for len(id) < ConversationIDLength {
		id += shortuuid.NewWithAlphabet(conversationIDAlphabet)
	}
	// shortuuid writes the least significant digit first
	return id[:ConversationIDLength]
}
