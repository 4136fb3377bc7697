package commander

// Commander is the chat channel abstraction used by the poller and the
// command dispatcher. The production implementation talks to the Telegram
// Bot API; tests and the dummy run mode substitute scripted fakes.
type Commander interface {
	GetUpdates(offset int64, timeout int) ([]Update, error)
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, filePath, caption string) error
}

// Update represents one inbound message event.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message.
type Message struct {
	Chat Chat    `json:"chat"`
	From *User   `json:"from,omitempty"`
	Text *string `json:"text,omitempty"`
	Date int64   `json:"date"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User identifies the sender of a message.
type User struct {
	ID int64 `json:"id"`
}
