package telegram

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/TarotPipe/internal/models"
)

// Update is the subset of a Bot API update the bot consumes.
type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message,omitempty"`
	EditedMessage *Message `json:"edited_message,omitempty"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat,omitempty"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Date      int64  `json:"date,omitempty"`
}

// Chat identifies the conversation.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName prefers the first name, then the full name, then @username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	first := strings.TrimSpace(u.FirstName)
	last := strings.TrimSpace(u.LastName)
	switch {
	case first != "":
		return first
	case last != "":
		return last
	case strings.TrimSpace(u.Username) != "":
		return "@" + strings.TrimSpace(u.Username)
	default:
		return ""
	}
}

// ToInbound converts an update to an InboundMessage. ok is false for updates
// without a text message, such as stickers or service messages.
func (u Update) ToInbound() (models.InboundMessage, bool) {
	m := u.Message
	if m == nil || m.Chat == nil {
		return models.InboundMessage{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" {
		return models.InboundMessage{}, false
	}
	return models.InboundMessage{
		ChatID:      strconv.FormatInt(m.Chat.ID, 10),
		Text:        text,
		DisplayName: m.From.DisplayName(),
		DeliveryID:  strconv.FormatInt(u.UpdateID, 10),
	}, true
}

// apiResponse is the Bot API envelope.
type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

type sendMessageRequest struct {
	ChatID                any    `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type sendChatActionRequest struct {
	ChatID any    `json:"chat_id"`
	Action string `json:"action"`
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// chatRef sends numeric ids as integers and anything else, such as
// @channelname, verbatim.
func chatRef(chatID string) any {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return id
	}
	return chatID
}
