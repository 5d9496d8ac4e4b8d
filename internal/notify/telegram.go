// Package notify posts drop events to a Telegram chat. The notifier is
// optional: without a bot token and chat id every call is a no-op, and send
// failures are logged warnings, never errors for the caller.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/twitch"
)

// BotAPI is the Telegram Bot API base URL.
const BotAPI = "https://api.telegram.org/bot"

const sendTimeout = 10 * time.Second

// Telegram sends HTML-formatted messages via the Bot API sendMessage call.
type Telegram struct {
	token  string
	chatID string
	api    string
	client *http.Client
}

// NewTelegram builds a notifier for the given bot token and chat id (numeric
// id or @username). Either being empty disables it.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		api:    BotAPI,
		client: &http.Client{Timeout: sendTimeout},
	}
}

// Enabled reports whether notifications will actually be sent.
func (t *Telegram) Enabled() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

// DropClaimed announces a successfully claimed drop. Returns whether the
// message was delivered.
func (t *Telegram) DropClaimed(drop *twitch.TimedDrop) bool {
	if !t.Enabled() {
		return false
	}
	campaign := drop.Campaign
	message := fmt.Sprintf(
		"🎮 <b>Drop Claimed!</b>\n"+
			"<b>Campaign:</b> %s\n"+
			"<b>Game:</b> %s\n"+
			"<b>Drop:</b> %s\n"+
			"<b>Reward:</b> %s",
		campaign.Name, campaign.Game.Name, drop.Name, rewardsText(drop),
	)
	return t.send(message)
}

// DropReady announces a drop that reached its required watch time.
func (t *Telegram) DropReady(drop *twitch.TimedDrop) bool {
	if !t.Enabled() {
		return false
	}
	campaign := drop.Campaign
	message := fmt.Sprintf(
		"⏱️ <b>Drop Ready to Claim!</b>\n"+
			"<b>Campaign:</b> %s\n"+
			"<b>Game:</b> %s\n"+
			"<b>Drop:</b> %s\n"+
			"<b>Reward:</b> %s\n"+
			"✅ <i>All required time reached - ready to claim!</i>",
		campaign.Name, campaign.Game.Name, drop.Name, rewardsText(drop),
	)
	return t.send(message)
}

func rewardsText(drop *twitch.TimedDrop) string {
	if text := drop.RewardsText(", "); text != "" {
		return text
	}
	return "Unknown"
}

func (t *Telegram) send(text string) bool {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		logx.Warnf("notify", "encode telegram message: %v", err)
		return false
	}
	resp, err := t.client.Post(t.api+t.token+"/sendMessage", "application/json", bytes.NewReader(body))
	if err != nil {
		logx.Warnf("notify", "telegram send: %v", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logx.Warnf("notify", "telegram api error %d: %s", resp.StatusCode, detail)
		return false
	}
	logx.Debugf("notify", "telegram notification sent")
	return true
}
