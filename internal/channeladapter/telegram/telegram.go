// Package telegram implements an edit-in-place channel adapter over
// the Telegram Bot API using long polling. Grounded on the teacher's
// internal/channels/telegram package: same telego.Bot wiring, long
// polling loop shape, and thread/topic id handling, generalized to the
// spec's dual progress/answer message model with inline-keyboard
// cancel and keepalive controls instead of the teacher's reaction-based
// status indicator.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/channeladapter"
)

const maxMessageLen = 4096

// Config is the Telegram-specific connection and policy configuration.
type Config struct {
	Token          string
	RequireMention bool
	AllowFrom      []string
}

// Channel connects to Telegram via long polling and acts both as an
// inbound source and as a channeladapter.EditTransport.
type Channel struct {
	cfg    Config
	bot    *telego.Bot
	router bus.MessageRouter

	pollCancel context.CancelFunc
	pollDone   chan struct{}

	mu         sync.Mutex
	cancels    map[string]func()
	keepalives map[string]chan bool
}

// New creates a Telegram channel from config.
func New(cfg Config, router bus.MessageRouter) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		cfg:        cfg,
		bot:        bot,
		router:     router,
		cancels:    make(map[string]func()),
		keepalives: make(map[string]chan bool),
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				} else if update.CallbackQuery != nil {
					c.handleCallback(update.CallbackQuery)
				}
			}
		}
	}()

	slog.Info("telegram channel connected", "username", c.bot.Username())
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
		}
	}
	return nil
}

func (c *Channel) handleMessage(m *telego.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}

	peerKind := bus.PeerDirect
	if m.Chat.Type != telego.ChatTypePrivate {
		peerKind = bus.PeerGroup
	}

	if peerKind == bus.PeerGroup && c.cfg.RequireMention {
		mentioned := false
		if m.Entities != nil {
			for _, e := range m.Entities {
				if e.Type == telego.EntityTypeMention || e.Type == telego.EntityTypeTextMention {
					mentioned = true
					break
				}
			}
		}
		if !mentioned {
			return
		}
	}

	peerID := strconv.FormatInt(m.Chat.ID, 10)
	var threadID string
	if m.MessageThreadID != 0 {
		threadID = strconv.Itoa(m.MessageThreadID)
	}

	c.router.PublishInbound(bus.InboundMessage{
		Channel:   "telegram",
		AccountID: strconv.FormatInt(c.bot.ID(), 10),
		Peer: bus.Peer{
			Kind:     peerKind,
			ID:       peerID,
			ThreadID: threadID,
		},
		Sender: bus.Sender{
			ID:          strconv.FormatInt(m.From.ID, 10),
			DisplayName: displayName(m),
		},
		MessageID: strconv.Itoa(m.MessageID),
		Text:      m.Text,
		Timestamp: time.Unix(int64(m.Date), 0),
	})
}

func (c *Channel) handleCallback(cq *telego.CallbackQuery) {
	data := cq.Data

	c.mu.Lock()
	cancel, isCancel := c.cancels[data]
	base := strings.TrimSuffix(strings.TrimSuffix(data, ":keep"), ":stop")
	ch, isKeepalive := c.keepalives[base]
	c.mu.Unlock()

	switch {
	case isCancel:
		cancel()
		_ = c.bot.AnswerCallbackQuery(context.Background(), tu.CallbackQuery(cq.ID).WithText("Run cancelled."))
	case isKeepalive:
		ch <- strings.HasSuffix(data, ":keep")
		_ = c.bot.AnswerCallbackQuery(context.Background(), tu.CallbackQuery(cq.ID))
	}
}

// Send implements channeladapter.EditTransport. channel is the chat id
// as a decimal string.
func (c *Channel) Send(channel string, text string) (string, error) {
	chatID, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid chat id %q: %w", channel, err)
	}
	msg, err := c.bot.SendMessage(context.Background(), tu.Message(tu.ID(chatID), truncate(text, maxMessageLen)))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.MessageID), nil
}

// Edit implements channeladapter.EditTransport.
func (c *Channel) Edit(channel, messageID, text string) error {
	chatID, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return err
	}
	_, err = c.bot.EditMessageText(context.Background(), &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: msgID,
		Text:      truncate(text, maxMessageLen),
	})
	return err
}

// AddCancelControl implements channeladapter.EditTransport by attaching
// a "Stop run" inline button to messageID.
func (c *Channel) AddCancelControl(channel, messageID string, onCancel func()) {
	chatID, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return
	}

	customID := "cancel:" + messageID
	c.mu.Lock()
	c.cancels[customID] = onCancel
	c.mu.Unlock()

	_, _ = c.bot.EditMessageReplyMarkup(context.Background(), &telego.EditMessageReplyMarkupParams{
		ChatID:    tu.ID(chatID),
		MessageID: msgID,
		ReplyMarkup: tu.InlineKeyboard(
			tu.InlineKeyboardRow(tu.InlineKeyboardButton("Stop run").WithCallbackData(customID)),
		),
	})
}

// RequestKeepalive implements channeladapter.KeepaliveRequester.
func (c *Channel) RequestKeepalive(sessionKey, channel string, confirmTimeout time.Duration) bool {
	chatID, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return false
	}

	base := "keepalive:" + sessionKey
	ch := make(chan bool, 1)
	c.mu.Lock()
	c.keepalives[base] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.keepalives, base)
		c.mu.Unlock()
	}()

	_, err = c.bot.SendMessage(context.Background(), tu.Message(tu.ID(chatID), "This run has been quiet for a while. Keep waiting?").
		WithReplyMarkup(tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("Keep waiting").WithCallbackData(base+":keep"),
				tu.InlineKeyboardButton("Stop run").WithCallbackData(base+":stop"),
			),
		)))
	if err != nil {
		return false
	}

	select {
	case keep := <-ch:
		return keep
	case <-time.After(confirmTimeout):
		return false
	}
}

func displayName(m *telego.Message) string {
	if m.From.Username != "" {
		return m.From.Username
	}
	name := m.From.FirstName
	if m.From.LastName != "" {
		name += " " + m.From.LastName
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	if idx := strings.LastIndexByte(s[:n], '\n'); idx > n/2 {
		cut = idx
	}
	return s[:cut]
}

var _ channeladapter.EditTransport = (*Channel)(nil)
var _ channeladapter.KeepaliveRequester = (*Channel)(nil)
