// Package discord implements an edit-in-place channel adapter over the
// Discord Bot API. Grounded on the teacher's internal/channels/discord
// package: same discordgo.Session wiring, same typing-indicator and
// chunked-send helpers, generalized from the teacher's single fixed
// "Thinking..." placeholder flow into the spec's progress/answer
// dual-message model with a real cancel button instead of a slash
// command.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/channeladapter"
)

const maxMessageLen = 2000

// Config is the Discord-specific connection and policy configuration
// (spec §6 channel config block).
type Config struct {
	Token          string
	RequireMention bool
	AllowFrom      []string
}

// Channel connects to Discord over the gateway and acts both as an
// inbound source (publishing through bus.MessageRouter) and as a
// channeladapter.EditTransport.
type Channel struct {
	cfg     Config
	session *discordgo.Session
	router  bus.MessageRouter

	botUserID string

	mu         sync.Mutex
	cancels    map[string]func()    // custom_id -> cancel callback
	keepalives map[string]chan bool // custom_id -> response channel
}

// New dials a Discord bot session (without opening the gateway yet).
func New(cfg Config, router bus.MessageRouter) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		cfg:        cfg,
		session:    session,
		router:     router,
		cancels:    make(map[string]func()),
		keepalives: make(map[string]chan bool),
	}, nil
}

// Start opens the gateway connection and begins dispatching inbound
// events onto the bus.
func (c *Channel) Start(ctx context.Context) error {
	c.session.AddHandler(c.handleMessage)
	c.session.AddHandler(c.handleInteraction)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	slog.Info("discord channel connected", "username", user.Username)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	return c.session.Close()
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	isDM := m.GuildID == ""
	peerKind := bus.PeerGroup
	if isDM {
		peerKind = bus.PeerDirect
	}

	if peerKind == bus.PeerGroup && c.cfg.RequireMention {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}

	c.router.PublishInbound(bus.InboundMessage{
		Channel:   "discord",
		AccountID: c.botUserID,
		Peer: bus.Peer{
			Kind: peerKind,
			ID:   m.ChannelID,
		},
		Sender: bus.Sender{
			ID:          m.Author.ID,
			DisplayName: resolveDisplayName(m),
		},
		MessageID: m.ID,
		Text:      content,
		Timestamp: m.Timestamp,
	})
}

func (c *Channel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	customID := i.MessageComponentData().CustomID

	c.mu.Lock()
	cancel, isCancel := c.cancels[customID]
	ch, isKeepalive := c.keepalives[strings.TrimSuffix(strings.TrimSuffix(customID, ":keep"), ":stop")]
	c.mu.Unlock()

	switch {
	case isCancel:
		cancel()
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: "Run cancelled."},
		})
	case isKeepalive:
		ch <- strings.HasSuffix(customID, ":keep")
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		})
	}
}

// Send implements channeladapter.EditTransport.
func (c *Channel) Send(channel string, text string) (string, error) {
	msg, err := c.session.ChannelMessageSend(channel, truncate(text, maxMessageLen))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Edit implements channeladapter.EditTransport.
func (c *Channel) Edit(channel, messageID, text string) error {
	_, err := c.session.ChannelMessageEdit(channel, messageID, truncate(text, maxMessageLen))
	return err
}

// AddCancelControl implements channeladapter.EditTransport by attaching
// a "Stop run" button to messageID.
func (c *Channel) AddCancelControl(channel, messageID string, onCancel func()) {
	customID := "cancel:" + messageID
	c.mu.Lock()
	c.cancels[customID] = onCancel
	c.mu.Unlock()

	_, _ = c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel: channel,
		ID:      messageID,
		Components: &[]discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Stop run",
						Style:    discordgo.DangerButton,
						CustomID: customID,
					},
				},
			},
		},
	})
}

// RequestKeepalive implements channeladapter.KeepaliveRequester: posts
// a "keep waiting / stop run" prompt and waits for a button click.
func (c *Channel) RequestKeepalive(sessionKey, channel string, confirmTimeout time.Duration) bool {
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

	_, err := c.session.ChannelMessageSendComplex(channel, &discordgo.MessageSend{
		Content: "This run has been quiet for a while. Keep waiting?",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Keep waiting", Style: discordgo.PrimaryButton, CustomID: base + ":keep"},
					discordgo.Button{Label: "Stop run", Style: discordgo.DangerButton, CustomID: base + ":stop"},
				},
			},
		},
	})
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

func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
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
