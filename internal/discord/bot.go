// Package discord connects agents to Discord: it records channel history,
// publishes inbound messages and delivers what the dispatcher says.
package discord

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/keshon/companion/internal/analysis"
	"github.com/keshon/companion/internal/audience"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/config"
	"github.com/keshon/companion/internal/dispatch"
	"github.com/keshon/companion/internal/mind"
	"github.com/keshon/companion/pkg/eventbus"
	"github.com/keshon/companion/pkg/logx"
	"github.com/rs/zerolog"
)

// AdminWindow is how far back an admin message counts as admin presence.
const AdminWindow = 30 * time.Minute

// History is the message store the bot writes to.
type History interface {
	InsertMessage(ctx context.Context, key chat.Key, m chat.Message) (int64, error)
	Recent(ctx context.Context, key chat.Key, before int64, limit int) ([]chat.Message, error)
	SpokeSince(ctx context.Context, key chat.Key, userIDs []string, t time.Time) (bool, error)
}

// Router classifies messages that mention the agent. *analysis.Analyzer implements it.
type Router interface {
	RouteMessage(ctx context.Context, name string, history []chat.Message, msg chat.Message) analysis.Route
}

// Deps are shared by every bot of a fleet. Audience may be nil.
type Deps struct {
	History  History
	Bus      *eventbus.Bus
	Router   Router
	Submit   mind.Submitter
	Audience *audience.Book
}

// Inbound is a received message stripped of transport details.
type Inbound struct {
	GuildID   string
	ChannelID string
	MessageID string
	AuthorID  string
	Nick      string
	Content   string
	Timestamp time.Time
	GroupSize int
	FromSelf  bool
	FromBot   bool
	Mentioned bool
}

// Bot is one agent's Discord session.
type Bot struct {
	persona config.Persona
	deps    Deps
	now     func() time.Time
	log     zerolog.Logger

	mu  sync.RWMutex
	dg  *discordgo.Session
	ctx context.Context
}

func NewBot(p config.Persona, deps Deps) *Bot {
	return &Bot{
		persona: p,
		deps:    deps,
		now:     time.Now,
		ctx:     context.Background(),
		log:     logx.With("discord").With().Str("agent", p.ID).Logger(),
	}
}

// Run opens the session and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	token := b.persona.Token()
	if token == "" {
		return fmt.Errorf("agent %s: empty bot token (env %s)", b.persona.ID, b.persona.TokenEnv)
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent | discordgo.IntentsGuildMembers
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onMessageCreate)

	b.mu.Lock()
	b.dg = dg
	b.ctx = ctx
	b.mu.Unlock()

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, closing session")
	return nil
}

func (b *Bot) session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dg
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord bot is running")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.GuildID == "" {
		return
	}
	in := Inbound{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		AuthorID:  m.Author.ID,
		Nick:      displayName(m),
		Content:   m.ContentWithMentionsReplaced(),
		Timestamp: m.Timestamp,
		FromSelf:  m.Author.ID == s.State.User.ID,
		FromBot:   m.Author.Bot,
		Mentioned: slices.ContainsFunc(m.Mentions, func(u *discordgo.User) bool { return u.ID == s.State.User.ID }),
	}
	if g, err := s.State.Guild(m.GuildID); err == nil && g != nil {
		in.GroupSize = g.MemberCount
	}

	b.mu.RLock()
	ctx := b.ctx
	b.mu.RUnlock()
	if err := b.HandleMessage(ctx, in); err != nil {
		b.log.Error().Err(err).Str("channel", m.ChannelID).Msg("failed to handle message")
	}
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// HandleMessage records in, publishes it, refreshes the audience and, when the
// agent is mentioned and the router says so, asks the dispatcher for a reply.
func (b *Bot) HandleMessage(ctx context.Context, in Inbound) error {
	if !b.persona.AllowsChannel(in.ChannelID) || (in.FromBot && !in.FromSelf) {
		return nil
	}
	key := chat.NewKey(b.persona.ID, in.ChannelID)
	msg := chat.Message{
		ID:        in.MessageID,
		UserID:    in.AuthorID,
		Nick:      in.Nick,
		Content:   in.Content,
		Timestamp: in.Timestamp,
		Mentioned: in.Mentioned,
	}
	if in.FromSelf {
		msg.UserID = b.persona.ID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}

	seq, err := b.deps.History.InsertMessage(ctx, key, msg)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	msg.Seq = seq
	if in.FromSelf {
		return nil
	}
	b.deps.Bus.Publish(chat.MessageReceived{Key: key, Message: msg})

	if b.deps.Audience != nil {
		admin, err := b.deps.History.SpokeSince(ctx, key, b.persona.Admins, b.now().Add(-AdminWindow))
		if err != nil {
			b.log.Warn().Err(err).Msg("admin presence check failed")
		}
		b.deps.Audience.SetGroup(key, in.GroupSize, admin)
	}

	if !in.Mentioned {
		return nil
	}
	history, err := b.deps.History.Recent(ctx, key, seq, 20)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if b.deps.Router.RouteMessage(ctx, b.persona.Name, history, msg) != analysis.RouteChat {
		b.log.Debug().Str("key", key.String()).Msg("mention ignored by router")
		return nil
	}
	t := dispatch.NewTrigger(key, dispatch.Interrupt, dispatch.ChatUrgent|dispatch.Grab|dispatch.IgnoreInterrupt)
	t.Input = msg.Content
	b.log.Info().Str("key", key.String()).Str("correlation_id", t.CorrelationID).Msg("mentioned, submitting reply")
	b.deps.Submit.Submit(t)
	return nil
}
