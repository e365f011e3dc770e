package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/keshon/companion/internal/chat"
	"github.com/keshon/companion/internal/config"
	"golang.org/x/sync/errgroup"
)

// ErrNoSession is returned when the agent of a key has no open session.
var ErrNoSession = errors.New("discord: no session for agent")

// Fleet runs one bot per persona and delivers messages for any of them.
// It implements dispatch.Sender.
type Fleet struct {
	mu   sync.RWMutex
	bots map[string]*Bot
}

func NewFleet(personas []config.Persona, deps Deps) *Fleet {
	f := &Fleet{bots: make(map[string]*Bot, len(personas))}
	for _, p := range personas {
		f.bots[p.ID] = NewBot(p, deps)
	}
	return f
}

// Run runs every bot until ctx is done or one of them fails.
func (f *Fleet) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	f.mu.RLock()
	for _, b := range f.bots {
		g.Go(func() error { return b.Run(ctx) })
	}
	f.mu.RUnlock()
	return g.Wait()
}

// Bot returns the bot of agentID.
func (f *Fleet) Bot(agentID string) (*Bot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.bots[agentID]
	return b, ok
}

// Send shows the typing indicator and posts text to the key's channel.
func (f *Fleet) Send(ctx context.Context, key chat.Key, text string) error {
	b, ok := f.Bot(key.AgentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, key.AgentID)
	}
	s := b.session()
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, key.AgentID)
	}
	if err := s.ChannelTyping(key.ChannelID, discordgo.WithContext(ctx)); err != nil {
		b.log.Debug().Err(err).Msg("typing indicator failed")
	}
	if _, err := s.ChannelMessageSend(key.ChannelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
