package live

import (
	"context"
	"sync"

	"github.com/Rrens/classroom-live/internal/chat"
	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/Rrens/classroom-live/internal/reaction"
	"github.com/Rrens/classroom-live/internal/room"
	"github.com/rs/zerolog/log"
)

// Session is a joined live session
type Session struct {
	info      domain.LiveSession
	room      *room.Supervisor
	chat      *chat.Reconciler
	reactions *reaction.Layer

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()

	mu   sync.Mutex
	feed Feed
}

// Info returns the session as it was when joined
func (s *Session) Info() domain.LiveSession { return s.info }

// Room returns the room connection supervisor
func (s *Session) Room() *room.Supervisor { return s.room }

// Chat returns the transcript
func (s *Session) Chat() *chat.Reconciler { return s.chat }

// Reactions returns the reaction layer
func (s *Session) Reactions() *reaction.Layer { return s.reactions }

// start loads history, subscribes to the chat feed and starts polling. The
// background work runs on its own context so it outlives the Join call.
func (s *Session) start(joinCtx context.Context, deps Deps, cfg Config) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(joinCtx))
	s.cancel = cancel

	s.unsubscribe = s.room.Subscribe(func(ev room.Event) {
		if ev.Type != room.EventData || ev.Topic != reaction.Topic {
			return
		}
		if _, err := s.reactions.Receive(ev.From, ev.Payload); err != nil {
			log.Debug().Err(err).Str("from", ev.From).Msg("Ignoring remote reaction")
		}
	})

	if err := s.chat.LoadHistory(joinCtx); err != nil {
		log.Warn().Err(err).Str("session_id", s.info.ID.String()).Msg("Initial chat history load failed")
	}

	if deps.Feeds != nil {
		feed, err := deps.Feeds(joinCtx, deps.API.FeedURL(cfg.Classroom, s.info.ID))
		if err != nil {
			log.Warn().Err(err).Str("session_id", s.info.ID.String()).Msg("Chat feed unavailable, relying on polling")
		} else {
			s.mu.Lock()
			s.feed = feed
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.chat.Run(ctx, feed.Events())
				if err := feed.Err(); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Str("session_id", s.info.ID.String()).Msg("Chat feed ended")
				}
			}()
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.chat.Poll(ctx, cfg.PollInterval)
	}()
}

func (s *Session) teardown() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	feed := s.feed
	s.feed = nil
	s.mu.Unlock()
	if feed != nil {
		feed.Close()
	}

	s.room.Disconnect()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.reactions.Stop()

	s.wg.Wait()
	s.room.Wait()
}
