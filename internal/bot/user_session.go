package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/menu-visualizer/internal/coordinator"
	"github.com/raine/menu-visualizer/internal/menuapi"
	"github.com/raine/menu-visualizer/internal/render"
	"github.com/raine/menu-visualizer/internal/storage"
)

// Session message types.
const (
	msgCallback   = "callback"
	msgPhoto      = "photo"
	msgDocument   = "document"
	msgText       = "text"
	msgMenuRender = "menu_render"
)

// SessionMessage represents a message to be processed by the session worker.
type SessionMessage struct {
	Type string
	Ctx  context.Context
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	// Message data (only one is set based on Type)
	Message       *tgbotapi.Message
	CallbackQuery *tgbotapi.CallbackQuery
	Text          string
}

// MessageSender abstracts the ability to send Telegram messages.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// MessageHandler is the interface for processing session messages.
type MessageHandler interface {
	HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage)
}

// itemCard is a results message showing one menu item and its image
// carousel.
type itemCard struct {
	messageID int
	item      menuapi.Item
	images    []menuapi.ItemImage
	carousel  render.Carousel
}

// resultsView is what the session has shown for the current upload. It is
// owned by the worker.
type resultsView struct {
	statusMsgID int
	statusText  string
	revision    uint64 // Last rendered coordinator revision
	upload      *storage.Upload
	finalized   bool // Terminal state rendered and recorded

	cardsGen int // Changes whenever cards are discarded, invalidating old buttons
	cards    map[int]*itemCard
}

// UserSession represents a user's session with the bot.
//
// Threading model:
//   - Each session has a dedicated worker goroutine that processes messages sequentially
//   - Message handlers are called only from the worker and can access session
//     state without locks
//   - The coordinator runs its network calls on its own goroutines and reports
//     back through requestRender, which only posts to the inbox
type UserSession struct {
	userId int64
	sender MessageSender

	// Worker channel for sequential message processing
	inbox   chan SessionMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handler MessageHandler // Set after construction to avoid circular deps

	coordinator   *coordinator.Coordinator
	renderPending atomic.Bool
	view          resultsView
}

// requestRender asks the worker to render the latest coordinator state.
// Requests made while one is pending are coalesced. It never blocks, so it
// is safe to use as the coordinator's observer.
func (s *UserSession) requestRender() {
	if !s.renderPending.CompareAndSwap(false, true) {
		return
	}
	go s.Send(SessionMessage{Type: msgMenuRender, Ctx: s.ctx})
}

// resetView forgets everything shown for the current upload.
// Called from session worker - no locking needed.
func (s *UserSession) resetView() {
	s.view = resultsView{cardsGen: s.view.cardsGen + 1}
}

func (s *UserSession) replyWithError(err error) tgbotapi.Message {
	log.Error().Stack().Err(err).Send()
	return s._reply(formatReplyText(MsgUnexpectedErr, err), nil)
}

func (s *UserSession) replyWithMessage(msg tgbotapi.MessageConfig) tgbotapi.Message {
	msg.ChatID = s.userId
	sent, err := s.sender.Send(msg)
	if err != nil {
		log.Error().Stack().
			Interface("msg", msg).
			Err(fmt.Errorf("failed to send reply message: %w", err)).Send()
	} else {
		log.Debug().Int64("userId", s.userId).Int("messageId", sent.MessageID).Msg("sent message")
	}

	return sent
}

func (s *UserSession) _reply(text string, markup *tgbotapi.InlineKeyboardMarkup) tgbotapi.Message {
	msg := tgbotapi.MessageConfig{
		Text:      text,
		ParseMode: tgbotapi.ModeMarkdown,
	}
	if markup != nil {
		msg.ReplyMarkup = *markup
	}

	return s.replyWithMessage(msg)
}

func (s *UserSession) reply(text string, a ...any) tgbotapi.Message {
	return s._reply(formatReplyText(text, a...), nil)
}

// sendTypingAction shows the "typing" indicator while an upload is handled.
func (s *UserSession) sendTypingAction() {
	action := tgbotapi.NewChatAction(s.userId, tgbotapi.ChatUploadPhoto)
	// Use Request instead of Send because sendChatAction returns a boolean, not a Message
	if _, err := s.sender.Request(action); err != nil {
		log.Debug().Err(err).Int64("userId", s.userId).Msg("failed to send chat action")
	}
}

// --- Worker methods ---

// StartWorker starts the session's message processing worker goroutine.
// Must be called after setting the handler.
func (s *UserSession) StartWorker() {
	s.wg.Add(1)
	go s.runWorker()
}

// SetHandler sets the message handler for this session.
func (s *UserSession) SetHandler(handler MessageHandler) {
	s.handler = handler
}

// runWorker is the main worker loop that processes messages sequentially.
func (s *UserSession) runWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Release any SendSync callers still waiting
			for {
				select {
				case msg := <-s.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-s.inbox:
			s.processMessage(msg)
		}
	}
}

// processMessage handles a single message from the inbox.
func (s *UserSession) processMessage(msg SessionMessage) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Int64("userId", s.userId).
				Str("type", msg.Type).
				Interface("panic", r).
				Msg("recovered from panic in session worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	if s.handler == nil {
		log.Error().Int64("userId", s.userId).Msg("session handler not set")
		return
	}

	s.handler.HandleSessionMessage(msg.Ctx, s, msg)
}

// Send queues a message for processing by the worker. It blocks only while
// the inbox is full.
func (s *UserSession) Send(msg SessionMessage) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// SendSync queues a message and waits for it to be processed.
func (s *UserSession) SendSync(msg SessionMessage) {
	msg.Done = make(chan struct{})
	s.Send(msg)
	<-msg.Done
}

// Stop stops the worker, cancels any upload in progress and waits for both
// to finish.
func (s *UserSession) Stop() {
	s.cancel()
	s.wg.Wait()
	if s.coordinator != nil {
		s.coordinator.Reset()
	}
}
