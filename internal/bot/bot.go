package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/menu-visualizer/internal/menuapi"
	"github.com/raine/menu-visualizer/internal/storage"
	"github.com/rs/zerolog/log"
)

// Version and BuildTime are set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Options struct {
	// PollInterval is the wait between image search status requests.
	PollInterval time.Duration
	// Downloader fetches images from Telegram. Defaults to NewImageDownloader().
	Downloader *ImageDownloader
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg           BotAPI
	state        BotState
	store        storage.Store
	api          menuapi.Recognizer
	adminID      int64
	pollInterval time.Duration
	downloader   *ImageDownloader
}

// NewBot creates a new Bot instance.
func NewBot(tg BotAPI, store storage.Store, api menuapi.Recognizer, adminID int64, opts Options) *Bot {
	bot := &Bot{
		tg:           tg,
		store:        store,
		api:          api,
		adminID:      adminID,
		pollInterval: opts.PollInterval,
		downloader:   opts.Downloader,
	}
	if bot.downloader == nil {
		bot.downloader = NewImageDownloader()
	}

	bot.state = bot.NewBotState()
	return bot
}

// Shutdown stops all user sessions, cancelling uploads in progress.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router.
// It dispatches messages to the appropriate session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for message processing to complete.
// Used in tests where we need synchronous behavior.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

// dispatchUpdate routes updates to the appropriate session worker.
// If sync is true, it waits for message processing to complete.
func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	var userId int64

	// Determine user ID from the update
	if update.CallbackQuery != nil {
		userId = update.CallbackQuery.From.ID
	} else if update.Message != nil && update.Message.From != nil {
		userId = update.Message.From.ID
	} else {
		return
	}

	// Check if user is allowed (admin always allowed)
	// MUST be before getUserSession to prevent memory exhaustion from random user IDs
	if userId != b.adminID {
		allowed, err := b.store.IsUserAllowed(userId)
		if err != nil {
			log.Error().Err(err).Int64("userId", userId).Msg("whitelist check failed")
			return // Fail closed
		}
		if !allowed {
			log.Debug().Int64("userId", userId).Msg("ignoring update from user not in whitelist")
			return
		}
	}

	session := b.state.getUserSession(userId)

	send := func(msg SessionMessage) {
		if sync {
			session.SendSync(msg)
		} else {
			session.Send(msg)
		}
	}

	if update.CallbackQuery != nil {
		send(SessionMessage{
			Type:          msgCallback,
			Ctx:           ctx,
			CallbackQuery: update.CallbackQuery,
		})
		return
	}

	message := update.Message
	log.Info().
		Int64("userId", userId).
		Str("text", message.Text).
		Bool("photo", len(message.Photo) > 0).
		Bool("document", message.Document != nil).
		Msg("got message")

	switch {
	case len(message.Photo) > 0:
		send(SessionMessage{Type: msgPhoto, Ctx: ctx, Message: message})
	case message.Document != nil:
		send(SessionMessage{Type: msgDocument, Ctx: ctx, Message: message})
	default:
		send(SessionMessage{Type: msgText, Ctx: ctx, Message: message, Text: message.Text})
	}
}

// HandleSessionMessage implements MessageHandler interface.
// This is called by the session worker goroutine for sequential processing.
// No mutex locking is needed here since only one goroutine accesses session state.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case msgCallback:
		b.handleCallbackQuery(ctx, session, msg.CallbackQuery)
	case msgPhoto:
		b.handlePhotoMessage(ctx, session, msg.Message)
	case msgDocument:
		b.handleDocumentMessage(ctx, session, msg.Message)
	case msgText:
		b.handleCommand(ctx, session, msg.Message)
	case msgMenuRender:
		b.renderResults(session)
	}
}

// handleCommand processes bot commands.
// Called from session worker - no locking needed.
func (b *Bot) handleCommand(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	command, args := parseCommand(message.Text)
	argsStr := strings.Join(args, " ")
	switch command {
	case "/start":
		session.reply(MsgStart)
	case "/reset":
		b.resetUpload(session)
		session.reply(MsgSendMenuPhoto)
	case "/status":
		b.handleStatusCommand(session)
	case "/history":
		b.handleHistoryCommand(session)
	case "/admin":
		b.handleAdminCommand(session, argsStr)
	case "/version":
		session.reply(MsgVersionInfo, Version, BuildTime)
	default:
		session.reply(MsgSendMenuPhoto)
	}
}

// handleCallbackQuery handles inline keyboard button presses.
// Called from session worker - no locking needed.
func (b *Bot) handleCallbackQuery(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	if _, err := b.tg.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		log.Debug().Err(err).Msg("failed to answer callback query")
	}

	switch {
	case query.Data == callbackReset:
		b.resetUpload(session)
		session.reply(MsgSendMenuPhoto)
	case strings.HasPrefix(query.Data, callbackImagePrefix):
		b.handleCarouselCallback(session, query)
	default:
		log.Warn().Str("data", query.Data).Msg("unknown callback data")
	}
}

// handleStatusCommand re-sends the current progress as a new message.
func (b *Bot) handleStatusCommand(session *UserSession) {
	state := session.coordinator.Snapshot()
	text, markup := formatStatus(state)
	if text == "" {
		session.reply(MsgNoUploadActive)
		return
	}
	session._reply(text, markup)
}

// --- Admin commands ---

// handleAdminCommand handles /admin commands (admin only).
func (b *Bot) handleAdminCommand(session *UserSession, args string) {
	if session.userId != b.adminID {
		session.reply(MsgSendMenuPhoto)
		return
	}

	parts := strings.Fields(args)
	if len(parts) < 2 || parts[0] != "users" {
		session.reply(MsgAdminUsage)
		return
	}

	switch parts[1] {
	case "add":
		if len(parts) < 3 {
			session.reply(MsgAdminUserAddUsage)
			return
		}
		userID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			session.reply(MsgAdminUserInvalidID)
			return
		}
		if err := b.store.AddAllowedUser(userID, session.userId); err != nil {
			session.replyWithError(err)
			return
		}
		log.Info().Int64("userId", userID).Int64("addedBy", session.userId).Msg("user added to whitelist")
		session.reply(MsgAdminUserAdded, userID)

	case "remove":
		if len(parts) < 3 {
			session.reply(MsgAdminUserRemoveUsage)
			return
		}
		userID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			session.reply(MsgAdminUserInvalidID)
			return
		}
		if userID == b.adminID {
			session.reply(MsgAdminCannotRemove)
			return
		}
		if err := b.store.RemoveAllowedUser(userID); err != nil {
			session.replyWithError(err)
			return
		}
		b.state.stopSession(userID)
		log.Info().Int64("userId", userID).Msg("user removed from whitelist")
		session.reply(MsgAdminUserRemoved, userID)

	case "list":
		users, err := b.store.GetAllowedUsers()
		if err != nil {
			session.replyWithError(err)
			return
		}
		if len(users) == 0 {
			session.reply(MsgAdminNoUsers)
			return
		}
		var sb strings.Builder
		sb.WriteString(MsgAdminAllowedUsers)
		for _, u := range users {
			sb.WriteString(fmt.Sprintf("• `%d` (added %s)\n", u.TelegramID, u.AddedAt.Format("2006-01-02")))
		}
		session.reply(sb.String())

	default:
		session.reply(MsgAdminUsage)
	}
}
