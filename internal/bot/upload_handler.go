package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/menu-visualizer/internal/coordinator"
	"github.com/raine/menu-visualizer/internal/intake"
	"github.com/raine/menu-visualizer/internal/storage"
)

// incomingImage is a user image that has not been downloaded yet.
type incomingImage struct {
	fileID   string
	filename string
	mimeType string // Empty when Telegram did not report one
	size     int64  // Zero when unknown
}

// handlePhotoMessage starts an upload for a compressed Telegram photo.
// Telegram re-encodes photos as JPEG, so the largest size is used.
// Called from session worker - no locking needed.
func (b *Bot) handlePhotoMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	photo := message.Photo[len(message.Photo)-1]
	b.startUpload(ctx, session, incomingImage{
		fileID:   photo.FileID,
		filename: fmt.Sprintf("photo_%s.jpg", photo.FileUniqueID),
		mimeType: "image/jpeg",
		size:     int64(photo.FileSize),
	})
}

// handleDocumentMessage starts an upload for an image sent as a file.
// Called from session worker - no locking needed.
func (b *Bot) handleDocumentMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	doc := message.Document
	b.startUpload(ctx, session, incomingImage{
		fileID:   doc.FileID,
		filename: doc.FileName,
		mimeType: doc.MimeType,
		size:     int64(doc.FileSize),
	})
}

// startUpload downloads and validates an image, then hands it to the
// coordinator. Any previous upload of the session is discarded first.
func (b *Bot) startUpload(ctx context.Context, session *UserSession, img incomingImage) {
	if session.coordinator.Snapshot().Phase == coordinator.PhaseSubmitting {
		session.reply(MsgUploadInProgress)
		return
	}

	// Reject what Telegram already told us about before downloading anything
	if img.mimeType != "" {
		if err := intake.CheckMetadata(img.mimeType, img.size); err != nil {
			b.replyValidationError(session, err)
			return
		}
	}
	if img.size > b.downloader.MaxSize() {
		session.reply(MsgFileTooLargeForTg, humanize.IBytes(uint64(b.downloader.MaxSize())))
		return
	}

	session.sendTypingAction()
	dl, err := b.downloader.DownloadFromTelegramFileID(ctx, b.tg.GetFileDirectURL, img.fileID)
	if err != nil {
		log.Error().Err(err).Int64("userId", session.userId).Str("fileID", img.fileID).Msg("image download failed")
		session.reply(MsgDownloadFailed)
		return
	}

	mimeType := img.mimeType
	if mimeType == "" && strings.HasPrefix(dl.ContentType, "image/") {
		mimeType = dl.ContentType
	}
	preview, err := intake.Validate(intake.File{
		Name:     img.filename,
		MIMEType: mimeType,
		Data:     dl.Data,
	})
	if err != nil {
		b.replyValidationError(session, err)
		return
	}

	b.resetUpload(session)

	// The coordinator enters PhaseSubmitting before Start returns, so an
	// image handled next on this worker sees the upload in progress.
	err = session.coordinator.Start(session.ctx, preview, func(err error) {
		b.submitDone(session, err)
	})
	if err != nil {
		log.Warn().Err(err).Int64("userId", session.userId).Msg("upload not started")
		session.reply(MsgUploadInProgress)
		return
	}
	session.view.upload = b.recordUpload(session, preview)

	log.Info().
		Int64("userId", session.userId).
		Str("filename", preview.File.Name).
		Str("mimeType", preview.File.MIMEType).
		Int64("size", preview.File.Size()).
		Int("width", preview.Width).
		Int("height", preview.Height).
		Msg("submitting menu image")
}

// submitDone logs the outcome of a background upload. Renders report it to
// the user.
func (b *Bot) submitDone(session *UserSession, err error) {
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrReset):
		log.Debug().Err(err).Int64("userId", session.userId).Msg("upload superseded")
	default:
		// Already shown to the user through the SubmitFailed render
		log.Warn().Err(err).Int64("userId", session.userId).Msg("menu upload failed")
	}
}

// recordUpload stores the upload in the history and tells the user when the
// same image was already processed. History is best effort: a failure is
// logged and the upload continues without a record.
func (b *Bot) recordUpload(session *UserSession, preview *intake.Preview) *storage.Upload {
	prior, err := b.store.FindUploadByHash(session.userId, storage.HashImage(preview.File.Data))
	if err != nil {
		log.Warn().Err(err).Int64("userId", session.userId).Msg("failed to look up previous uploads")
	} else if prior != nil {
		session.reply(MsgSeenBefore,
			humanize.Time(prior.CreatedAt),
			fmt.Sprintf("%d of %s", prior.MatchedItems, pluralize("item", "items", prior.TotalItems)))
	}

	upload, err := b.store.RecordUpload(session.userId, preview.File.Name, preview.File.Data)
	if err != nil {
		log.Warn().Err(err).Int64("userId", session.userId).Msg("failed to record upload")
		return nil
	}
	return upload
}

// resetUpload discards the session's current upload: polling stops, the
// upload is marked as abandoned and old result buttons stop working.
// Called from session worker - no locking needed.
func (b *Bot) resetUpload(session *UserSession) {
	session.coordinator.Reset()

	if u := session.view.upload; u != nil && !session.view.finalized {
		u.Status = storage.UploadReset
		b.saveUpload(u)
	}
	if session.view.statusMsgID != 0 {
		// Drop the buttons from the old status message
		edit := tgbotapi.NewEditMessageReplyMarkup(session.userId, session.view.statusMsgID,
			tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
		if _, err := b.tg.Request(edit); err != nil {
			log.Debug().Err(err).Msg("failed to clear status buttons")
		}
	}
	session.resetView()
}

func (b *Bot) replyValidationError(session *UserSession, err error) {
	var vErr *intake.ValidationError
	if errors.As(err, &vErr) {
		log.Info().
			Int64("userId", session.userId).
			Str("kind", vErr.Kind.String()).
			Str("mimeType", vErr.MIMEType).
			Int64("size", vErr.Size).
			Msg("image rejected")
		session.reply(vErr.UserMessage())
		return
	}
	session.replyWithError(err)
}

func (b *Bot) saveUpload(u *storage.Upload) {
	if err := b.store.UpdateUpload(u); err != nil {
		log.Warn().Err(err).Str("uploadId", u.ID).Msg("failed to update upload")
	}
}
