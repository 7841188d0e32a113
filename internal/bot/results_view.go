package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/menu-visualizer/internal/coordinator"
	"github.com/raine/menu-visualizer/internal/menuapi"
	"github.com/raine/menu-visualizer/internal/render"
	"github.com/raine/menu-visualizer/internal/storage"
)

const (
	callbackReset       = "reset"
	callbackImagePrefix = "img:"

	// MaxItemCards is the most item messages sent for one result.
	MaxItemCards = 10

	progressBarWidth = 12
	maxCaptionLength = 1024 // Telegram limit for photo captions
)

// renderResults brings the chat up to date with the coordinator. While the
// upload is in flight it keeps one status message current; once the image
// search ends it sends a card per item.
// Called from session worker - no locking needed.
func (b *Bot) renderResults(session *UserSession) {
	// Clear before reading so a change committed after the snapshot schedules
	// another render
	session.renderPending.Store(false)

	state := session.coordinator.Snapshot()
	if state.Revision <= session.view.revision {
		return
	}
	session.view.revision = state.Revision

	if state.Phase == coordinator.PhaseIdle || session.view.finalized {
		return
	}

	text, markup := formatStatus(state)
	b.showStatus(session, text, markup)
	b.recordProgress(session, state)

	switch state.Phase {
	case coordinator.PhaseSubmitFailed:
		session.view.finalized = true
	case coordinator.PhaseCompleted, coordinator.PhasePollError:
		session.view.finalized = true
		if state.Results != nil {
			b.sendItemCards(session, state.Results.Items)
		}
	}
}

// showStatus sends the status message, or edits it once it exists.
func (b *Bot) showStatus(session *UserSession, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if text == session.view.statusText {
		// Telegram rejects edits that change nothing
		return
	}

	if session.view.statusMsgID == 0 {
		sent := session._reply(text, markup)
		session.view.statusMsgID = sent.MessageID
	} else {
		edit := tgbotapi.NewEditMessageText(session.userId, session.view.statusMsgID, text)
		edit.ParseMode = tgbotapi.ModeMarkdown
		edit.ReplyMarkup = markup
		if _, err := b.tg.Send(edit); err != nil {
			log.Warn().Err(err).Int64("userId", session.userId).Msg("failed to edit status message")
		}
	}
	session.view.statusText = text
}

// recordProgress writes lifecycle changes of the upload to the history.
func (b *Bot) recordProgress(session *UserSession, state coordinator.State) {
	u := session.view.upload
	if u == nil {
		return
	}

	var status storage.UploadStatus
	switch state.Phase {
	case coordinator.PhasePolling:
		status = storage.UploadPolling
	case coordinator.PhaseCompleted:
		status = storage.UploadCompleted
	case coordinator.PhasePollError:
		status = storage.UploadPollError
	case coordinator.PhaseSubmitFailed:
		status = storage.UploadFailed
	default:
		return
	}
	if status == u.Status {
		return
	}

	u.Status = status
	u.Error = state.Error
	u.SessionID = state.SessionID
	if r := state.Results; r != nil {
		u.TotalItems = r.TotalItems
		u.MatchedItems = r.MatchedItems
	}
	b.saveUpload(u)
}

// formatStatus renders the status message for a state. It returns an empty
// text for the idle state.
func formatStatus(state coordinator.State) (string, *tgbotapi.InlineKeyboardMarkup) {
	switch state.View() {
	case coordinator.ViewProcessing:
		return "⏳ " + render.MsgProcessing, nil
	case coordinator.ViewError:
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(BtnTryAgain, callbackReset),
		))
		return "❌ " + escapeMarkdown(state.Error), &markup
	case coordinator.ViewResults:
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(BtnUploadNewImage, callbackReset),
		))
		return formatResults(state), &markup
	default:
		return "", nil
	}
}

func formatResults(state coordinator.State) string {
	var sb strings.Builder
	sb.WriteString(MsgResultsTitle + "\n")

	var items []menuapi.Item
	if state.Results != nil {
		items = state.Results.Items
		summary := render.Summarize(items)
		sb.WriteString(summary.Headline() + "\n")
		sb.WriteString(fmt.Sprintf(MsgResultsStats, summary.Total, summary.Matched, summary.Unmatched) + "\n")
		sb.WriteString(fmt.Sprintf(MsgResultsSession, state.Results.SessionID) + "\n")
		if state.Results.OCRError != "" {
			sb.WriteString("\n" + fmt.Sprintf(MsgOCRWarning, escapeMarkdown(state.Results.OCRError)) + "\n")
		}
	}
	if len(items) == 0 {
		sb.WriteString("\n" + render.MsgNoItems + "\n_" + render.MsgNoItemsHint + "_\n")
	}

	sb.WriteString("\n")
	switch state.Phase {
	case coordinator.PhasePolling:
		sb.WriteString("🔎 " + render.Banner(state))
		if ps := state.ProcessingStatus; ps != nil && ps.Total > 0 {
			sb.WriteString("\n`" + render.ProgressBar(ps.Progress, progressBarWidth) + "`")
		}
	case coordinator.PhaseCompleted:
		sb.WriteString("✅ " + render.Banner(state))
	case coordinator.PhasePollError:
		sb.WriteString("⚠️ " + escapeMarkdown(render.Banner(state)))
	}
	return sb.String()
}

// sendItemCards sends one message per item, up to MaxItemCards. Items with
// images are sent as photos with carousel buttons.
func (b *Bot) sendItemCards(session *UserSession, items []menuapi.Item) {
	gen := session.view.cardsGen
	session.view.cards = make(map[int]*itemCard)

	limit := min(len(items), MaxItemCards)
	for i := 0; i < limit; i++ {
		images := render.DisplayImages(items[i])
		card := &itemCard{
			item:     items[i],
			images:   images,
			carousel: render.NewCarousel(len(images)),
		}
		caption := formatItemCaption(card.item, card.images, card.carousel)

		if len(images) == 0 {
			card.messageID = session._reply(caption, nil).MessageID
		} else {
			card.messageID = b.sendItemPhoto(session, images[0].URL, caption, carouselKeyboard(gen, i, card.carousel))
		}
		session.view.cards[i] = card
	}

	if len(items) > limit {
		session.reply(MsgTooManyItems, limit)
	}
}

// sendItemPhoto sends an item photo. Telegram fetches the URL itself; when
// it cannot, the placeholder image is sent instead.
func (b *Bot) sendItemPhoto(session *UserSession, url, caption string, markup *tgbotapi.InlineKeyboardMarkup) int {
	for _, u := range []string{url, render.PlaceholderImageURL} {
		photo := tgbotapi.NewPhoto(session.userId, tgbotapi.FileURL(u))
		photo.Caption = caption
		photo.ParseMode = tgbotapi.ModeMarkdown
		if markup != nil {
			photo.ReplyMarkup = *markup
		}
		sent, err := b.tg.Send(photo)
		if err == nil {
			return sent.MessageID
		}
		log.Warn().Err(err).Str("url", u).Msg("failed to send item photo")
	}
	return session._reply(caption, markup).MessageID
}

// formatItemCaption describes an item and the image currently shown.
func formatItemCaption(item menuapi.Item, images []menuapi.ItemImage, c render.Carousel) string {
	var sb strings.Builder
	sb.WriteString("*" + escapeMarkdown(item.Name) + "*\n")
	if render.ShowEnglishName(item) {
		sb.WriteString("_" + escapeMarkdown(item.NameEnglish) + "_\n")
	}

	badge := render.MatchBadge(item)
	if item.Matched {
		badge = "✅ " + badge
	}
	if pct, ok := render.ConfidencePercent(item); ok {
		badge += " · " + pct
	}
	sb.WriteString(badge + "\n")
	if !item.Matched {
		sb.WriteString(render.MsgNotInCatalog + "\n")
	}
	if item.Price != "" {
		sb.WriteString("💰 " + escapeMarkdown(item.Price) + "\n")
	}

	if len(images) > 0 {
		img := images[c.Index]
		var credit []string
		if label := render.SourceLabel(img); label != "" {
			credit = append(credit, label)
		}
		if by := render.PhotoCredit(img); by != "" {
			if img.PhotographerURL != "" {
				by = fmt.Sprintf("[%s](%s)", escapeMarkdown(by), img.PhotographerURL)
			} else {
				by = escapeMarkdown(by)
			}
			credit = append(credit, by)
		}
		if len(credit) > 0 {
			sb.WriteString("📷 " + strings.Join(credit, " · ") + "\n")
		}
		if c.Multiple() {
			sb.WriteString(c.Position() + "\n")
		}
	}

	return truncate(strings.TrimSpace(sb.String()), maxCaptionLength)
}

// carouselKeyboard returns the previous/next buttons of a card, or nil when
// there is nothing to page through.
func carouselKeyboard(gen, item int, c render.Carousel) *tgbotapi.InlineKeyboardMarkup {
	if !c.Multiple() {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(BtnPrevImage, imageCallbackData(gen, item, "prev")),
		tgbotapi.NewInlineKeyboardButtonData(BtnNextImage, imageCallbackData(gen, item, "next")),
	))
	return &markup
}

func imageCallbackData(gen, item int, dir string) string {
	return fmt.Sprintf("%s%d:%d:%s", callbackImagePrefix, gen, item, dir)
}

// parseImageCallback parses "img:<gen>:<item>:<next|prev>".
func parseImageCallback(data string) (gen, item int, dir string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(data, callbackImagePrefix), ":")
	if len(parts) != 3 || (parts[2] != "next" && parts[2] != "prev") {
		return 0, 0, "", false
	}
	gen, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, "", false
	}
	item, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, "", false
	}
	return gen, item, parts[2], true
}

// handleCarouselCallback pages an item card to its next or previous image.
// Called from session worker - no locking needed.
func (b *Bot) handleCarouselCallback(session *UserSession, query *tgbotapi.CallbackQuery) {
	gen, idx, dir, ok := parseImageCallback(query.Data)
	if !ok {
		log.Warn().Str("data", query.Data).Msg("malformed image callback")
		return
	}

	card := session.view.cards[idx]
	if gen != session.view.cardsGen || card == nil || len(card.images) == 0 {
		session.reply(MsgItemUnavailable)
		return
	}

	if dir == "next" {
		card.carousel = card.carousel.Next()
	} else {
		card.carousel = card.carousel.Prev()
	}

	caption := formatItemCaption(card.item, card.images, card.carousel)
	markup := carouselKeyboard(gen, idx, card.carousel)
	url := card.images[card.carousel.Index].URL
	if err := b.editItemPhoto(session.userId, card.messageID, url, caption, markup); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to show item image")
		if err := b.editItemPhoto(session.userId, card.messageID, render.PlaceholderImageURL, caption, markup); err != nil {
			log.Warn().Err(err).Msg("failed to show placeholder image")
		}
	}
}

func (b *Bot) editItemPhoto(chatID int64, messageID int, url, caption string, markup *tgbotapi.InlineKeyboardMarkup) error {
	media := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(url))
	media.Caption = caption
	media.ParseMode = tgbotapi.ModeMarkdown

	edit := tgbotapi.EditMessageMediaConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:      chatID,
			MessageID:   messageID,
			ReplyMarkup: markup,
		},
		Media: media,
	}
	_, err := b.tg.Send(edit)
	return err
}
