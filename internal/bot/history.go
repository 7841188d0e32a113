package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/raine/menu-visualizer/internal/storage"
)

const (
	// HistoryLimit is the number of uploads listed by /history.
	HistoryLimit = 10

	// PruneInterval is how often old uploads are deleted.
	PruneInterval = 24 * time.Hour

	// UploadsMaxAge is how long upload history is kept.
	UploadsMaxAge = 30 * 24 * time.Hour // 30 days
)

// handleHistoryCommand lists the user's most recent uploads.
func (b *Bot) handleHistoryCommand(session *UserSession) {
	uploads, err := b.store.RecentUploads(session.userId, HistoryLimit)
	if err != nil {
		session.replyWithError(err)
		return
	}
	if len(uploads) == 0 {
		session.reply(MsgHistoryEmpty)
		return
	}

	var sb strings.Builder
	sb.WriteString(MsgHistoryTitle)
	for _, u := range uploads {
		sb.WriteString(fmt.Sprintf(MsgHistoryEntry,
			humanize.Time(u.CreatedAt), escapeMarkdown(truncate(u.Filename, 40)), describeUpload(u)))
	}
	session.reply(sb.String())
}

// describeUpload is the outcome of an upload as shown in /history.
func describeUpload(u storage.Upload) string {
	switch u.Status {
	case storage.UploadCompleted:
		return fmt.Sprintf("found %d of %s", u.MatchedItems, pluralize("item", "items", u.TotalItems))
	case storage.UploadPollError:
		return fmt.Sprintf("%s, image search failed", pluralize("item", "items", u.TotalItems))
	case storage.UploadFailed:
		return "failed: " + escapeMarkdown(u.Error)
	case storage.UploadReset:
		return "discarded"
	default:
		return "in progress"
	}
}

// UploadPruner deletes upload history older than UploadsMaxAge.
type UploadPruner struct {
	store    storage.Store
	interval time.Duration
	maxAge   time.Duration
}

// NewUploadPruner creates a pruner using the default interval and age.
func NewUploadPruner(store storage.Store) *UploadPruner {
	return &UploadPruner{
		store:    store,
		interval: PruneInterval,
		maxAge:   UploadsMaxAge,
	}
}

// Run prunes once, then every interval. It blocks until the context is
// cancelled.
func (p *UploadPruner) Run(ctx context.Context) {
	log.Info().Dur("interval", p.interval).Dur("maxAge", p.maxAge).Msg("starting upload pruner")
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("upload pruner stopped")
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *UploadPruner) prune() {
	deleted, err := p.store.PruneUploads(p.maxAge)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune old uploads")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("pruned old uploads")
	}
}
