// Package render turns coordinator state into display text. It never
// modifies the state it is given.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/raine/menu-visualizer/internal/coordinator"
	"github.com/raine/menu-visualizer/internal/menuapi"
)

// PlaceholderImageURL is shown in place of an image that fails to load.
const PlaceholderImageURL = "https://via.placeholder.com/300x200?text=No+Image"

const (
	sourceLegacy        = "legacy"
	sourcePlaceholder   = "placeholder"
	unknownPhotographer = "Unknown"
)

const (
	MsgProcessing   = "Processing your menu image..."
	MsgNoItems      = "No items detected"
	MsgNoItemsHint  = "Try uploading a clearer image of your menu"
	MsgNotInCatalog = "Product not found in catalog"
)

// Summary counts the items of a result.
type Summary struct {
	Total     int
	Matched   int
	Unmatched int
}

func Summarize(items []menuapi.Item) Summary {
	s := Summary{Total: len(items)}
	for _, item := range items {
		if item.Matched {
			s.Matched++
		}
	}
	s.Unmatched = s.Total - s.Matched
	return s
}

// Headline is the results header line.
func (s Summary) Headline() string {
	return fmt.Sprintf("Found %d of %d items in our catalog", s.Matched, s.Total)
}

// DisplayImages returns the images to show for an item. Items from older
// backends carry a single image_url instead of an images list.
func DisplayImages(item menuapi.Item) []menuapi.ItemImage {
	if len(item.Images) > 0 {
		return item.Images
	}
	if item.ImageURL != "" {
		return []menuapi.ItemImage{{
			URL:          item.ImageURL,
			Source:       sourceLegacy,
			Photographer: unknownPhotographer,
		}}
	}
	return nil
}

// SourceLabel is the badge for an image's source, empty when no badge
// should be shown. Any source other than Pexels is credited to Unsplash,
// including a missing one.
func SourceLabel(img menuapi.ItemImage) string {
	switch img.Source {
	case sourcePlaceholder, sourceLegacy:
		return ""
	case "pexels":
		return "Pexels"
	default:
		return "Unsplash"
	}
}

// PhotoCredit returns "Photo by <name>", or "" when the photographer is
// missing or unknown.
func PhotoCredit(img menuapi.ItemImage) string {
	if img.Photographer == "" || img.Photographer == unknownPhotographer {
		return ""
	}
	return "Photo by " + img.Photographer
}

// ConfidencePercent formats a 0..1 confidence as a rounded percentage. A
// missing or zero confidence is not shown.
func ConfidencePercent(item menuapi.Item) (string, bool) {
	if item.Confidence == nil || *item.Confidence == 0 {
		return "", false
	}
	return fmt.Sprintf("%d%%", int(math.Round(*item.Confidence*100))), true
}

// ShowEnglishName reports whether the English name adds anything over the
// recognized name.
func ShowEnglishName(item menuapi.Item) bool {
	return item.NameEnglish != "" && item.NameEnglish != item.Name
}

// MatchBadge labels an item as matched to the catalog or only extracted.
func MatchBadge(item menuapi.Item) string {
	if item.Matched {
		return "Matched"
	}
	return "Extracted"
}

// Banner is the one-line status shown above the results.
func Banner(s coordinator.State) string {
	switch s.Phase {
	case coordinator.PhaseSubmitting:
		return MsgProcessing
	case coordinator.PhaseSubmitFailed, coordinator.PhasePollError:
		return s.Error
	case coordinator.PhasePolling:
		return progressLine(s.ProcessingStatus)
	case coordinator.PhaseCompleted:
		return "Image search complete"
	default:
		return ""
	}
}

func progressLine(ps *menuapi.ProcessingStatus) string {
	if ps == nil || ps.Total == 0 {
		return "Searching for product images..."
	}
	return fmt.Sprintf("Searching for product images... %d/%d (%.0f%%)", ps.Completed, ps.Total, ps.Progress)
}

// ProgressBar draws a fixed-width text bar for a 0..100 progress value.
func ProgressBar(progress float64, width int) string {
	if width <= 0 {
		return ""
	}
	progress = math.Max(0, math.Min(100, progress))
	filled := int(math.Round(progress / 100 * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
