package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgOk            = `Ok!`
	MsgUnexpectedErr = `Unexpected error: %s`
	MsgStart         = `
		Send me a photo of a menu and I'll find the dishes in it.

		I'll match what I can to our product catalog and look up photos for each item.
		You can also send the image as a file (JPEG, PNG, GIF or WebP, under 5MB).`
	MsgSendMenuPhoto = "Send a photo of a menu to start."
	MsgVersionInfo   = "Version: %s\nBuilt: %s"
)

// =============================================================================
// Upload messages
// =============================================================================

const (
	MsgUploadInProgress  = "Still uploading your previous image, please wait."
	MsgDownloadFailed    = "Couldn't download the image from Telegram. Please try again."
	MsgFileTooLargeForTg = "That file is too large for me to download (limit %s)."
	MsgSeenBefore        = "You sent this menu %s (found %s). Processing it again."
	MsgNoUploadActive    = "Nothing in progress. Send a photo of a menu to start."
)

// =============================================================================
// Results messages
// =============================================================================

const (
	MsgResultsTitle    = "*Processing Results*"
	MsgResultsStats    = "Detected: %d · Matched: %d · Unmatched: %d"
	MsgResultsSession  = "Session ID: `%s`"
	MsgOCRWarning      = "⚠️ Text recognition problem: %s"
	MsgTooManyItems    = "Showing the first %d items."
	MsgItemUnavailable = "Item no longer available. Send a new photo to start over."
)

// =============================================================================
// History messages
// =============================================================================

const (
	MsgHistoryEmpty = "You haven't sent any menus yet."
	MsgHistoryTitle = "*Your recent menus:*\n"
	MsgHistoryEntry = "• %s, %s: %s\n"
)

// =============================================================================
// Admin command messages
// =============================================================================

const (
	MsgAdminUsage           = "Usage:\n`/admin users add <user_id>`\n`/admin users remove <user_id>`\n`/admin users list`"
	MsgAdminUserAddUsage    = "Usage: `/admin users add <user_id>`"
	MsgAdminUserRemoveUsage = "Usage: `/admin users remove <user_id>`"
	MsgAdminUserInvalidID   = "Invalid user ID. Please give a number."
	MsgAdminUserAdded       = "✅ User `%d` added."
	MsgAdminUserRemoved     = "✅ User `%d` removed."
	MsgAdminNoUsers         = "No allowed users."
	MsgAdminAllowedUsers    = "*Allowed users:*\n"
	MsgAdminCannotRemove    = "The admin cannot be removed."
)

// =============================================================================
// Button labels
// =============================================================================

const (
	BtnTryAgain       = "Try again"
	BtnUploadNewImage = "Upload new image"
	BtnPrevImage      = "◀"
	BtnNextImage      = "▶"
)
