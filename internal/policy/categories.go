package policy

// Built-in category ids.
const (
	CategoryShortVideo = "short-video"
	CategorySocial     = "social"
	CategoryGames      = "games"
)

// NewShortVideoCategory covers desktop clients and wrappers of short-form video apps.
func NewShortVideoCategory() *Category {
	return NewCategory(CategoryShortVideo, "Short-form video",
		"TikTok",
		"TikTok LIVE Studio",
		"Douyin",
		"Kuaishou",
		"Likee",
		"YouTube",
	)
}

// NewSocialCategory covers feed-based social apps.
func NewSocialCategory() *Category {
	return NewCategory(CategorySocial, "Social feeds",
		"Instagram",
		"Facebook",
		"Messenger",
		"Snapchat",
		"Threads",
		"Twitter",
		"Reddit",
	)
}

// NewGamesCategory covers game launchers.
// These are the known process names on macOS.
func NewGamesCategory() *Category {
	return NewCategory(CategoryGames, "Game launchers",
		"Steam",
		"steam_osx",
		"steamwebhelper",
		"Steam Helper",
		"dota2",
		"Dota 2",
	)
}
