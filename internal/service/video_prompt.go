package service

import (
	"fmt"
	"strings"

	"storybook-server/internal/models"
)

const maxVideoExcerptLength = 200

type motionGuidance struct {
	action   string
	ambiance string
}

var themeMotion = map[models.StoryTheme]motionGuidance{
	models.ThemeAdventurous: {
		action:   "characters strike heroic poses, capes and hair flutter, floating particles drift through the air",
		ambiance: "warm golden lighting with a sense of epic discovery",
	},
	models.ThemeEducational: {
		action:   "characters sway gently and look around with curiosity",
		ambiance: "soft warm light, calm and welcoming",
	},
	models.ThemeFriendship: {
		action:   "characters sway gently side by side and share warm smiles",
		ambiance: "soft warm light, cozy and tender",
	},
	models.ThemeMystery: {
		action:   "slow creeping fog rolls in, characters glance around cautiously",
		ambiance: "dramatic shadows and moody moonlight",
	},
	models.ThemeMagical: {
		action:   "glowing sparkles swirl around the characters, small objects float",
		ambiance: "mystical shimmering light with soft color shifts",
	},
}

var defaultMotion = motionGuidance{
	action:   "gentle natural motion, subtle breathing and blinking, light breeze",
	ambiance: "pleasant natural lighting",
}

// buildVideoPrompt детерминированно строит промпт анимации обложки.
func buildVideoPrompt(story *models.GeneratedStory) string {
	motion, ok := themeMotion[story.Config.Theme]
	if !ok {
		motion = defaultMotion
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Animate this storybook cover in %s.", styleDescription(story.Config.Style))
	if leads := leadCharacterNames(story, 2); len(leads) > 0 {
		fmt.Fprintf(&b, " Main characters: %s.", strings.Join(leads, " and "))
	}
	fmt.Fprintf(&b, " Motion: %s. Ambiance: %s.", motion.action, motion.ambiance)
	if excerpt := storyExcerpt(story, 2, maxVideoExcerptLength); excerpt != "" {
		fmt.Fprintf(&b, " Story moment: %s", excerpt)
	}
	b.WriteString(" Keep the composition and character designs exactly as in the image, camera mostly static, no text.")
	return b.String()
}

func leadCharacterNames(story *models.GeneratedStory, n int) []string {
	names := story.CharacterNames()
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// storyExcerpt собирает повествование и реплики первых страниц, не длиннее limit символов.
func storyExcerpt(story *models.GeneratedStory, pages, limit int) string {
	var fragments []string
	for i, page := range story.Pages {
		if i >= pages {
			break
		}
		for _, panel := range page.Panels {
			if n := strings.TrimSpace(panel.Narration); n != "" {
				fragments = append(fragments, n)
			}
			for _, line := range panel.Dialogue {
				if t := strings.TrimSpace(line.Text); t != "" {
					fragments = append(fragments, fmt.Sprintf("%s: \"%s\"", line.Character, t))
				}
			}
		}
	}
	excerpt := strings.Join(fragments, " ")
	runes := []rune(excerpt)
	if len(runes) > limit {
		excerpt = strings.TrimSpace(string(runes[:limit-3])) + "..."
	}
	return excerpt
}
