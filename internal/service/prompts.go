package service

import (
	"fmt"
	"strings"

	"storybook-server/internal/models"
)

var styleDescriptions = map[models.StoryStyle]string{
	models.StyleComic:        "vibrant comic book art with bold outlines, dynamic poses and halftone shading",
	models.StylePictureBook:  "soft watercolor children's picture book illustration with warm gentle colors",
	models.StyleFairyTale:    "classic fairy tale illustration with storybook painterly details and enchanted atmosphere",
	models.StyleGraphicNovel: "graphic novel illustration with cinematic framing, detailed inking and rich shadows",
	models.StylePopUp:        "pop-up book style illustration with layered paper cut-out depth and crisp edges",
}

var ageGuidance = map[models.AgeGroup]string{
	models.AgeGroupToddler:  "very simple words, short sentences, lots of repetition, nothing scary",
	models.AgeGroupChild:    "simple vocabulary, clear cause and effect, gentle humor, mild challenges",
	models.AgeGroupPreteen:  "richer vocabulary, real stakes and problem solving, friendship and courage",
	models.AgeGroupTeenPlus: "nuanced characters, layered emotions, more complex plot twists, still family friendly",
}

func styleDescription(style models.StoryStyle) string {
	if d, ok := styleDescriptions[style]; ok {
		return d
	}
	return "colorful children's book illustration"
}

func ageDescription(age models.AgeGroup) string {
	if d, ok := ageGuidance[age]; ok {
		return d
	}
	return "family friendly language suitable for children"
}

func buildDescribeCharactersPrompt(names []string, age models.AgeGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create character profiles for a children's storybook aimed at ages %s (%s).\n", age, ageDescription(age))
	b.WriteString("Return a JSON array with exactly one object per character, in the same order as listed below.\n")
	b.WriteString("Each object must have the fields: name, personality, appearance, role, description.\n")
	b.WriteString("appearance must be a concrete visual description (age, hair, clothing, colors) usable by an illustrator.\n")
	b.WriteString("Characters:\n")
	for i, name := range names {
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
	}
	return b.String()
}

func buildCharacterDesignPrompt(c models.Character, style models.StoryStyle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a single full-body character design sheet of %s in %s.\n", c.Name, styleDescription(style))
	if c.Appearance != "" {
		fmt.Fprintf(&b, "Appearance: %s\n", c.Appearance)
	}
	if c.Description != "" {
		fmt.Fprintf(&b, "About the character: %s\n", c.Description)
	}
	if c.Personality != "" {
		fmt.Fprintf(&b, "Personality to show through pose and expression: %s\n", c.Personality)
	}
	if c.HasUploadedImage() {
		b.WriteString("Use the attached photo as the reference: keep the face, hair and distinctive features recognizable while adapting them to the illustration style.\n")
	}
	b.WriteString("Plain light background, friendly expression, no text, no watermark.")
	return b.String()
}

func buildStoryStructurePrompt(cfg models.StoryConfig, characters []models.Character) string {
	var b strings.Builder
	pageCount := cfg.EffectivePageCount()

	b.WriteString("Write an illustrated children's storybook.\n")
	fmt.Fprintf(&b, "Story idea: %s\n", cfg.Prompt)
	fmt.Fprintf(&b, "Theme: %s\n", cfg.Theme)
	fmt.Fprintf(&b, "Visual style: %s\n", styleDescription(cfg.Style))
	fmt.Fprintf(&b, "Audience: ages %s (%s)\n", cfg.AgeGroup, ageDescription(cfg.AgeGroup))
	if cfg.Setting != "" {
		fmt.Fprintf(&b, "Setting: %s\n", cfg.Setting)
	}
	if len(characters) > 0 {
		b.WriteString("Characters (use these exact names):\n")
		for _, c := range characters {
			fmt.Fprintf(&b, "- %s", c.Name)
			if c.Role != "" {
				fmt.Fprintf(&b, " (%s)", c.Role)
			}
			if c.Description != "" {
				fmt.Fprintf(&b, ": %s", c.Description)
			}
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "The story must have exactly %d pages. Each page has 2 or 3 panels.\n", pageCount)
	b.WriteString("Each panel needs a unique id, a visual scene description for the illustrator, the list of character names present, ")
	b.WriteString("optional dialogue lines (character and text) and optional narration.\n")
	b.WriteString("Return JSON: {\"title\": string, \"pages\": [{\"pageNumber\": int, \"panels\": [{\"id\", \"description\", \"characters\", \"dialogue\", \"narration\"}]}]}")
	return b.String()
}

func buildCoverPrompt(story *models.GeneratedStory, referenced []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create the front cover illustration for the children's storybook titled \"%s\".\n", story.Title)
	fmt.Fprintf(&b, "Style: %s. Theme: %s.\n", styleDescription(story.Config.Style), story.Config.Theme)
	if story.Config.Setting != "" {
		fmt.Fprintf(&b, "Setting: %s.\n", story.Config.Setting)
	}
	if names := story.CharacterNames(); len(names) > 0 {
		fmt.Fprintf(&b, "Feature the main characters together: %s.\n", strings.Join(names, ", "))
	}
	if len(referenced) > 0 {
		fmt.Fprintf(&b, "The attached reference images show, in order: %s. Keep every character exactly as designed.\n", strings.Join(referenced, ", "))
	}
	b.WriteString("Leave calm space at the top for the title. Do not render any text.")
	return b.String()
}

func buildPanelPrompt(panel models.Panel, style models.StoryStyle, characters []models.Character, referenced []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Illustrate one storybook panel in %s.\n", styleDescription(style))
	fmt.Fprintf(&b, "Scene: %s\n", panel.Description)
	if len(panel.Characters) > 0 {
		fmt.Fprintf(&b, "Characters in the scene: %s.\n", strings.Join(panel.Characters, ", "))
	}
	for _, name := range panel.Characters {
		if c, ok := models.FindCharacter(characters, name); ok && c.Appearance != "" {
			fmt.Fprintf(&b, "%s looks like: %s\n", c.Name, c.Appearance)
		}
	}
	if panel.Narration != "" {
		fmt.Fprintf(&b, "Moment being narrated: %s\n", panel.Narration)
	}
	if len(panel.Dialogue) > 0 {
		b.WriteString("Expressions should match what is said:\n")
		for _, line := range panel.Dialogue {
			fmt.Fprintf(&b, "- %s: %s\n", line.Character, line.Text)
		}
	}
	if len(referenced) > 0 {
		fmt.Fprintf(&b, "The attached reference images show, in order: %s. Keep each character's appearance identical to the reference.\n", strings.Join(referenced, ", "))
	}
	b.WriteString("Do not draw speech bubbles or any text.")
	return b.String()
}

// buildConservativePanelPrompt - нейтральная переформулировка сцены после модерационного отказа.
func buildConservativePanelPrompt(panel models.Panel, style models.StoryStyle, referenced []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Illustrate a calm, friendly and wholesome storybook scene in %s.\n", styleDescription(style))
	if len(panel.Characters) > 0 {
		fmt.Fprintf(&b, "%s are together, smiling, in a safe and cheerful place.\n", strings.Join(panel.Characters, " and "))
	} else {
		b.WriteString("A peaceful, cheerful landscape.\n")
	}
	if len(referenced) > 0 {
		fmt.Fprintf(&b, "The attached reference images show, in order: %s. Keep their appearance.\n", strings.Join(referenced, ", "))
	}
	b.WriteString("Soft lighting, gentle colors, suitable for young children. No text.")
	return b.String()
}
