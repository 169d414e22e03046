package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"storybook-server/internal/models"
)

var (
	codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	validate       = validator.New()
)

type characterProfileDTO struct {
	Name        string `json:"name" validate:"required"`
	Personality string `json:"personality"`
	Appearance  string `json:"appearance" validate:"required"`
	Role        string `json:"role"`
	Description string `json:"description" validate:"required"`
}

type dialogueDTO struct {
	Character string `json:"character" validate:"required"`
	Text      string `json:"text" validate:"required"`
}

type panelDTO struct {
	ID          string        `json:"id" validate:"required"`
	Description string        `json:"description" validate:"required"`
	Characters  []string      `json:"characters" validate:"required"`
	Dialogue    []dialogueDTO `json:"dialogue" validate:"dive"`
	Narration   string        `json:"narration"`
}

type pageDTO struct {
	PageNumber int        `json:"pageNumber"`
	Panels     []panelDTO `json:"panels" validate:"required,min=1,dive"`
}

type storyStructureDTO struct {
	Title string    `json:"title" validate:"required"`
	Pages []pageDTO `json:"pages" validate:"required,min=1,dive"`
}

// StoryStructure - проверенный результат генерации структуры истории.
type StoryStructure struct {
	Title string
	Pages []models.StoryPage
}

// extractJSON убирает обрамление ```json ... ``` и текст вокруг JSON.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := codeFenceRegex.FindStringSubmatch(raw); len(m) > 1 {
		raw = strings.TrimSpace(m[1])
	}
	if json.Valid([]byte(raw)) {
		return raw
	}

	start := strings.IndexAny(raw, "{[")
	if start == -1 {
		return raw
	}
	closing := "}"
	if raw[start] == '[' {
		closing = "]"
	}
	end := strings.LastIndex(raw, closing)
	if end <= start {
		return raw[start:]
	}
	return raw[start : end+1]
}

func invalidResponse(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidAIResponse, fmt.Sprintf(format, args...))
}

func parseCharacterProfiles(raw string, names []string) ([]characterProfileDTO, error) {
	var profiles []characterProfileDTO
	if err := decodeModelJSON(raw, &profiles); err != nil {
		return nil, invalidResponse("character profiles: %v", err)
	}
	if len(profiles) != len(names) {
		return nil, invalidResponse("expected %d character profiles, got %d", len(names), len(profiles))
	}
	for i := range profiles {
		if err := validate.Struct(profiles[i]); err != nil {
			return nil, invalidResponse("character profile %d: %v", i, err)
		}
	}
	return profiles, nil
}

func parseStoryStructure(raw string, pageCount int) (*StoryStructure, error) {
	var dto storyStructureDTO
	if err := decodeModelJSON(raw, &dto); err != nil {
		return nil, invalidResponse("story structure: %v", err)
	}
	if err := validate.Struct(dto); err != nil {
		return nil, invalidResponse("story structure: %v", err)
	}
	if len(dto.Pages) != pageCount {
		return nil, invalidResponse("expected %d pages, got %d", pageCount, len(dto.Pages))
	}

	structure := &StoryStructure{Title: dto.Title, Pages: make([]models.StoryPage, 0, len(dto.Pages))}
	seen := make(map[string]struct{})
	for i, p := range dto.Pages {
		pageNumber := p.PageNumber
		if pageNumber <= 0 {
			pageNumber = i + 1
		}
		page := models.StoryPage{PageNumber: pageNumber, Panels: make([]models.Panel, 0, len(p.Panels))}
		for _, pd := range p.Panels {
			if _, dup := seen[pd.ID]; dup {
				return nil, invalidResponse("duplicate panel id %q", pd.ID)
			}
			seen[pd.ID] = struct{}{}

			panel := models.Panel{
				ID:          pd.ID,
				Description: pd.Description,
				Characters:  pd.Characters,
				Narration:   pd.Narration,
			}
			for _, d := range pd.Dialogue {
				panel.Dialogue = append(panel.Dialogue, models.DialogueLine{Character: d.Character, Text: d.Text})
			}
			page.Panels = append(page.Panels, panel)
		}
		structure.Pages = append(structure.Pages, page)
	}
	return structure, nil
}
