package models

import (
	"time"
)

// StoryTheme задает тон истории.
type StoryTheme string

const (
	ThemeFunny       StoryTheme = "funny"
	ThemeAdventurous StoryTheme = "adventurous"
	ThemeEducational StoryTheme = "educational"
	ThemeMagical     StoryTheme = "magical"
	ThemeMystery     StoryTheme = "mystery"
	ThemeFriendship  StoryTheme = "friendship"
)

// StoryStyle определяет визуальный стиль иллюстраций.
type StoryStyle string

const (
	StyleComic        StoryStyle = "comic"
	StylePictureBook  StoryStyle = "picture_book"
	StyleFairyTale    StoryStyle = "fairy_tale"
	StyleGraphicNovel StoryStyle = "graphic_novel"
	StylePopUp        StoryStyle = "pop_up"
)

// AgeGroup - возрастная категория читателя.
type AgeGroup string

const (
	AgeGroupToddler  AgeGroup = "3-5"
	AgeGroupChild    AgeGroup = "6-8"
	AgeGroupPreteen  AgeGroup = "9-12"
	AgeGroupTeenPlus AgeGroup = "13+"
)

// DefaultPageCount используется, когда в конфигурации не указано число страниц.
const DefaultPageCount = 5

// StoryConfig - пользовательские параметры генерации. Не меняется после старта генерации.
type StoryConfig struct {
	Prompt         string     `json:"prompt" validate:"required,max=4000"`
	Theme          StoryTheme `json:"theme" validate:"required,oneof=funny adventurous educational magical mystery friendship"`
	Style          StoryStyle `json:"style" validate:"required,oneof=comic picture_book fairy_tale graphic_novel pop_up"`
	AgeGroup       AgeGroup   `json:"ageGroup" validate:"required,oneof=3-5 6-8 9-12 13+"`
	CharacterCount int        `json:"characterCount" validate:"min=0,max=10"`
	PageCount      int        `json:"pageCount" validate:"min=0,max=20"`
	Setting        string     `json:"setting,omitempty" validate:"max=1000"`
}

// EffectivePageCount возвращает число страниц с учетом значения по умолчанию.
func (c StoryConfig) EffectivePageCount() int {
	if c.PageCount <= 0 {
		return DefaultPageCount
	}
	return c.PageCount
}

// DialogueLine - реплика персонажа внутри панели.
type DialogueLine struct {
	Character string `json:"character" validate:"required"`
	Text      string `json:"text" validate:"required"`
}

// Panel - минимальная иллюстрируемая единица истории.
// Панель без изображения допустима: иллюстрация могла не получиться.
type Panel struct {
	ID          string         `json:"id" validate:"required"`
	Description string         `json:"description" validate:"required"`
	Characters  []string       `json:"characters" validate:"required"`
	Dialogue    []DialogueLine `json:"dialogue,omitempty" validate:"omitempty,dive"`
	Narration   string         `json:"narration,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
}

// HasImage сообщает, есть ли у панели иллюстрация.
func (p Panel) HasImage() bool {
	return p.ImageURL != ""
}

// StoryPage - упорядоченный контейнер панелей.
type StoryPage struct {
	PageNumber int     `json:"pageNumber"`
	Panels     []Panel `json:"panels" validate:"required,min=1,dive"`
}

// GeneratedStory - корневой агрегат сгенерированной истории.
type GeneratedStory struct {
	ID                  string      `json:"id"`
	Config              StoryConfig `json:"config"`
	Characters          []Character `json:"characters"`
	Pages               []StoryPage `json:"pages"`
	Title               string      `json:"title"`
	CreatedAt           time.Time   `json:"createdAt"`
	CoverImage          string      `json:"coverImage,omitempty"`
	CoverVideoURL       string      `json:"coverVideoUrl,omitempty"`
	CoverVideoRequestID string      `json:"coverVideoRequestId,omitempty"`
}

// PanelCount возвращает общее число панелей во всех страницах.
func (s *GeneratedStory) PanelCount() int {
	total := 0
	for _, page := range s.Pages {
		total += len(page.Panels)
	}
	return total
}

// FirstPanelImage возвращает первое изображение панели в порядке чтения
// (страницы по порядку, затем панели внутри страницы).
func (s *GeneratedStory) FirstPanelImage() string {
	for _, page := range s.Pages {
		for _, panel := range page.Panels {
			if panel.HasImage() {
				return panel.ImageURL
			}
		}
	}
	return ""
}

// CharacterNames возвращает имена персонажей истории в исходном порядке.
func (s *GeneratedStory) CharacterNames() []string {
	names := make([]string, 0, len(s.Characters))
	for _, c := range s.Characters {
		names = append(names, c.Name)
	}
	return names
}

// StoredStoryRecord - облегченная запись индекса историй.
type StoredStoryRecord struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	CreatedAt      time.Time   `json:"createdAt"`
	Config         StoryConfig `json:"config"`
	PageCount      int         `json:"pageCount"`
	PanelCount     int         `json:"panelCount"`
	CharacterCount int         `json:"characterCount"`
	Thumbnail      string      `json:"thumbnail,omitempty"`
	StorageSize    int64       `json:"storageSize"`
	HasCoverVideo  bool        `json:"hasCoverVideo"`
}

// NewStoredStoryRecord строит запись индекса по истории и размеру ее сериализованного тела.
func NewStoredStoryRecord(story *GeneratedStory, size int64) StoredStoryRecord {
	return StoredStoryRecord{
		ID:             story.ID,
		Title:          story.Title,
		CreatedAt:      story.CreatedAt,
		Config:         story.Config,
		PageCount:      len(story.Pages),
		PanelCount:     story.PanelCount(),
		CharacterCount: len(story.Characters),
		Thumbnail:      story.FirstPanelImage(),
		StorageSize:    size,
		HasCoverVideo:  story.CoverVideoURL != "",
	}
}
