package models

import (
	"strings"
	"time"
)

// Character - персонаж истории.
// GeneratedDesignImage (data URI) является каноническим визуальным образцом:
// если он задан, все последующие иллюстрации используют его вместо загруженного фото.
type Character struct {
	ID                   string `json:"id"`
	Name                 string `json:"name" validate:"required,max=100"`
	Description          string `json:"description,omitempty"`
	Personality          string `json:"personality,omitempty"`
	Appearance           string `json:"appearance,omitempty"`
	Role                 string `json:"role,omitempty"`
	ImageData            []byte `json:"imageData,omitempty"`
	ImageMimeType        string `json:"imageMimeType,omitempty" validate:"required_with=ImageData"`
	Approved             bool   `json:"approved,omitempty"`
	GeneratedDesignImage string `json:"generatedDesignImage,omitempty"`
}

// HasUploadedImage сообщает, загрузил ли пользователь фото персонажа.
func (c Character) HasUploadedImage() bool {
	return len(c.ImageData) > 0
}

// HasDesign сообщает, есть ли у персонажа сгенерированный дизайн.
func (c Character) HasDesign() bool {
	return c.GeneratedDesignImage != ""
}

// HasVisualReference - есть ли у персонажа хоть какой-то визуальный образец.
func (c Character) HasVisualReference() bool {
	return c.HasDesign() || c.HasUploadedImage()
}

// NeedsDescription - персонаж без описания и без загруженного фото.
func (c Character) NeedsDescription() bool {
	return strings.TrimSpace(c.Description) == "" && !c.HasUploadedImage()
}

// VisualReference возвращает изображение, которым нужно обуславливать генерацию:
// сначала дизайн, затем загруженное фото. ok=false, если образца нет
// или дизайн не удалось декодировать и фото отсутствует.
func (c Character) VisualReference() (data []byte, mimeType string, ok bool) {
	if c.HasDesign() {
		if mime, raw, err := DecodeDataURI(c.GeneratedDesignImage); err == nil {
			return raw, mime, true
		}
	}
	if c.HasUploadedImage() {
		mime := c.ImageMimeType
		if mime == "" {
			mime = "image/png"
		}
		return c.ImageData, mime, true
	}
	return nil, "", false
}

// SameName сравнивает имя персонажа без учета регистра и крайних пробелов.
func (c Character) SameName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(name))
}

// StoredCharacterRecord - проекция персонажа в кэше с полями для ранжирования.
type StoredCharacterRecord struct {
	Character
	CreatedAt  time.Time `json:"createdAt"`
	LastUsed   time.Time `json:"lastUsed"`
	UsageCount int       `json:"usageCount"`
}

// FindCharacter ищет персонажа по имени без учета регистра.
func FindCharacter(characters []Character, name string) (Character, bool) {
	for _, c := range characters {
		if c.SameName(name) {
			return c, true
		}
	}
	return Character{}, false
}
