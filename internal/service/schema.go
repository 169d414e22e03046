package service

import "google.golang.org/genai"

func stringSchema(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description}
}

// characterProfilesSchema - массив профилей персонажей.
func characterProfilesSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"name":        stringSchema("character name exactly as given"),
				"personality": stringSchema("short personality summary"),
				"appearance":  stringSchema("concrete visual appearance"),
				"role":        stringSchema("role in the story"),
				"description": stringSchema("one or two sentence description"),
			},
			Required: []string{"name", "personality", "appearance", "role", "description"},
		},
	}
}

// storyStructureSchema - заголовок и страницы по 2-3 панели.
func storyStructureSchema(pageCount int) *genai.Schema {
	dialogue := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"character": stringSchema("speaking character name"),
			"text":      stringSchema("spoken line"),
		},
		Required: []string{"character", "text"},
	}
	panel := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"id":          stringSchema("unique panel id"),
			"description": stringSchema("visual scene description"),
			"characters": {
				Type:  genai.TypeArray,
				Items: stringSchema("character name"),
			},
			"dialogue":  {Type: genai.TypeArray, Items: dialogue},
			"narration": stringSchema("optional narration"),
		},
		Required: []string{"id", "description", "characters"},
	}
	page := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"pageNumber": {Type: genai.TypeInteger},
			"panels": {
				Type:     genai.TypeArray,
				Items:    panel,
				MinItems: genai.Ptr[int64](2),
				MaxItems: genai.Ptr[int64](3),
			},
		},
		Required: []string{"pageNumber", "panels"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title": stringSchema("story title"),
			"pages": {
				Type:     genai.TypeArray,
				Items:    page,
				MinItems: genai.Ptr(int64(pageCount)),
				MaxItems: genai.Ptr(int64(pageCount)),
			},
		},
		Required: []string{"title", "pages"},
	}
}
