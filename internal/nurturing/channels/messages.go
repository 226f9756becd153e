package channels

import "strings"

var textTemplates = map[string]string{
	"no_answer_1":  "Bonjour {name}, nous avons essayé de vous joindre au sujet de votre projet de formation. Quand pouvons-nous vous rappeler ?",
	"new_sessions": "Bonjour {name}, de nouvelles sessions de formation sont ouvertes. Répondez OUI pour être rappelé(e).",
}

const defaultText = "Bonjour {name}, nous restons disponibles pour échanger sur votre projet de formation."

func renderText(template, name string) string {
	text, ok := textTemplates[template]
	if !ok {
		text = defaultText
	}
	if name == "" {
		return strings.Replace(text, " {name}", "", 1)
	}
	return strings.ReplaceAll(text, "{name}", name)
}
