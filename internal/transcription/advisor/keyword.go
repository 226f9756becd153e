package advisor

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type rule struct {
	kind     Kind
	title    string
	body     string
	keywords []string
}

// Order matters: negated forms ("pas interesse") come before the positive
// phrase they contain.
var defaultRules = []rule{
	{
		kind:     KindObjection,
		title:    "Objection prix",
		body:     "Rappelez les financements possibles (CPF, OPCO, France Travail) et proposez un paiement en plusieurs fois.",
		keywords: []string{"trop cher", "cher", "prix", "cout", "budget", "expensive", "price", "too much"},
	},
	{
		kind:     KindObjection,
		title:    "Objection disponibilité",
		body:     "Proposez les sessions du soir, du week-end ou à distance.",
		keywords: []string{"pas le temps", "pas de temps", "trop occupe", "debordé", "no time", "too busy"},
	},
	{
		kind:     KindObjection,
		title:    "Question de financement",
		body:     "Expliquez la prise en charge CPF ou OPCO et proposez de vérifier les droits ensemble.",
		keywords: []string{"cpf", "financement", "financer", "prise en charge", "funding"},
	},
	{
		kind:     KindObjection,
		title:    "Désintérêt",
		body:     "Demandez ce qui a changé depuis la demande et proposez une documentation par email.",
		keywords: []string{"pas interesse", "plus interesse", "not interested", "ne m interesse pas"},
	},
	{
		kind:     KindObjection,
		title:    "Besoin de réflexion",
		body:     "Proposez un rappel à une date précise plutôt qu'un rappel ouvert.",
		keywords: []string{"reflechir", "j y pense", "think about it"},
	},
	{
		kind:     KindPositiveSignal,
		title:    "Signal d'inscription",
		body:     "Proposez de fixer un rendez-vous pour finaliser l'inscription.",
		keywords: []string{"inscription", "m inscrire", "inscrire", "quand commence", "prochaine session", "sign up", "when does it start"},
	},
	{
		kind:     KindPositiveSignal,
		title:    "Intérêt confirmé",
		body:     "Validez le projet et le calendrier, puis proposez un rendez-vous.",
		keywords: []string{"interesse", "ca m interesse", "interested", "ca me plait"},
	},
}

// KeywordAnalyzer matches the newest segment against a fixed French and
// English phrase table. It never fails.
type KeywordAnalyzer struct {
	rules []rule
}

// NewKeywordAnalyzer returns the default rule table.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	rules := make([]rule, len(defaultRules))
	for i, r := range defaultRules {
		r.keywords = normalizeAll(r.keywords)
		rules[i] = r
	}
	return &KeywordAnalyzer{rules: rules}
}

func (k *KeywordAnalyzer) Analyze(_ context.Context, in Input) (*Suggestion, error) {
	text := " " + normalize(in.Segment) + " "
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	for _, r := range k.rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, " "+kw+" ") {
				return &Suggestion{Kind: r.kind, Title: r.title, Body: r.body}, nil
			}
		}
	}
	return nil, nil
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalize lowercases, strips accents and reduces punctuation to single
// spaces so matching works on whole words.
func normalize(s string) string {
	folded, _, err := transform.String(foldAccents, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
