package assistant

import "strings"

// Language is a supported reply language.
type Language string

const (
	English Language = "english"
	Pidgin  Language = "pidgin"
	Yoruba  Language = "yoruba"
	Hausa   Language = "hausa"
	Igbo    Language = "igbo"
)

// ParseLanguage maps a request's language field to a Language. Matching is
// case-insensitive; anything unrecognised answers in English.
func ParseLanguage(s string) Language {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case Pidgin, Yoruba, Hausa, Igbo:
		return l
	default:
		return English
	}
}

// persona is the system instruction and reply opener for one language. The
// opener is sent as the start of the assistant turn so small models stay in
// the target language from the first word.
type persona struct {
	instruction string
	starter     string
}

var personas = map[Language]persona{
	Pidgin: {
		instruction: `Act like a street guy from Lagos.
Translate the [Legal Context] into pure Nigerian Pidgin English.
Do NOT use Yoruba words (like 'naa', 'ni', 'wipe').
Use 'na', 'dey', 'we', 'dem'.`,
		starter: "My guy, dis law talk say",
	},
	Yoruba: {
		instruction: `Translate the main idea of the [Legal Context] into very simple Yoruba.
Do not use big legal words.`,
		starter: "Ofin yii sọ ni ṣókí pé",
	},
	Hausa: {
		instruction: `Translate the main idea of the [Legal Context] into very simple Hausa.`,
		starter:     "Wannan dokar ta ce",
	},
	Igbo: {
		instruction: `Translate the main idea of the [Legal Context] into simple Igbo.
Use 'Usoro Iwu' for Constitution.
Use 'kachasị elu' for Supreme.`,
		starter: "Usoro Iwu a kwuru na",
	},
	English: {
		instruction: `You are a Nigerian legal assistant.
Explain the [Legal Context] simply.`,
		starter: "Basically, the law states that",
	},
}
