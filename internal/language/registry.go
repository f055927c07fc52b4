package language

// Language is a selectable UI/response language. Code doubles as the locale
// tag handed to the speech recognizer.
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"native_name"`
}

// Label is what the language picker shows.
func (l Language) Label() string {
	if l.NativeName == "" || l.NativeName == l.Name {
		return l.Name
	}
	return l.Name + " (" + l.NativeName + ")"
}

var languages = []Language{
	{Code: "en-IN", Name: "English", NativeName: "English"},
	{Code: "hi-IN", Name: "Hindi", NativeName: "हिन्दी"},
	{Code: "mr-IN", Name: "Marathi", NativeName: "मराठी"},
	{Code: "bn-IN", Name: "Bengali", NativeName: "বাংলা"},
	{Code: "ta-IN", Name: "Tamil", NativeName: "தமிழ்"},
	{Code: "te-IN", Name: "Telugu", NativeName: "తెలుగు"},
	{Code: "gu-IN", Name: "Gujarati", NativeName: "ગુજરાતી"},
	{Code: "kn-IN", Name: "Kannada", NativeName: "ಕನ್ನಡ"},
	{Code: "pa-IN", Name: "Punjabi", NativeName: "ਪੰਜਾਬੀ"},
}

var byCode = func() map[string]Language {
	m := make(map[string]Language, len(languages))
	for _, l := range languages {
		if _, dup := m[l.Code]; dup {
			panic("language: duplicate code " + l.Code)
		}
		m[l.Code] = l
	}
	return m
}()

// All returns the registry in picker order.
func All() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// Default is the first registered language.
func Default() Language {
	return languages[0]
}

// Lookup finds a language by its locale code.
func Lookup(code string) (Language, bool) {
	l, ok := byCode[code]
	return l, ok
}
