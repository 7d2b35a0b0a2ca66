package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "SessionNotFound")
	if got != "Session not found." {
		t.Errorf("T(SessionNotFound) = %q, want 'Session not found.'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "SessionNotFound")
	if got != "Сессия не найдена." {
		t.Errorf("T(SessionNotFound) = %q, want 'Сессия не найдена.'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	tests := []struct {
		lang  string
		count int
		want  string
	}{
		{"en", 1, "1 question is unanswered."},
		{"en", 5, "5 questions are unanswered."},
		{"ru", 1, "1 вопрос без ответа."},
		{"ru", 3, "3 вопроса без ответа."},
		{"ru", 7, "7 вопросов без ответа."},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := Tp(ctx, "Unanswered", tt.count); got != tt.want {
				t.Errorf("Tp(Unanswered, %d) = %q, want %q", tt.count, got, tt.want)
			}
		})
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "InvalidPhase", map[string]any{"Phase": "grading"})
	if got != "This action is not available while the session is in the grading phase." {
		t.Errorf("Td(InvalidPhase) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestLocalizerWithoutContext(t *testing.T) {
	if err := Init("ru"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := T(context.Background(), "SessionNotFound"); got != "Сессия не найдена." {
		t.Errorf("expected default language, got %q", got)
	}
}

func TestLanguages(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if n := len(Languages()); n != 2 {
		t.Errorf("expected 2 languages, got %d", n)
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "SessionNotFound")
	}))

	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{"default", "/", "", "Session not found."},
		{"accept header", "/", "ru-RU,ru;q=0.9,en;q=0.8", "Сессия не найдена."},
		{"query wins", "/?lang=en", "ru", "Session not found."},
		{"unsupported", "/", "fr", "Session not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
