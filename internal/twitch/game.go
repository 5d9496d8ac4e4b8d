package twitch

import (
	"regexp"
	"strings"
)

// GameData is the GQL payload shape for a game object as it appears inside
// campaign, directory and stream payloads. Different operations populate
// different subsets of the fields.
type GameData struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Slug        string `json:"slug"`
	BoxArtURL   string `json:"boxArtURL"`
}

// Game is a directory category. Identity is the numeric id; two values with
// the same id are the same game regardless of which payload produced them.
// Immutable after construction.
type Game struct {
	ID        int64
	Name      string
	Slug      string
	BoxArtURL string
}

// NewGame builds a Game from payload data, deriving the directory slug from
// the name when the payload doesn't carry one.
func NewGame(data GameData) *Game {
	name := data.DisplayName
	if name == "" {
		name = data.Name
	}
	slug := data.Slug
	if slug == "" {
		slug = makeSlug(name)
	}
	return &Game{
		ID:        data.ID.Int64(),
		Name:      name,
		Slug:      slug,
		BoxArtURL: data.BoxArtURL,
	}
}

var nonSlugRuns = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// makeSlug mirrors how the directory derives a slug from a game name:
// lowercase, every run of non-alphanumeric characters becomes a single
// dash, leading and trailing dashes trimmed. Idempotent on its output.
func makeSlug(name string) string {
	return strings.Trim(nonSlugRuns.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// Equal reports whether both games are non-nil and share an id.
func (g *Game) Equal(other *Game) bool {
	return g != nil && other != nil && g.ID == other.ID
}

func (g *Game) String() string {
	if g == nil {
		return "<none>"
	}
	return g.Name
}
