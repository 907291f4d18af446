package rooms

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/eldtechnologies/observatory/internal/models"
)

const (
	maxAgents       = 50
	maxCapabilities = 20
	defaultAvatar   = "🤖"
	defaultColor    = "#94a3b8"
)

var (
	colorRegex   = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	nonSlugRegex = regexp.MustCompile(`[^a-z0-9]+`)
)

// AgentInput is an agent as submitted by the self-serve setup form.
type AgentInput struct {
	Name         string   `json:"name"`
	Avatar       string   `json:"avatar"`
	Color        string   `json:"color"`
	Role         string   `json:"role"`
	Soul         string   `json:"soul"`
	Capabilities []string `json:"capabilities"`
}

// Slugify turns a display name into an identifier: lowercase, runs of
// anything outside a-z0-9 collapsed to a hyphen, at most 32 chars.
func Slugify(name string) string {
	slug := nonSlugRegex.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 32 {
		slug = strings.TrimRight(slug[:32], "-")
	}
	return slug
}

// CleanAgents sanitizes a submitted roster. Agents without a name are
// dropped; at least one must remain.
func CleanAgents(in []AgentInput) ([]models.AgentConfig, error) {
	if len(in) == 0 || len(in) > maxAgents {
		return nil, &ValidationError{Field: "agents", Reason: fmt.Sprintf("provide 1-%d agents", maxAgents)}
	}

	out := make([]models.AgentConfig, 0, len(in))
	for _, a := range in {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}

		id := Slugify(name)
		if id == "" {
			id = fmt.Sprintf("agent-%d", len(out)+1)
		}

		avatar := truncateRunes(strings.TrimSpace(a.Avatar), 8)
		if avatar == "" {
			avatar = defaultAvatar
		}

		color := a.Color
		if !colorRegex.MatchString(color) {
			color = defaultColor
		}

		var caps []string
		for _, c := range a.Capabilities {
			if c = strings.TrimSpace(c); c != "" {
				caps = append(caps, c)
			}
			if len(caps) == maxCapabilities {
				break
			}
		}

		out = append(out, models.AgentConfig{
			ID:           id,
			Name:         name,
			Avatar:       avatar,
			Color:        color,
			Role:         truncateRunes(strings.TrimSpace(a.Role), 50),
			Soul:         truncateRunes(strings.TrimSpace(a.Soul), 500),
			Capabilities: caps,
		})
	}

	if len(out) == 0 {
		return nil, &ValidationError{Field: "agents", Reason: "at least one agent must have a name"}
	}
	return out, nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
