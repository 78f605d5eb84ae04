package relay

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"mcbridge/internal/domain"
)

// DefaultAvatarBase serves a player's face by uuid.
const DefaultAvatarBase = "https://api.mineatar.io/face/"

func faceURL(base, uuid string) string {
	if uuid == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + uuid
}

func serverStartedNotification() domain.Notification {
	return domain.Notification{
		Description: "✅ **The server has started!**",
		Color:       domain.ColorGreen,
	}
}

func serverStoppedNotification() domain.Notification {
	return domain.Notification{
		Description: "🛑 **The server has stopped!**",
		Color:       domain.ColorRed,
	}
}

func joinNotification(player, icon string) domain.Notification {
	return domain.Notification{
		Color:      domain.ColorGreen,
		AuthorName: fmt.Sprintf("%s joined the server.", player),
		AuthorIcon: icon,
	}
}

func leaveNotification(player, icon string) domain.Notification {
	return domain.Notification{
		Color:      domain.ColorRed,
		AuthorName: fmt.Sprintf("%s left the server.", player),
		AuthorIcon: icon,
	}
}

// deathNotification uses the game's pre-formatted message, which already
// names the player.
func deathNotification(message, icon string) domain.Notification {
	return domain.Notification{
		Color:      domain.ColorDarkRed,
		AuthorName: message,
		AuthorIcon: icon,
	}
}

// Embed limits enforced by Discord.
const (
	maxFieldValue  = 1024
	maxEmbedFields = 25
	maxListFields  = 4
	maxNameLen     = 64
)

// RenderPlayerList renders a list_response. Names are split across fields
// that fit Discord's field size; past maxListFields the rest are counted.
func RenderPlayerList(resp *domain.ListResponse) domain.Notification {
	n := domain.Notification{
		Title:       "Players",
		Description: fmt.Sprintf("**%d/%d** players online.", resp.Count, resp.Max),
		Color:       domain.ColorBlue,
	}
	for i, chunk := range chunkPlayers(resp.Players) {
		name := "Online players"
		if i > 0 {
			name = "Online players (continued)"
		}
		n.Fields = append(n.Fields, domain.NotificationField{
			Name:  name,
			Value: strings.Join(chunk, "\n"),
		})
	}
	return n
}

func chunkPlayers(players []string) [][]string {
	var chunks [][]string
	var cur []string
	for _, p := range players {
		p = truncate(p, maxNameLen)
		if len(cur) > 0 && joinedLen(cur)+1+len(p) > maxFieldValue {
			chunks = append(chunks, cur)
			cur = nil
		}
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	if len(chunks) <= maxListFields {
		return chunks
	}

	hidden := 0
	for _, c := range chunks[maxListFields:] {
		hidden += len(c)
	}
	chunks = chunks[:maxListFields]
	last := chunks[maxListFields-1]
	more := fmt.Sprintf("...and %d more", hidden)
	for len(last) > 0 && joinedLen(last)+1+len(more) > maxFieldValue {
		last = last[:len(last)-1]
		hidden++
		more = fmt.Sprintf("...and %d more", hidden)
	}
	chunks[maxListFields-1] = append(last, more)
	return chunks
}

func joinedLen(names []string) int {
	if len(names) == 0 {
		return 0
	}
	n := len(names) - 1
	for _, s := range names {
		n += len(s)
	}
	return n
}

// RenderTPS renders a tps_response with one inline field per dimension,
// ordered by dimension id. Dimensions past the embed field limit are
// summarized in a final field.
func RenderTPS(resp *domain.TPSResponse) domain.Notification {
	n := domain.Notification{
		Title: "Server TPS (Ticks Per Second)",
		Color: domain.ColorPurple,
	}
	dims := slices.Sorted(maps.Keys(resp.Dimensions))
	var rest int
	if len(dims) > maxEmbedFields {
		rest = len(dims) - (maxEmbedFields - 1)
		dims = dims[:maxEmbedFields-1]
	}
	for _, dim := range dims {
		n.Fields = append(n.Fields, domain.NotificationField{
			Name:   DimensionTitle(dim),
			Value:  fmt.Sprintf("`%.2f` TPS", resp.Dimensions[dim]),
			Inline: true,
		})
	}
	if rest > 0 {
		n.Fields = append(n.Fields, domain.NotificationField{
			Name:   "Other dimensions",
			Value:  fmt.Sprintf("%d more", rest),
			Inline: true,
		})
	}
	return n
}

// DimensionTitle turns "minecraft:the_nether" into "Minecraft:The Nether".
func DimensionTitle(dim string) string {
	words := strings.Fields(strings.ReplaceAll(dim, "_", " "))
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

// titleWord capitalizes the first letter after every non-letter, like
// "minecraft:the" -> "Minecraft:The".
func titleWord(w string) string {
	var b strings.Builder
	upper := true
	for _, r := range w {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		switch {
		case isLetter && upper:
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
		case isLetter:
			b.WriteString(strings.ToLower(string(r)))
		default:
			b.WriteRune(r)
			upper = true
		}
	}
	return b.String()
}
