package relay

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcbridge/internal/domain"
)

func TestRenderPlayerList(t *testing.T) {
	n := RenderPlayerList(&domain.ListResponse{Count: 2, Max: 20, Players: []string{"Alice", "Bob"}})

	assert.Equal(t, "Players", n.Title)
	assert.Equal(t, "**2/20** players online.", n.Description)
	assert.Equal(t, domain.ColorBlue, n.Color)
	require.Len(t, n.Fields, 1)
	assert.Equal(t, "Alice\nBob", n.Fields[0].Value)
}

func TestRenderPlayerList_Empty(t *testing.T) {
	n := RenderPlayerList(&domain.ListResponse{Count: 0, Max: 20})

	assert.Equal(t, "**0/20** players online.", n.Description)
	assert.Empty(t, n.Fields)
}

func playerNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("player_%09d", i)
	}
	return names
}

func TestRenderPlayerList_SplitsLongLists(t *testing.T) {
	players := playerNames(100)
	n := RenderPlayerList(&domain.ListResponse{Count: 100, Max: 200, Players: players})

	require.Len(t, n.Fields, 2)
	assert.Equal(t, "Online players", n.Fields[0].Name)
	assert.Equal(t, "Online players (continued)", n.Fields[1].Name)

	var shown []string
	for _, f := range n.Fields {
		assert.LessOrEqual(t, len(f.Value), 1024)
		shown = append(shown, strings.Split(f.Value, "\n")...)
	}
	assert.Equal(t, players, shown)
}

func TestRenderPlayerList_CountsOverflow(t *testing.T) {
	n := RenderPlayerList(&domain.ListResponse{Count: 1000, Max: 1000, Players: playerNames(1000)})

	require.Len(t, n.Fields, maxListFields)
	shown := 0
	for _, f := range n.Fields {
		assert.LessOrEqual(t, len(f.Value), 1024)
		shown += len(strings.Split(f.Value, "\n"))
	}

	last := strings.Split(n.Fields[maxListFields-1].Value, "\n")
	tail := last[len(last)-1]
	require.True(t, strings.HasPrefix(tail, "...and "), tail)
	hidden, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(tail, "...and "), " more"))
	require.NoError(t, err)
	assert.Equal(t, 1000, shown-1+hidden)
}

func TestRenderPlayerList_TruncatesLongNames(t *testing.T) {
	n := RenderPlayerList(&domain.ListResponse{Count: 1, Max: 1, Players: []string{strings.Repeat("x", 2000)}})

	require.Len(t, n.Fields, 1)
	assert.Equal(t, strings.Repeat("x", maxNameLen)+"...", n.Fields[0].Value)
}

func TestRenderTPS(t *testing.T) {
	n := RenderTPS(&domain.TPSResponse{Dimensions: map[string]float64{
		"minecraft:the_nether": 19.5,
		"minecraft:overworld":  20,
		"minecraft:the_end":    18.333,
	}})

	assert.Equal(t, domain.ColorPurple, n.Color)
	require.Len(t, n.Fields, 3)
	assert.Equal(t, domain.NotificationField{Name: "Minecraft:Overworld", Value: "`20.00` TPS", Inline: true}, n.Fields[0])
	assert.Equal(t, domain.NotificationField{Name: "Minecraft:The End", Value: "`18.33` TPS", Inline: true}, n.Fields[1])
	assert.Equal(t, domain.NotificationField{Name: "Minecraft:The Nether", Value: "`19.50` TPS", Inline: true}, n.Fields[2])
}

func TestRenderTPS_CapsFields(t *testing.T) {
	dims := map[string]float64{}
	for i := range 30 {
		dims[fmt.Sprintf("mod:dim_%02d", i)] = 20
	}
	n := RenderTPS(&domain.TPSResponse{Dimensions: dims})

	require.Len(t, n.Fields, 25)
	assert.Equal(t, "Mod:Dim 00", n.Fields[0].Name)
	assert.Equal(t, domain.NotificationField{Name: "Other dimensions", Value: "6 more", Inline: true}, n.Fields[24])
}

func TestDimensionTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"minecraft:overworld", "Minecraft:Overworld"},
		{"minecraft:the_nether", "Minecraft:The Nether"},
		{"MODDED:DEEP_dark", "Modded:Deep Dark"},
		{"twilightforest:twilight_forest", "Twilightforest:Twilight Forest"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DimensionTitle(tt.in))
		})
	}
}

func TestFaceURL(t *testing.T) {
	assert.Equal(t, "https://api.mineatar.io/face/abc", faceURL(DefaultAvatarBase, "abc"))
	assert.Equal(t, "https://x.test/abc", faceURL("https://x.test", "abc"))
	assert.Empty(t, faceURL(DefaultAvatarBase, ""))
}
