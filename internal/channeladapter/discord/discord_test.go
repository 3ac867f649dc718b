package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestResolveDisplayNamePrefersGuildNickname(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Member: &discordgo.Member{Nick: "nicky"},
		Author: &discordgo.User{Username: "realname", GlobalName: "global"},
	}}
	if got := resolveDisplayName(m); got != "nicky" {
		t.Errorf("resolveDisplayName() = %q, want nicky", got)
	}
}

func TestResolveDisplayNameFallsBackToGlobalName(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{Username: "realname", GlobalName: "global"},
	}}
	if got := resolveDisplayName(m); got != "global" {
		t.Errorf("resolveDisplayName() = %q, want global", got)
	}
}

func TestResolveDisplayNameFallsBackToUsername(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{Username: "realname"},
	}}
	if got := resolveDisplayName(m); got != "realname" {
		t.Errorf("resolveDisplayName() = %q, want realname", got)
	}
}

func TestTruncateLeavesShortTextUnchanged(t *testing.T) {
	if got := truncate("short", 2000); got != "short" {
		t.Errorf("truncate() = %q, want unchanged", got)
	}
}

func TestTruncateCutsAtNewlineNearLimit(t *testing.T) {
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	got := truncate(text, 15)
	if got != strings.Repeat("a", 10) {
		t.Errorf("truncate() = %q, want cut at the newline", got)
	}
}

func TestTruncateHardCutsWhenNoNewlineNearLimit(t *testing.T) {
	text := strings.Repeat("a", 20)
	got := truncate(text, 10)
	if len(got) != 10 {
		t.Errorf("truncate() length = %d, want 10", len(got))
	}
}
