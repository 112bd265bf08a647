package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run", "tools", "validate", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestBuiltinDescriptorsCoverEveryTier(t *testing.T) {
	tiers := map[string]bool{}
	for _, d := range builtinDescriptors() {
		tiers[string(d.Tier)] = true
	}
	for _, tier := range []string{"safe", "sensitive", "dangerous"} {
		if !tiers[tier] {
			t.Fatalf("expected a built-in tool at tier %q", tier)
		}
	}
}
