package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithFlags(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/hark.jsonc", "--project", "acme", "record", "--profile", "original"})
	require.NoError(t, err)
	require.Equal(t, CommandRecord, parsed.Command)
	require.Equal(t, "/tmp/hark.jsonc", parsed.ConfigPath)
	require.Equal(t, "acme", parsed.Project)
	require.Equal(t, "original", parsed.Profile)
	require.False(t, parsed.ShowHelp)
}

func TestParseSpeakJoinsText(t *testing.T) {
	parsed, err := Parse([]string{"speak", "--voice", "narrator", "Tell", "me", "about", "your", "week"})
	require.NoError(t, err)
	require.Equal(t, CommandSpeak, parsed.Command)
	require.Equal(t, "Tell me about your week", parsed.Text)
	require.Equal(t, "narrator", parsed.VoiceID)

	parsed, err = Parse([]string{"speak", "--", "--not-a-flag"})
	require.NoError(t, err)
	require.Equal(t, "--not-a-flag", parsed.Text)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantHelp bool
		wantPath string
	}{
		{name: "help short flag", args: []string{"-h"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "help long flag", args: []string{"--help"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "version flag", args: []string{"--version"}, wantCmd: CommandVersion},
		{name: "config after command", args: []string{"status", "--config", "/tmp/cfg"}, wantCmd: CommandStatus, wantPath: "/tmp/cfg"},
		{name: "missing config path", args: []string{"--config"}, wantErr: "requires a value"},
		{name: "empty project", args: []string{"--project", " ", "record"}, wantErr: "requires a value"},
		{name: "unknown flag", args: []string{"--bogus"}, wantErr: "unknown flag"},
		{name: "unknown command", args: []string{"bogus"}, wantErr: "unknown command"},
		{name: "extra args after command", args: []string{"doctor", "extra"}, wantErr: "unexpected arguments"},
		{name: "speak without text", args: []string{"speak"}, wantErr: "speak requires text"},
		{name: "valid cleanup", args: []string{"cleanup"}, wantCmd: CommandCleanup},
		{name: "valid serve", args: []string{"serve"}, wantCmd: CommandServe},
		{name: "valid stop with config", args: []string{"--config", "/tmp/cfg", "stop"}, wantCmd: CommandStop, wantPath: "/tmp/cfg"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
		})
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("hark")
	for _, want := range []string{"record", "listen", "cleanup", "speak", "serve", "doctor", "--config PATH", "--profile NAME"} {
		require.Contains(t, text, want)
	}
}
