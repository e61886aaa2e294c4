package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRecord  Command = "record"
	CommandListen  Command = "listen"
	CommandStop    Command = "stop"
	CommandCleanup Command = "cleanup"
	CommandStatus  Command = "status"
	CommandSpeak   Command = "speak"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandServe   Command = "serve"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRecord:  {},
	CommandListen:  {},
	CommandStop:    {},
	CommandCleanup: {},
	CommandStatus:  {},
	CommandSpeak:   {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandServe:   {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	Project    string
	Profile    string
	VoiceID    string
	// Text is the speak command's utterance.
	Text     string
	ShowHelp bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	var positional []string
	haveCommand := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config", "--project", "--profile", "--voice":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return Parsed{}, fmt.Errorf("%s requires a value", arg)
			}
			switch arg {
			case "--config":
				parsed.ConfigPath = args[i]
			case "--project":
				parsed.Project = args[i]
			case "--profile":
				parsed.Profile = args[i]
			case "--voice":
				parsed.VoiceID = args[i]
			}
		case "--":
			positional = append(positional, args[i+1:]...)
			i = len(args)
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}
			if haveCommand {
				positional = append(positional, arg)
				continue
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			haveCommand = true
		}
	}

	if parsed.Command == CommandSpeak {
		parsed.Text = strings.TrimSpace(strings.Join(positional, " "))
		if parsed.Text == "" {
			return Parsed{}, errors.New("speak requires text")
		}
		return parsed, nil
	}
	if len(positional) > 0 {
		return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
	}
	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [flags] <command> [args]

Commands:
  record    Record one answer, upload it, and print the transcript
  listen    Record under the listen profile and print the transcript
  stop      Stop the active recording (keeps the transcript)
  cleanup   Tear down any recording or pending device request
  status    Print current state
  speak     Speak TEXT through the backend's text-to-speech
  devices   List available input devices
  doctor    Run configuration and environment checks
  serve     Run the HTTP control surface for the interview console
  version   Print version information
  help      Show this help

Flags:
  --config PATH    Config file path (default: $XDG_CONFIG_HOME/hark/config.jsonc)
  --project NAME   Project name sent with uploads
  --profile NAME   VAD profile for record (interactive|original)
  --voice ID       Voice for speak
  -h, --help       Show help
  --version        Show version
`, binaryName)
}
